// Package render writes fulfillment records as order-entry XML documents for
// the plant's ERP import.
package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/util"
	"github.com/shopspring/decimal"
)

const (
	jobsComment      = "Generated from customer order entry "
	movementsComment = "Generated from S-W Order Entry Interface "
)

type orderList struct {
	XMLName xml.Name `xml:"orders"`
	Orders  []order  `xml:"order"`
}

type order struct {
	Signal string      `xml:"signal,attr"`
	Plant  string      `xml:"plant,attr"`
	Header orderHeader `xml:"header"`
	Lines  []orderLine `xml:"lines>line"`
}

type orderHeader struct {
	OrderCustomer    orderCustomer    `xml:"order-customer"`
	InvoiceCustomer  party            `xml:"invoice-customer"`
	DeliveryCustomer deliveryCustomer `xml:"delivery-customer"`
	RequestOptions   requestOptions   `xml:"request-options"`
}

type orderCustomer struct {
	Code    string `xml:"code,attr"`
	Address string `xml:"address,attr"`
	PO      string `xml:"po"`
	RO      string `xml:"ro,omitempty"`
}

type party struct {
	Code    string `xml:"code,attr,omitempty"`
	Address string `xml:"address,attr"`
}

type deliveryCustomer struct {
	Code    string         `xml:"code,attr,omitempty"`
	Address string         `xml:"address,attr"`
	Date    string         `xml:"date,attr"`
	Method  deliveryMethod `xml:"delivery-method"`
}

type deliveryMethod struct {
	Code    string  `xml:"code,attr"`
	Freight freight `xml:"freight"`
}

type freight struct {
	Prepaid *struct{} `xml:"prepaid"`
	Collect *struct{} `xml:"collect"`
}

type requestOptions struct {
	POReceived string `xml:"po-received,attr"`
	CRIF       string `xml:"crif,attr"`
	CRIFShip   string `xml:"crif-ship,attr,omitempty"`
}

type orderLine struct {
	Quantity int64      `xml:"quantity,attr"`
	RunType  string     `xml:"run-type,attr"`
	Option   lineOption `xml:"option"`
	Item     lineItem   `xml:"item"`
}

type lineOption struct {
	BookStockJob     *priceTerms `xml:"book-stock-job"`
	FailIfStockShort *jobTerms   `xml:"fail-if-insufficient-stock"`
	FailIfWIPShort   *jobTerms   `xml:"fail-if-insufficient-wip"`
}

type priceTerms struct {
	Price    string `xml:"price,attr"`
	PriceQty int    `xml:"price-qty,attr"`
}

type jobTerms struct {
	JobNumber string `xml:"job-number,attr"`
	Price     string `xml:"price,attr"`
	PriceQty  int    `xml:"price-qty,attr"`
}

type lineItem struct {
	CustomerReference string `xml:"customer-reference-number,omitempty"`
	ItemCode          string `xml:"item-code,omitempty"`
}

// Builder turns records into orders using the [output] constants.
type Builder struct {
	cfg      config.OutputConfig
	location *time.Location
}

// NewBuilder creates a builder. Dates are written in loc.
func NewBuilder(cfg config.OutputConfig, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{cfg: cfg, location: loc}
}

// jobOrder builds the order for a rush or stock job.
func (b *Builder) jobOrder(rec models.FulfillmentRecord, now time.Time) (order, error) {
	now = now.In(b.location)
	lead := now.AddDate(0, 0, b.cfg.StockLeadDays)

	var (
		po       string
		price    decimal.Decimal
		delivery time.Time
	)
	switch v := rec.(type) {
	case *models.RushJob:
		po, price, delivery = v.GeneratedPO, v.Price, v.DueDate
		if delivery.IsZero() {
			delivery = lead
		}
	case *models.StockJob:
		po, price, delivery = v.GeneratedPO, v.Price, lead
	default:
		return order{}, fmt.Errorf("record kind %s is not a job", rec.Kind())
	}

	return order{
		Signal: "submit",
		Plant:  b.cfg.Plant,
		Header: orderHeader{
			OrderCustomer:   orderCustomer{Code: b.cfg.CustomerCode, Address: b.cfg.BaseAddress, PO: po},
			InvoiceCustomer: party{Address: b.cfg.BaseAddress},
			DeliveryCustomer: deliveryCustomer{
				Address: b.cfg.StockDeliveryAddress,
				Date:    delivery.Format(util.ShortUSDateFormat),
				Method:  deliveryMethod{Code: b.cfg.DeliveryMethod, Freight: freight{Prepaid: &struct{}{}}},
			},
			RequestOptions: requestOptions{
				POReceived: now.Format(util.LongUSDateFormat),
				CRIF:       delivery.Format(util.ShortUSDateFormat),
				CRIFShip:   delivery.Format(util.ShortUSDateFormat),
			},
		},
		Lines: []orderLine{{
			Quantity: rec.Qty(),
			RunType:  "normal",
			Option: lineOption{BookStockJob: &priceTerms{
				Price:    b.price(price, b.cfg.JobPrice()).StringFixed(2),
				PriceQty: b.cfg.PriceQty,
			}},
			Item: lineItem{CustomerReference: rec.Part()},
		}},
	}, nil
}

// movementOrder builds the order for a movement.
func (b *Builder) movementOrder(m *models.Movement, now time.Time) order {
	now = now.In(b.location)
	delivery := m.DueDate
	if delivery.IsZero() {
		delivery = now
	}

	terms := &jobTerms{
		JobNumber: m.JobNumber,
		Price:     b.price(m.UnitPrice, b.cfg.MovementPrice()).Round(2).String(),
		PriceQty:  b.cfg.PriceQty,
	}
	var option lineOption
	if m.PullType == models.PullWorkInProgress {
		option.FailIfWIPShort = terms
	} else {
		option.FailIfStockShort = terms
	}

	return order{
		Signal: "submit",
		Plant:  b.cfg.Plant,
		Header: orderHeader{
			OrderCustomer:   orderCustomer{Code: b.cfg.CustomerCode, Address: b.cfg.BaseAddress, PO: m.SourcePO, RO: m.ReleaseOrder},
			InvoiceCustomer: party{Code: b.cfg.CustomerCode, Address: b.cfg.BaseAddress},
			DeliveryCustomer: deliveryCustomer{
				Code:    b.cfg.CustomerCode,
				Address: b.cfg.MovementDeliveryAddress,
				Date:    delivery.Format(util.LongUSDateFormat),
				Method:  deliveryMethod{Code: b.cfg.DeliveryMethod, Freight: freight{Collect: &struct{}{}}},
			},
			RequestOptions: requestOptions{
				POReceived: now.Format(util.LongUSDateFormat),
				CRIF:       now.Format(util.LongUSDateFormat),
			},
		},
		Lines: []orderLine{{
			Quantity: m.Quantity,
			RunType:  "normal",
			Option:   option,
			Item:     lineItem{ItemCode: m.ItemCode},
		}},
	}
}

// price scales a per-each price to the price quantity, falling back to the
// default when no positive price is known.
func (b *Builder) price(unit, fallback decimal.Decimal) decimal.Decimal {
	if unit.IsPositive() {
		return unit.Mul(decimal.NewFromInt(int64(b.cfg.PriceQty)))
	}
	return fallback
}

// encode writes the document with its XML declaration, DOCTYPE and comment.
func (b *Builder) encode(orders []order, comment string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<!DOCTYPE orders SYSTEM %q>\n\n", b.cfg.DTDURL)
	fmt.Fprintf(&buf, "<!--%s-->\n\n", comment)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "   ")
	if err := enc.Encode(orderList{Orders: orders}); err != nil {
		return nil, fmt.Errorf("encoding orders: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding orders: %w", err)
	}
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// JobsDocument renders rush and stock jobs, one order each.
func (b *Builder) JobsDocument(records []models.FulfillmentRecord, now time.Time) ([]byte, error) {
	orders := make([]order, 0, len(records))
	for _, rec := range records {
		o, err := b.jobOrder(rec, now)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return b.encode(orders, jobsComment)
}

// MovementsDocument renders movements, one order each.
func (b *Builder) MovementsDocument(movements []*models.Movement, now time.Time) ([]byte, error) {
	orders := make([]order, 0, len(movements))
	for _, m := range movements {
		orders = append(orders, b.movementOrder(m, now))
	}
	return b.encode(orders, movementsComment)
}
