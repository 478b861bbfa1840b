package reconcile

import (
	"fmt"

	"github.com/mccpackaging/vmibridge/internal/config"
	"github.com/mccpackaging/vmibridge/internal/models"
)

// PeriodFunc maps an order line to the forecast bucket it is compared against.
type PeriodFunc func(models.OrderLine) models.Period

// ByDueDate buckets a line by the month of its due date.
func ByDueDate(line models.OrderLine) models.Period {
	return models.PeriodOf(line.DueDate)
}

// ByReceivedDate buckets a line by the month its PO was received, falling back
// to the due date when the received date is unknown.
func ByReceivedDate(line models.OrderLine) models.Period {
	if line.ReceivedDate.IsZero() {
		return ByDueDate(line)
	}
	return models.PeriodOf(line.ReceivedDate)
}

// PeriodFuncFor returns the mapping selected by basis.
func PeriodFuncFor(basis config.PeriodBasis) (PeriodFunc, error) {
	switch basis {
	case "", config.PeriodBasisDueDate:
		return ByDueDate, nil
	case config.PeriodBasisReceivedDate:
		return ByReceivedDate, nil
	default:
		return nil, fmt.Errorf("unknown period basis %q", basis)
	}
}
