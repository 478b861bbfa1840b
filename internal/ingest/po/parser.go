// Package po reads the customer's fixed-width purchase-order transport files.
//
// Each non-blank line carries its record type at column 10: H opens a
// purchase order and supplies the received date, D is one detail line.
//
//	45FL907465H111925CLFDB
//	45FL907465D  1L-61370444-14        5500EA00000.1269011/19/2025  A
package po

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mccpackaging/vmibridge/internal/models"
	"github.com/mccpackaging/vmibridge/internal/util"
	"github.com/shopspring/decimal"
)

const (
	recordTypeCol   = 10
	minHeaderLength = 17
	minDetailLength = 50
)

var (
	quantityRe = regexp.MustCompile(`(\d+)EA`)
	priceRe    = regexp.MustCompile(`^(\d{5}\.\d{4,5})`)
	dueDateRe  = regexp.MustCompile(`0?(\d{1,2}/\d{1,2}/\d{4})`)
)

// ParseError describes one line that could not be read.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Header is an H record.
type Header struct {
	Site         string
	PONumber     string
	ReceivedDate time.Time
}

// Result holds the lines read from one file, in file order.
type Result struct {
	Source  string
	Headers []Header
	Lines   []models.OrderLine
	Errors  []*ParseError
}

// ParseFile reads path. Dates are interpreted in loc.
func ParseFile(path string, loc *time.Location) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PO file: %w", err)
	}
	defer f.Close()

	return Parse(f, filepath.Base(path), loc)
}

// Parse reads a PO stream. Unreadable lines are collected in Result.Errors;
// only an I/O failure returns an error.
func Parse(r io.Reader, source string, loc *time.Location) (*Result, error) {
	if loc == nil {
		loc = time.Local
	}

	result := &Result{Source: source}
	var current *Header

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		raw := strings.TrimRight(scanner.Text(), " \t\r")
		if raw == "" {
			continue
		}

		if len(raw) <= recordTypeCol {
			result.Errors = append(result.Errors, &ParseError{Line: lineNum, Reason: "too short to parse"})
			continue
		}

		switch raw[recordTypeCol] {
		case 'H':
			header, err := parseHeader(raw, loc)
			if err != nil {
				result.Errors = append(result.Errors, &ParseError{Line: lineNum, Reason: "header: " + err.Error()})
				continue
			}
			result.Headers = append(result.Headers, header)
			current = &result.Headers[len(result.Headers)-1]

		case 'D':
			line, err := parseDetail(raw, loc)
			if err != nil {
				result.Errors = append(result.Errors, &ParseError{Line: lineNum, Reason: "detail: " + err.Error()})
				continue
			}
			if current != nil && current.Site == line.Site && current.PONumber == line.PONumber {
				line.ReceivedDate = current.ReceivedDate
			}
			line.SourceFile = source
			result.Lines = append(result.Lines, line)

		default:
			result.Errors = append(result.Errors, &ParseError{
				Line:   lineNum,
				Reason: fmt.Sprintf("unknown record type %q", raw[recordTypeCol]),
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("reading %s: %w", source, err)
	}

	return result, nil
}

func parseHeader(raw string, loc *time.Location) (Header, error) {
	if len(raw) < minHeaderLength {
		return Header{}, fmt.Errorf("expected at least %d characters, got %d", minHeaderLength, len(raw))
	}

	received, err := util.ParseMMDDYY(raw[11:17], loc)
	if err != nil {
		return Header{}, err
	}

	return Header{
		Site:         strings.TrimSpace(raw[0:4]),
		PONumber:     strings.TrimSpace(raw[4:10]),
		ReceivedDate: received,
	}, nil
}

func parseDetail(raw string, loc *time.Location) (models.OrderLine, error) {
	if len(raw) < minDetailLength {
		return models.OrderLine{}, fmt.Errorf("expected at least %d characters, got %d", minDetailLength, len(raw))
	}

	line := models.OrderLine{
		Site:     strings.TrimSpace(raw[0:4]),
		PONumber: strings.TrimSpace(raw[4:10]),
	}

	lineNo := strings.TrimSpace(raw[11:14])
	n, err := strconv.Atoi(lineNo)
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("invalid line number %q", lineNo)
	}
	line.LineNumber = n

	rest := raw[14:]
	span := quantityRe.FindStringSubmatchIndex(rest)
	if span == nil {
		return models.OrderLine{}, fmt.Errorf("no quantity (digits followed by EA)")
	}

	line.PartNumber = strings.TrimSpace(rest[:span[2]])
	if line.PartNumber == "" {
		return models.OrderLine{}, fmt.Errorf("missing part number")
	}

	qty, err := strconv.ParseInt(rest[span[2]:span[3]], 10, 64)
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("invalid quantity %q: %w", rest[span[2]:span[3]], err)
	}
	line.Quantity = qty

	after := rest[span[1]:]
	line.UnitPrice = decimal.Zero
	if m := priceRe.FindStringSubmatch(after); m != nil {
		price, err := decimal.NewFromString(m[1])
		if err != nil {
			return models.OrderLine{}, fmt.Errorf("invalid price %q: %w", m[1], err)
		}
		line.UnitPrice = price
		after = after[len(m[0]):]
	}

	m := dueDateRe.FindStringSubmatch(after)
	if m == nil {
		return models.OrderLine{}, fmt.Errorf("missing due date")
	}
	due, err := time.ParseInLocation(util.ShortUSDateFormat, m[1], loc)
	if err != nil {
		return models.OrderLine{}, fmt.Errorf("invalid due date %q: %w", m[1], err)
	}
	line.DueDate = due

	return line, nil
}
