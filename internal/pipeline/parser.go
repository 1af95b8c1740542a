package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// ErrUnreadableFile is returned when a statement has no recognisable header.
var ErrUnreadableFile = errors.New("unreadable statement file")

var (
	dateHeaders   = []string{"date"}
	descHeaders   = []string{"narration", "description", "particulars", "details", "memo", "payee"}
	debitHeaders  = []string{"withdrawal", "debit", "paid out", "money out"}
	creditHeaders = []string{"deposit", "credit", "paid in", "money in"}
	amountHeaders = []string{"amount"}
)

// Day-first layouts come before month-first ones.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"02-01-2006",
	"02-01-06",
	"02.01.2006",
	"02-Jan-2006",
	"02-Jan-06",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"2006/01/02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var currencyTokens = strings.NewReplacer(",", "", " ", "", "£", "", "$", "", "€", "", "₹", "", "INR", "", "GBP", "", "USD", "", "EUR", "")

// columns holds the detected column indexes; -1 means absent.
type columns struct {
	date, desc, debit, credit, amount int
}

func detectColumns(header []string) (columns, bool) {
	c := columns{date: -1, desc: -1, debit: -1, credit: -1, amount: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case c.desc < 0 && containsAny(name, descHeaders):
			c.desc = i
		case c.debit < 0 && containsAny(name, debitHeaders):
			c.debit = i
		case c.credit < 0 && containsAny(name, creditHeaders):
			c.credit = i
		case c.amount < 0 && containsAny(name, amountHeaders):
			c.amount = i
		case c.date < 0 && containsAny(name, dateHeaders):
			c.date = i
		}
	}
	ok := c.date >= 0 && c.desc >= 0 && (c.amount >= 0 || c.debit >= 0 || c.credit >= 0)
	return c, ok
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// ParseCSV reads a bank statement export. Lines before the header row are
// skipped. Lines that fail to parse are collected in Errors; only a missing
// header fails the whole file.
func ParseCSV(r io.Reader) (ParseResult, error) {
	var res ParseResult

	csvr := csv.NewReader(r)
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	csvr.LazyQuotes = true

	var (
		cols  columns
		found bool
	)
	for !found {
		rec, err := csvr.Read()
		if err == io.EOF {
			return res, fmt.Errorf("ParseCSV: %w: no header row with date, description and amount columns", ErrUnreadableFile)
		}
		if err != nil {
			return res, fmt.Errorf("ParseCSV: %w: %v", ErrUnreadableFile, err)
		}
		line, _ := csvr.FieldPos(0)
		if line > headerSearchLines {
			return res, fmt.Errorf("ParseCSV: %w: no header row in the first %d lines", ErrUnreadableFile, headerSearchLines)
		}
		cols, found = detectColumns(rec)
	}

	for {
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var line int
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			res.Errors = append(res.Errors, RowError{Line: line, Err: err})
			continue
		}
		line, _ := csvr.FieldPos(0)
		if blank(rec) {
			continue
		}

		row, err := cols.parse(rec)
		if err != nil {
			res.Errors = append(res.Errors, RowError{Line: line, Err: err})
			continue
		}
		row.Line = line
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

// ParseCSVBytes is ParseCSV over an in-memory file.
func ParseCSVBytes(data []byte) (ParseResult, error) {
	return ParseCSV(bytes.NewReader(data))
}

func (c columns) parse(rec []string) (Row, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDate(cell(c.date))
	if err != nil {
		return Row{}, err
	}
	desc := strings.Join(strings.Fields(cell(c.desc)), " ")
	if desc == "" {
		return Row{}, fmt.Errorf("empty description")
	}

	row := Row{Date: date, Description: desc}
	switch {
	case c.debit >= 0 || c.credit >= 0:
		debit, err := parseAmount(cell(c.debit))
		if err != nil {
			return Row{}, fmt.Errorf("debit: %w", err)
		}
		credit, err := parseAmount(cell(c.credit))
		if err != nil {
			return Row{}, fmt.Errorf("credit: %w", err)
		}
		if !debit.IsZero() {
			row.Amount, row.Direction = debit.Abs(), domain.DirectionDebit
		} else {
			row.Amount, row.Direction = credit.Abs(), domain.DirectionCredit
		}
	default:
		amount, err := parseAmount(cell(c.amount))
		if err != nil {
			return Row{}, fmt.Errorf("amount: %w", err)
		}
		row.Amount, row.Direction = amount.Abs(), domain.DirectionCredit
		if amount.IsNegative() {
			row.Direction = domain.DirectionDebit
		}
	}
	if row.Amount.IsZero() {
		return Row{}, fmt.Errorf("no amount")
	}
	return row, nil
}

func parseDate(s string) (civil.Date, error) {
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("invalid date %q", s)
}

// parseAmount accepts thousands separators, currency markers, (parentheses)
// and CR/DR suffixes. An empty cell is zero.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}

	negative := false
	switch {
	case strings.HasSuffix(s, "DR"):
		negative, s = true, strings.TrimSuffix(s, "DR")
	case strings.HasSuffix(s, "CR"):
		s = strings.TrimSuffix(s, "CR")
	}
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative, s = true, s[1:len(s)-1]
	}
	s = strings.TrimPrefix(currencyTokens.Replace(s), "+")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if negative && !d.IsNegative() {
		d = d.Neg()
	}
	return d, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
