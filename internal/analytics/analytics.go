// Package analytics aggregates an owner's transactions for dashboards.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Display types for TRANSFER categories split by direction, and for the
// uncategorized bucket.
const (
	TypeTransferIn    domain.CategoryType = "TRANSFER_IN"
	TypeTransferOut   domain.CategoryType = "TRANSFER_OUT"
	TypeUncategorized domain.CategoryType = "UNCATEGORIZED"
)

// UncategorizedName labels the breakdown entry for transactions without a category.
const UncategorizedName = "Uncategorized"

// ErrInvalidGroupBy is returned for an unknown grouping.
var ErrInvalidGroupBy = errors.New("invalid group_by")

// GroupBy selects the period a transaction date falls into.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// ParseGroupBy maps a query value onto a GroupBy. Empty means month.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupByMonth, nil
	case GroupByDay, GroupByWeek, GroupByMonth:
		return g, nil
	}
	return "", fmt.Errorf("%w %q", ErrInvalidGroupBy, s)
}

// Period returns the key of the period d falls into: 2006-01 for months,
// 2006-W05 for Sunday-based weeks, 2006-01-02 for days.
func (g GroupBy) Period(d civil.Date) string {
	switch g {
	case GroupByDay:
		return d.String()
	case GroupByWeek:
		t := d.In(time.UTC)
		week := (t.YearDay() - 1 + 7 - int(t.Weekday())) / 7
		return fmt.Sprintf("%04d-W%02d", d.Year, week)
	default:
		return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
	}
}

// Range limits the transactions considered. Zero dates are open ends.
type Range struct {
	Start civil.Date
	End   civil.Date
}

// FlowType refines a category type by the transaction's direction. Plain
// TRANSFER becomes TRANSFER_IN or TRANSFER_OUT; every other type is kept.
func FlowType(t domain.CategoryType, d domain.Direction) domain.CategoryType {
	if t != domain.CategoryTransfer {
		return t
	}
	if d == domain.DirectionCredit {
		return TypeTransferIn
	}
	return TypeTransferOut
}

func inbound(t domain.CategoryType) bool {
	return strings.HasSuffix(string(t), "_IN")
}

// BreakdownEntry totals one category, or one direction of a plain TRANSFER category.
type BreakdownEntry struct {
	CategoryID   string              `json:"category_id"`
	CategoryName string              `json:"category_name"`
	CategoryType domain.CategoryType `json:"category_type"`
	Total        decimal.Decimal     `json:"total"`
	Count        int                 `json:"count"`
}

// Summary is the income, expense and transfer overview for a range.
type Summary struct {
	TotalIncome       decimal.Decimal  `json:"total_income"`
	TotalExpense      decimal.Decimal  `json:"total_expense"`
	NetSavings        decimal.Decimal  `json:"net_savings"`
	TotalTransferIn   decimal.Decimal  `json:"total_transfer_in"`
	TotalTransferOut  decimal.Decimal  `json:"total_transfer_out"`
	TransactionCount  int              `json:"transaction_count"`
	CategoryBreakdown []BreakdownEntry `json:"category_breakdown"`
}

// PeriodTotals is one row of SpendingOverTime.
type PeriodTotals struct {
	Period              string          `json:"period"`
	Income              decimal.Decimal `json:"income"`
	Expense             decimal.Decimal `json:"expense"`
	Net                 decimal.Decimal `json:"net"`
	TransferIn          decimal.Decimal `json:"transfer_in"`
	TransferOut         decimal.Decimal `json:"transfer_out"`
	TransferInternalIn  decimal.Decimal `json:"transfer_internal_in"`
	TransferInternalOut decimal.Decimal `json:"transfer_internal_out"`
	TransferExternalIn  decimal.Decimal `json:"transfer_external_in"`
	TransferExternalOut decimal.Decimal `json:"transfer_external_out"`
}

// TrendCategory is a category that has spending in the range.
type TrendCategory struct {
	ID    string              `json:"id"`
	Name  string              `json:"name"`
	Type  domain.CategoryType `json:"type"`
	Total decimal.Decimal     `json:"total"`
}

// Trends holds per-period totals for every category with activity.
type Trends struct {
	Periods    []string                              `json:"periods"`
	Categories []TrendCategory                       `json:"categories"`
	Data       map[string]map[string]decimal.Decimal `json:"data"`
}

// trendOrder is the order category groups appear in Trends.
var trendOrder = []domain.CategoryType{
	domain.CategoryIncome,
	domain.CategoryExpense,
	domain.CategoryTransfer,
	domain.CategoryTransferInternalIn,
	domain.CategoryTransferInternalOut,
	domain.CategoryTransferExternalIn,
	domain.CategoryTransferExternalOut,
}

// Service computes analytics over the store.
type Service struct {
	store store.Reader
	log   zerolog.Logger
}

// NewService creates a new analytics service
func NewService(s store.Reader, log zerolog.Logger) *Service {
	return &Service{store: s, log: log}
}

func (s *Service) load(ctx context.Context, ownerID string, r Range) ([]domain.Transaction, map[string]domain.Category, error) {
	txns, err := s.store.ListTransactions(ctx, ownerID, store.TransactionFilter{StartDate: r.Start, EndDate: r.End})
	if err != nil {
		return nil, nil, fmt.Errorf("listing transactions: %w", err)
	}
	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing categories: %w", err)
	}
	byID := make(map[string]domain.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}
	return txns, byID, nil
}

// Summary totals income and expense outside transfers, transfer in and out,
// and a per-category breakdown ordered by total descending. Plain TRANSFER
// categories are split by direction. Transactions without a category, or
// whose category no longer exists, count as income or expense by direction
// and land in the Uncategorized entry.
func (s *Service) Summary(ctx context.Context, ownerID string, r Range) (*Summary, error) {
	txns, cats, err := s.load(ctx, ownerID, r)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}

	sum := &Summary{TransactionCount: len(txns)}
	type key struct {
		id  string
		typ domain.CategoryType
	}
	entries := make(map[key]*BreakdownEntry)
	var orphans int

	for _, t := range txns {
		c, known := cats[t.CategoryID]
		if t.CategoryID != "" && !known {
			orphans++
		}

		if known && c.Type.IsTransfer() {
			if inbound(FlowType(c.Type, t.Direction)) {
				sum.TotalTransferIn = sum.TotalTransferIn.Add(t.Amount)
			} else {
				sum.TotalTransferOut = sum.TotalTransferOut.Add(t.Amount)
			}
		} else if t.Direction == domain.DirectionCredit {
			sum.TotalIncome = sum.TotalIncome.Add(t.Amount)
		} else {
			sum.TotalExpense = sum.TotalExpense.Add(t.Amount)
		}

		k := key{typ: TypeUncategorized}
		name := UncategorizedName
		if known {
			k = key{id: c.ID, typ: FlowType(c.Type, t.Direction)}
			name = c.Name
		}
		e, ok := entries[k]
		if !ok {
			e = &BreakdownEntry{CategoryID: k.id, CategoryName: name, CategoryType: k.typ}
			entries[k] = e
		}
		e.Total = e.Total.Add(t.Amount)
		e.Count++
	}

	if orphans > 0 {
		s.log.Warn().Str("owner_id", ownerID).Int("transactions", orphans).Msg("Transactions reference missing categories; counted as uncategorized")
	}

	sum.CategoryBreakdown = make([]BreakdownEntry, 0, len(entries))
	for _, e := range entries {
		e.Total = e.Total.Round(2)
		sum.CategoryBreakdown = append(sum.CategoryBreakdown, *e)
	}
	sort.Slice(sum.CategoryBreakdown, func(i, j int) bool {
		a, b := sum.CategoryBreakdown[i], sum.CategoryBreakdown[j]
		if c := a.Total.Cmp(b.Total); c != 0 {
			return c > 0
		}
		if a.CategoryName != b.CategoryName {
			return a.CategoryName < b.CategoryName
		}
		return a.CategoryType < b.CategoryType
	})

	sum.NetSavings = sum.TotalIncome.Sub(sum.TotalExpense).Round(2)
	sum.TotalIncome = sum.TotalIncome.Round(2)
	sum.TotalExpense = sum.TotalExpense.Round(2)
	sum.TotalTransferIn = sum.TotalTransferIn.Round(2)
	sum.TotalTransferOut = sum.TotalTransferOut.Round(2)
	return sum, nil
}

// SpendingOverTime totals categorized transactions per period by category
// type, oldest period first. Uncategorized transactions are left out.
func (s *Service) SpendingOverTime(ctx context.Context, ownerID string, r Range, g GroupBy) ([]PeriodTotals, error) {
	txns, cats, err := s.load(ctx, ownerID, r)
	if err != nil {
		return nil, fmt.Errorf("SpendingOverTime: %w", err)
	}

	periods := make(map[string]*PeriodTotals)
	for _, t := range txns {
		c, ok := cats[t.CategoryID]
		if !ok {
			continue
		}
		key := g.Period(t.Date)
		p, ok := periods[key]
		if !ok {
			p = &PeriodTotals{Period: key}
			periods[key] = p
		}

		var dst *decimal.Decimal
		switch FlowType(c.Type, t.Direction) {
		case domain.CategoryIncome:
			dst = &p.Income
		case domain.CategoryExpense:
			dst = &p.Expense
		case TypeTransferIn:
			dst = &p.TransferIn
		case TypeTransferOut:
			dst = &p.TransferOut
		case domain.CategoryTransferInternalIn:
			dst = &p.TransferInternalIn
		case domain.CategoryTransferInternalOut:
			dst = &p.TransferInternalOut
		case domain.CategoryTransferExternalIn:
			dst = &p.TransferExternalIn
		case domain.CategoryTransferExternalOut:
			dst = &p.TransferExternalOut
		default:
			continue
		}
		*dst = dst.Add(t.Amount)
	}

	out := make([]PeriodTotals, 0, len(periods))
	for _, p := range periods {
		p.Net = p.Income.Sub(p.Expense)
		for _, d := range []*decimal.Decimal{
			&p.Income, &p.Expense, &p.Net, &p.TransferIn, &p.TransferOut,
			&p.TransferInternalIn, &p.TransferInternalOut, &p.TransferExternalIn, &p.TransferExternalOut,
		} {
			*d = d.Round(2)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

// CategoryTrends returns, for every category with activity in the range, its
// total per period. Categories are grouped by type and sorted by name within
// a group. Every period carries an entry for every listed category.
func (s *Service) CategoryTrends(ctx context.Context, ownerID string, r Range, g GroupBy) (*Trends, error) {
	txns, cats, err := s.load(ctx, ownerID, r)
	if err != nil {
		return nil, fmt.Errorf("CategoryTrends: %w", err)
	}

	perPeriod := make(map[string]map[string]decimal.Decimal)
	totals := make(map[string]decimal.Decimal)
	for _, t := range txns {
		if _, ok := cats[t.CategoryID]; !ok {
			continue
		}
		key := g.Period(t.Date)
		if perPeriod[key] == nil {
			perPeriod[key] = make(map[string]decimal.Decimal)
		}
		perPeriod[key][t.CategoryID] = perPeriod[key][t.CategoryID].Add(t.Amount)
		totals[t.CategoryID] = totals[t.CategoryID].Add(t.Amount)
	}

	res := &Trends{
		Periods:    make([]string, 0, len(perPeriod)),
		Categories: []TrendCategory{},
		Data:       make(map[string]map[string]decimal.Decimal, len(perPeriod)),
	}
	for p := range perPeriod {
		res.Periods = append(res.Periods, p)
	}
	sort.Strings(res.Periods)

	groups := make(map[domain.CategoryType][]TrendCategory)
	for id, total := range totals {
		if !total.IsPositive() {
			continue
		}
		c := cats[id]
		groups[c.Type] = append(groups[c.Type], TrendCategory{ID: id, Name: c.Name, Type: c.Type, Total: total.Round(2)})
	}
	for _, typ := range trendOrder {
		group := groups[typ]
		sort.Slice(group, func(i, j int) bool {
			if group[i].Name != group[j].Name {
				return group[i].Name < group[j].Name
			}
			return group[i].ID < group[j].ID
		})
		res.Categories = append(res.Categories, group...)
	}

	for _, p := range res.Periods {
		row := make(map[string]decimal.Decimal, len(res.Categories))
		for _, c := range res.Categories {
			row[c.ID] = perPeriod[p][c.ID].Round(2)
		}
		res.Data[p] = row
	}
	return res, nil
}
