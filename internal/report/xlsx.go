package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"capledger.org/internal/audit"
	"capledger.org/internal/ledger"
	"capledger.org/internal/obs"
)

const (
	SheetHolders = "Cap table"
	SheetClasses = "Share classes"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// XLSXGenerator renders a company cap table as a workbook.
type XLSXGenerator struct{}

func NewXLSX() *XLSXGenerator {
	return &XLSXGenerator{}
}

// Generate builds the workbook. Amounts are exported as numbers with four decimals;
// the ledger remains the source of truth for exact values.
func (g *XLSXGenerator) Generate(ctx context.Context, ct ledger.CapTable, classes []ledger.ClassStatistics) ([]byte, error) {
	rqID := audit.RequestIDFromContext(ctx)
	log := obs.Logger()
	if ct.CompanyID == "" {
		return nil, errors.New("report: company id is required")
	}
	log.Debug().Str("rqID", rqID).Str("company_id", ct.CompanyID).Msg("xlsx generate start")

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Str("rqID", rqID).Msg("got error while closing file")
		}
	}()

	header, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#cfe2f3"}},
	})
	if err != nil {
		return nil, err
	}
	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr("#,##0.0000")})
	if err != nil {
		return nil, err
	}

	if err := g.fillHolders(f, ct, header, money); err != nil {
		return nil, err
	}
	if err := g.fillClasses(f, classes, header, money); err != nil {
		return nil, err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		log.Error().Err(err).Str("rqID", rqID).Msg("got error while deleting Sheet1")
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	log.Debug().Str("rqID", rqID).Int("bytes", buf.Len()).Msg("xlsx generate completed")
	return buf.Bytes(), nil
}

func (g *XLSXGenerator) fillHolders(f *excelize.File, ct ledger.CapTable, header, money int) error {
	idx, err := f.NewSheet(SheetHolders)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)

	title := ct.CompanyName
	if title == "" {
		title = ct.CompanyID
	}
	if err := f.MergeCell(SheetHolders, "A1", "H1"); err != nil {
		return err
	}
	_ = f.SetCellStr(SheetHolders, "A1", "Cap table: "+title)
	if err := f.SetCellStyle(SheetHolders, "A1", "A1", header); err != nil {
		return err
	}

	cols := []string{"shareholder", "kind", "shares", "% shares", "votes", "% votes", "nominal value", "paid"}
	if err := writeRow(f, SheetHolders, 2, toAny(cols)...); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetHolders, "A2", "H2", header); err != nil {
		return err
	}

	row := 3
	for _, h := range ct.Holders {
		name := h.FullName
		if name == "" {
			name = h.ShareholderID
		}
		if err := writeRow(f, SheetHolders, row,
			name, string(h.Kind), h.TotalShares, num(h.Percentage), h.TotalVotes, num(h.VotingPercent),
			num(h.TotalValue), num(h.TotalPaid)); err != nil {
			return err
		}
		row++
	}
	if err := writeRow(f, SheetHolders, row, "total", "", ct.TotalShares, 100, ct.TotalVotes, 100); err != nil {
		return err
	}
	if row > 3 {
		if err := f.SetCellStyle(SheetHolders, "G3", fmt.Sprintf("H%d", row-1), money); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetHolders, "A", "A", 32)
}

func (g *XLSXGenerator) fillClasses(f *excelize.File, classes []ledger.ClassStatistics, header, money int) error {
	if _, err := f.NewSheet(SheetClasses); err != nil {
		return err
	}
	cols := []string{"code", "name", "state", "allocations", "shares", "% shares", "votes", "nominal value", "paid"}
	if err := writeRow(f, SheetClasses, 1, toAny(cols)...); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetClasses, "A1", "I1", header); err != nil {
		return err
	}

	sorted := append([]ledger.ClassStatistics(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ClassCode < sorted[j].ClassCode })
	for i, c := range sorted {
		if err := writeRow(f, SheetClasses, i+2,
			c.ClassCode, c.ClassName, string(c.State), c.AllocationCount, c.TotalShares,
			num(c.Percentage), c.TotalVotes, num(c.TotalValue), num(c.TotalPaid)); err != nil {
			return err
		}
	}
	if len(sorted) > 0 {
		return f.SetCellStyle(SheetClasses, "H2", fmt.Sprintf("I%d", len(sorted)+1), money)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func ptr[T any](v T) *T { return &v }
