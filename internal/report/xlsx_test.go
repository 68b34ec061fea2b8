package report

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"capledger.org/internal/ledger"
)

func TestGenerateCapTableWorkbook(t *testing.T) {
	ct := ledger.CapTable{
		CompanyID:   "co-1",
		CompanyName: "Acme Holdings Ltd",
		TotalShares: 1500,
		TotalVotes:  1500,
		Holders: []ledger.HolderSummary{
			{ShareholderID: "h1", FullName: "Alice Smith", Kind: ledger.ShareholderIndividual, TotalShares: 1000,
				TotalVotes: 1000, Percentage: decimal.RequireFromString("66.67"), VotingPercent: decimal.RequireFromString("66.67"),
				TotalValue: decimal.NewFromInt(1000), TotalPaid: decimal.NewFromInt(1000)},
			{ShareholderID: "h2", TotalShares: 500, TotalVotes: 500,
				Percentage: decimal.RequireFromString("33.33"), VotingPercent: decimal.RequireFromString("33.33"),
				TotalValue: decimal.RequireFromString("50"), TotalPaid: decimal.RequireFromString("20")},
		},
	}
	classes := []ledger.ClassStatistics{
		{ClassCode: "PREF", ClassName: "Preference", State: ledger.ClassInactive},
		{ClassCode: "ORD", ClassName: "Ordinary", State: ledger.ClassActive, AllocationCount: 2, TotalShares: 1500,
			TotalValue: decimal.NewFromInt(1050), TotalPaid: decimal.NewFromInt(1020), Percentage: decimal.NewFromInt(100)},
	}

	body, err := NewXLSX().Generate(context.Background(), ct, classes)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetHolders, SheetClasses}, f.GetSheetList())

	title, err := f.GetCellValue(SheetHolders, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Cap table: Acme Holdings Ltd", title)

	name, _ := f.GetCellValue(SheetHolders, "A3")
	shares, _ := f.GetCellValue(SheetHolders, "C3")
	assert.Equal(t, "Alice Smith", name)
	assert.Equal(t, "1000", shares)

	// Nameless holders fall back to their id.
	fallback, _ := f.GetCellValue(SheetHolders, "A4")
	assert.Equal(t, "h2", fallback)

	total, _ := f.GetCellValue(SheetHolders, "C5")
	assert.Equal(t, "1500", total)

	first, _ := f.GetCellValue(SheetClasses, "A2")
	second, _ := f.GetCellValue(SheetClasses, "A3")
	assert.Equal(t, "ORD", first)
	assert.Equal(t, "PREF", second)
}

func TestGenerateRequiresCompany(t *testing.T) {
	_, err := NewXLSX().Generate(context.Background(), ledger.CapTable{}, nil)
	require.Error(t, err)
}
