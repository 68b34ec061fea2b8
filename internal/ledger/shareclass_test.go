package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func createPreferred(t *testing.T, f *fixture) ShareClass {
	t.Helper()
	sc, err := f.svc.CreateShareClass(context.Background(), f.company.ID, ShareClassInput{
		ClassCode:                     "pref",
		ClassName:                     "Preference",
		VotingRights:                  VotingNone,
		DividendRights:                DividendPreferred,
		DividendRate:                  nullDec("8.5"),
		CapitalDistributionRights:     CapitalPreferred,
		LiquidationPreferenceMultiple: nullDec("1.5"),
		ParValue:                      nullDec("0.01"),
	})
	require.NoError(t, err)
	return sc
}

func TestCreateShareClass(t *testing.T) {
	f := newFixture(t)
	sc := createPreferred(t, f)

	assert.Equal(t, "PREF", sc.ClassCode)
	assert.Equal(t, ClassActive, sc.State)
	assert.Equal(t, 0, sc.VotesPerShare)
	assert.True(t, sc.DividendRate.Decimal.Equal(decimal.RequireFromString("8.5")))

	all, err := f.svc.GetAllShareClasses(context.Background(), f.company.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ORD", all[0].ClassCode)
	assert.Equal(t, "PREF", all[1].ClassCode)
}

func TestCreateShareClassDefaults(t *testing.T) {
	f := newFixture(t)
	sc, err := f.svc.CreateShareClass(context.Background(), f.company.ID, ShareClassInput{
		ClassCode: "A", ClassName: "Class A",
	})
	require.NoError(t, err)
	assert.Equal(t, VotingOrdinary, sc.VotingRights)
	assert.Equal(t, 1, sc.VotesPerShare)
	assert.Equal(t, DividendOrdinary, sc.DividendRights)
	assert.Equal(t, CapitalOrdinary, sc.CapitalDistributionRights)
	assert.True(t, sc.IsTransferable)
}

func TestCreateShareClassRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateShareClass(ctx, f.company.ID, ShareClassInput{ClassCode: "ord", ClassName: "Another"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.CreateShareClass(ctx, f.company.ID, ShareClassInput{ClassCode: "X", ClassName: "ORDINARY"})
	require.ErrorIs(t, err, ErrValidation)

	// Inactive classes keep their code and name reserved.
	pref := createPreferred(t, f)
	_, err = f.svc.DeactivateShareClass(ctx, pref.ID)
	require.NoError(t, err)
	_, err = f.svc.CreateShareClass(ctx, f.company.ID, ShareClassInput{ClassCode: "PREF", ClassName: "New Pref"})
	require.ErrorIs(t, err, ErrValidation)

	// Other companies are independent.
	other, err := f.svc.RegisterCompany(ctx, "Other plc", "")
	require.NoError(t, err)
	_, err = f.svc.CreateShareClass(ctx, other.ID, ShareClassInput{
		ClassCode: "PREF", ClassName: "Preference", VotingRights: VotingNone,
		DividendRights: DividendCumulative, DividendRate: nullDec("5"),
	})
	require.NoError(t, err)
}

func TestCreateShareClassUnknownCompany(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateShareClass(context.Background(), "missing", ShareClassInput{ClassCode: "A", ClassName: "A"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestShareClassConsistencyRules(t *testing.T) {
	valid := func() ShareClassInput {
		return ShareClassInput{ClassCode: "B", ClassName: "Class B"}
	}
	cases := []struct {
		name string
		mod  func(*ShareClassInput)
	}{
		{"bad code", func(in *ShareClassInput) { in.ClassCode = "B CLASS" }},
		{"long code", func(in *ShareClassInput) { in.ClassCode = "ABCDEFGHIJKLMNOPQRSTU" }},
		{"empty name", func(in *ShareClassInput) { in.ClassName = " " }},
		{"non-voting with votes", func(in *ShareClassInput) {
			in.VotingRights = VotingNone
			in.VotesPerShare = 1
		}},
		{"weighted without votes", func(in *ShareClassInput) { in.VotingRights = VotingWeighted }},
		{"unknown voting", func(in *ShareClassInput) {
			in.VotingRights = "SUPER"
			in.VotesPerShare = 1
		}},
		{"preferred dividend without rate", func(in *ShareClassInput) { in.DividendRights = DividendPreferred }},
		{"cumulative rate above 100", func(in *ShareClassInput) {
			in.DividendRights = DividendCumulative
			in.DividendRate = nullDec("100.01")
		}},
		{"ordinary dividend with rate", func(in *ShareClassInput) { in.DividendRate = nullDec("3") }},
		{"liquidation multiple on ordinary capital", func(in *ShareClassInput) {
			in.LiquidationPreferenceMultiple = nullDec("2")
		}},
		{"zero liquidation multiple", func(in *ShareClassInput) {
			in.CapitalDistributionRights = CapitalPreferred
			in.LiquidationPreferenceMultiple = nullDec("0")
		}},
		{"no par with par value", func(in *ShareClassInput) {
			in.NoParValue = true
			in.ParValue = nullDec("1")
		}},
		{"negative par", func(in *ShareClassInput) { in.ParValue = nullDec("-1") }},
		{"par value beyond column", func(in *ShareClassInput) { in.ParValue = nullDec("10000000000000000") }},
		{"par value with five decimals", func(in *ShareClassInput) { in.ParValue = nullDec("0.00001") }},
		{"dividend rate with five decimals", func(in *ShareClassInput) {
			in.DividendRights = DividendPreferred
			in.DividendRate = nullDec("5.00001")
		}},
		{"liquidation multiple beyond column", func(in *ShareClassInput) {
			in.CapitalDistributionRights = CapitalPreferred
			in.LiquidationPreferenceMultiple = nullDec("1000000")
		}},
		{"board approval on locked class", func(in *ShareClassInput) {
			in.IsTransferable = boolPtr(false)
			in.RequiresBoardApproval = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid()
			tc.mod(&in)
			_, err := f.svc.CreateShareClass(context.Background(), f.company.ID, in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestValidateShareClassReportsEveryProblem(t *testing.T) {
	sc := ShareClass{
		ClassCode:                 "ok",
		ClassName:                 "",
		VotingRights:              VotingNone,
		VotesPerShare:             2,
		DividendRights:            DividendPreferred,
		CapitalDistributionRights: CapitalOrdinary,
	}
	err := validateShareClass(sc)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "class name is required")
	assert.Contains(t, err.Error(), "votes per share must be 0")
	assert.Contains(t, err.Error(), "dividend rate is required")
}

func TestUpdateShareClass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pref := createPreferred(t, f)

	name := "Series A Preference"
	got, err := f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{ClassName: &name, DividendRate: SetDecimal(dec("9"))})
	require.NoError(t, err)
	assert.Equal(t, name, got.ClassName)
	assert.True(t, got.DividendRate.Decimal.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, "PREF", got.ClassCode)

	same := "pref"
	_, err = f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{ClassCode: &same})
	require.NoError(t, err)

	code := "PREF2"
	_, err = f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{ClassCode: &code})
	require.ErrorIs(t, err, ErrValidation)

	clash := "ordinary"
	_, err = f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{ClassName: &clash})
	require.ErrorIs(t, err, ErrValidation)

	ordinary := DividendOrdinary
	_, err = f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{DividendRights: &ordinary})
	require.ErrorIs(t, err, ErrValidation, "rate must be cleared together with the dividend kind")

	got, err = f.svc.UpdateShareClass(ctx, pref.ID, ShareClassUpdate{DividendRights: &ordinary, DividendRate: ClearDecimal()})
	require.NoError(t, err)
	assert.False(t, got.DividendRate.Valid)

	_, err = f.svc.UpdateShareClass(ctx, "missing", ShareClassUpdate{ClassName: &name})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeactivateKeepsAllocationsQueryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pref := createPreferred(t, f)

	a, err := f.svc.AllocateShares(ctx, AllocateRequest{
		CompanyID: f.company.ID, ShareholderID: f.alice.ID, ShareClass: "PREF",
		NumberOfShares: 100, NominalValue: dec("1"),
	})
	require.NoError(t, err)

	sc, err := f.svc.DeactivateShareClass(ctx, pref.ID)
	require.NoError(t, err)
	assert.Equal(t, ClassInactive, sc.State)
	_, err = f.svc.DeactivateShareClass(ctx, pref.ID)
	require.NoError(t, err)

	active, err := f.svc.GetActiveShareClasses(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)

	byClass, err := f.svc.GetActiveAllocationsByShareClass(ctx, f.company.ID, "pref")
	require.NoError(t, err)
	require.Len(t, byClass, 1)
	assert.Equal(t, a.ID, byClass[0].ID)

	sc, err = f.svc.ReactivateShareClass(ctx, pref.ID)
	require.NoError(t, err)
	assert.Equal(t, ClassActive, sc.State)
	active, err = f.svc.GetActiveShareClasses(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestShareClassStatisticsCountsActiveOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createPreferred(t, f)

	f.allocate(t, f.alice.ID, 300, "1", "0", "")
	gone := f.allocate(t, f.bob.ID, 700, "1", "0", "")
	_, err := f.svc.CancelAllocation(ctx, gone.ID, "void")
	require.NoError(t, err)
	_, err = f.svc.AllocateShares(ctx, AllocateRequest{
		CompanyID: f.company.ID, ShareholderID: f.bob.ID, ShareClass: "PREF",
		NumberOfShares: 100, NominalValue: dec("2.5"),
	})
	require.NoError(t, err)

	stats, err := f.svc.GetShareClassStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	ord, pref := stats[0], stats[1]
	assert.Equal(t, "ORD", ord.ClassCode)
	assert.Equal(t, 1, ord.AllocationCount)
	assert.Equal(t, int64(300), ord.TotalShares)
	assert.True(t, ord.TotalValue.Equal(dec("300")))
	assert.Equal(t, int64(300), ord.TotalVotes)
	assert.True(t, ord.Percentage.Equal(dec("75")))

	assert.Equal(t, "PREF", pref.ClassCode)
	assert.True(t, pref.TotalValue.Equal(dec("250")))
	assert.Equal(t, int64(0), pref.TotalVotes)
	assert.True(t, pref.Percentage.Equal(dec("25")))
}

func TestShareClassUpdateDecodesExplicitNull(t *testing.T) {
	var upd ShareClassUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"dividend_rights":"ORDINARY","dividend_rate":null,"par_value":"0.5"}`), &upd))

	assert.True(t, upd.DividendRate.Set)
	assert.False(t, upd.DividendRate.Value.Valid)
	assert.True(t, upd.ParValue.Set)
	assert.True(t, upd.ParValue.Value.Decimal.Equal(dec("0.5")))
	assert.False(t, upd.LiquidationPreferenceMultiple.Set)

	f := newFixture(t)
	pref := createPreferred(t, f)
	got, err := f.svc.UpdateShareClass(context.Background(), pref.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, DividendOrdinary, got.DividendRights)
	assert.False(t, got.DividendRate.Valid)
	assert.Equal(t, pref.LiquidationPreferenceMultiple, got.LiquidationPreferenceMultiple)
}
