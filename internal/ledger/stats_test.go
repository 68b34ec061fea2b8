package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyStatisticsEmpty(t *testing.T) {
	st := CompanyStatistics("co", nil, nil)
	assert.Equal(t, "co", st.CompanyID)
	assert.Zero(t, st.TotalShares)
	assert.True(t, st.TotalValue.IsZero())
	assert.True(t, st.TotalUnpaid.IsZero())
	assert.Empty(t, st.ByClass)
}

func TestGetCompanyShareStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.allocate(t, f.alice.ID, 1000, "1.00", "1000.00", "")
	f.allocate(t, f.bob.ID, 500, "0.10", "20", "")
	void := f.allocate(t, f.bob.ID, 9999, "1", "0", "")
	_, err := f.svc.CancelAllocation(ctx, void.ID, "entered twice")
	require.NoError(t, err)

	st, err := f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.AllocationCount)
	assert.Equal(t, 2, st.ShareholderCount)
	assert.Equal(t, int64(1500), st.TotalShares)
	assert.True(t, st.TotalValue.Equal(dec("1050")))
	assert.True(t, st.TotalPaid.Equal(dec("1020")))
	assert.True(t, st.TotalUnpaid.Equal(dec("30")))
	assert.Equal(t, int64(1000), st.FullyPaidShares)
	assert.Equal(t, int64(500), st.PartiallyPaidShares)
	require.Len(t, st.ByClass, 1)
	assert.Equal(t, int64(1500), st.ByClass[0].TotalShares)

	again, err := f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, st, again)

	_, err = f.svc.GetCompanyShareStatistics(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompanyWithoutAllocationsHasZeroStatistics(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.GetCompanyShareStatistics(context.Background(), f.company.ID)
	require.NoError(t, err)
	assert.Zero(t, st.AllocationCount)
	require.Len(t, st.ByClass, 1)
	assert.True(t, st.ByClass[0].Percentage.IsZero())
}

func TestCapTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	createPreferred(t, f)

	f.allocate(t, f.alice.ID, 600, "1", "600", "")
	f.allocate(t, f.bob.ID, 300, "1", "0", "")
	_, err := f.svc.AllocateShares(ctx, AllocateRequest{
		CompanyID: f.company.ID, ShareholderID: f.bob.ID, ShareClass: "PREF",
		NumberOfShares: 1000, NominalValue: dec("0.01"),
	})
	require.NoError(t, err)

	ct, err := f.svc.GetCapTable(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Holdings Ltd", ct.CompanyName)
	assert.Equal(t, int64(1900), ct.TotalShares)
	assert.Equal(t, int64(900), ct.TotalVotes)
	require.Len(t, ct.Holders, 2)

	bob, alice := ct.Holders[0], ct.Holders[1]
	assert.Equal(t, f.bob.ID, bob.ShareholderID)
	assert.Equal(t, "Bob Ventures Ltd", bob.FullName)
	assert.Equal(t, ShareholderCorporate, bob.Kind)
	assert.Equal(t, int64(1300), bob.TotalShares)
	assert.Equal(t, map[string]int64{"ORD": 300, "PREF": 1000}, bob.SharesByClass)
	assert.True(t, bob.Percentage.Equal(dec("68.42")))
	assert.True(t, bob.VotingPercent.Equal(dec("33.33")))

	assert.Equal(t, f.alice.ID, alice.ShareholderID)
	assert.True(t, alice.VotingPercent.Equal(dec("66.67")))
}

func TestShareholderPortfolioAcrossCompanies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.svc.RegisterCompany(ctx, "Beta Ltd", "")
	require.NoError(t, err)

	f.allocate(t, f.alice.ID, 100, "1", "40", "")
	_, err = f.svc.AllocateShares(ctx, AllocateRequest{
		CompanyID: other.ID, ShareholderID: f.alice.ID, ShareClass: "ORD",
		NumberOfShares: 10, NominalValue: dec("5"), AmountPaid: dec("50"),
	})
	require.NoError(t, err)

	p, err := f.svc.GetShareholderPortfolio(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.AllocationCount)
	assert.Equal(t, int64(110), p.TotalShares)
	assert.True(t, p.TotalValue.Equal(dec("150")))
	assert.True(t, p.TotalPaid.Equal(dec("90")))
	assert.True(t, p.TotalUnpaid.Equal(dec("60")))
	require.Len(t, p.Companies, 2)

	byID := map[string]CompanyHolding{}
	for _, h := range p.Companies {
		byID[h.CompanyID] = h
	}
	assert.Equal(t, "Beta Ltd", byID[other.ID].CompanyName)
	assert.True(t, byID[f.company.ID].TotalUnpaid.Equal(dec("60")))

	empty, err := f.svc.GetShareholderPortfolio(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalShares)
	assert.Empty(t, empty.Companies)

	_, err = f.svc.GetShareholderPortfolio(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

type cacheKey struct {
	company string
	gen     int64
}

type memCache struct {
	entries     map[cacheKey]CompanyShareStatistics
	gens        map[string]int64
	hits        int
	invalidated []string
	failReads   bool
	beforeSet   func()
}

func newMemCache() *memCache {
	return &memCache{entries: map[cacheKey]CompanyShareStatistics{}, gens: map[string]int64{}}
}

func (c *memCache) Generation(_ context.Context, id string) (int64, error) {
	return c.gens[id], nil
}

func (c *memCache) GetCompanyStatistics(_ context.Context, id string, gen int64) (CompanyShareStatistics, bool, error) {
	if c.failReads {
		return CompanyShareStatistics{}, false, errors.New("cache down")
	}
	st, ok := c.entries[cacheKey{id, gen}]
	if ok {
		c.hits++
	}
	return st, ok, nil
}

func (c *memCache) SetCompanyStatistics(_ context.Context, gen int64, st CompanyShareStatistics) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	c.entries[cacheKey{st.CompanyID, gen}] = st
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	delete(c.entries, cacheKey{id, c.gens[id]})
	c.gens[id]++
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestStatisticsCacheIsInvalidatedByWrites(t *testing.T) {
	cache := newMemCache()
	f := newFixture(t, WithStatsCache(cache))
	ctx := context.Background()

	a := f.allocate(t, f.alice.ID, 100, "1", "0", "")
	st, err := f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.TotalShares)

	_, err = f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = f.svc.UpdatePayment(ctx, a.ID, dec("100"))
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, f.company.ID)

	st, err = f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.FullyPaidShares)
	assert.Equal(t, 1, cache.hits)

	cache.failReads = true
	st, err = f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.TotalShares)
}

func TestStatisticsCacheSkipsResultOfOlderSnapshot(t *testing.T) {
	cache := newMemCache()
	f := newFixture(t, WithStatsCache(cache))
	ctx := context.Background()

	f.allocate(t, f.alice.ID, 100, "1", "0", "")
	cache.beforeSet = func() {
		f.allocate(t, f.bob.ID, 50, "1", "0", "")
	}

	st, err := f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.TotalShares)

	st, err = f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.TotalShares)
	assert.Zero(t, cache.hits)

	st, err = f.svc.GetCompanyShareStatistics(ctx, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.TotalShares)
	assert.Equal(t, 1, cache.hits)
}
