package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryWithTxRollsBack(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		require.NoError(t, repo.InsertCompany(ctx, Company{ID: "c1", Name: "One"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetCompany(ctx, "c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryUpdateAllocationVersionGuard(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := Allocation{ID: "a1", CompanyID: "c1", CertificateNumber: "C-1", Status: StatusActive, Version: 1}
	require.NoError(t, s.InsertAllocation(ctx, a))

	stale := a
	stale.Version = 1
	require.ErrorIs(t, s.UpdateAllocation(ctx, stale), ErrConflict)

	next := a
	next.Version = 2
	next.Status = StatusCancelled
	require.NoError(t, s.UpdateAllocation(ctx, next))

	renumbered := next
	renumbered.Version = 3
	renumbered.CertificateNumber = "C-2"
	require.ErrorIs(t, s.UpdateAllocation(ctx, renumbered), ErrValidation)

	used, err := s.CertificateInUse(ctx, "C-1")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestInMemoryListAllocationsOrderAndFilter(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertAllocation(ctx, Allocation{ID: "b", CompanyID: "c", ShareClass: "ORD", AllocationDate: d2, Status: StatusActive}))
	require.NoError(t, s.InsertAllocation(ctx, Allocation{ID: "a", CompanyID: "c", ShareClass: "ORD", AllocationDate: d1, Status: StatusActive}))
	require.NoError(t, s.InsertAllocation(ctx, Allocation{ID: "z", CompanyID: "c", ShareClass: "PREF", AllocationDate: d1, Status: StatusCancelled}))

	all, err := s.ListAllocations(ctx, AllocationFilter{CompanyID: "c"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "z", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})

	ord, err := s.ListAllocations(ctx, AllocationFilter{CompanyID: "c", ShareClass: "ord", Status: StatusActive})
	require.NoError(t, err)
	assert.Len(t, ord, 2)
}

func TestInMemoryReadersSeeCommittedStateOnly(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.InsertCompany(ctx, Company{ID: "c1", Name: "One"}))

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- s.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			if err := repo.InsertShareholder(ctx, Shareholder{ID: "h1", FullName: "H"}); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	_, err := s.GetShareholder(ctx, "h1")
	require.ErrorIs(t, err, ErrNotFound)
	close(release)
	require.NoError(t, <-done)

	_, err = s.GetShareholder(ctx, "h1")
	require.NoError(t, err)
}
