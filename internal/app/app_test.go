package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capledger.org/internal/config"
)

func TestBuildInMemory(t *testing.T) {
	cfg := &config.Config{Cache: config.Cache{StatsTTL: time.Minute}}
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.PG)
	assert.Nil(t, a.Redis)

	c, err := a.Ledger.RegisterCompany(context.Background(), "Acme Holdings Ltd", "")
	require.NoError(t, err)
	classes, err := a.Ledger.GetAllShareClasses(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, classes, 1)

	assert.NoError(t, a.ReadyProbe().Check(context.Background()))
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cfg := &config.Config{
		Redis: config.Redis{Addr: "127.0.0.1:1"},
		Cache: config.Cache{StatsTTL: time.Minute},
	}
	_, err := Build(ctx, cfg)
	require.Error(t, err)
}

func TestCloseJoinsErrors(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	a := &App{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
	}}
	require.ErrorIs(t, a.Close(), boom)
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, a.Close())
}
