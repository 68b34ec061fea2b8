package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capledger.org/internal/ledger"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PG_DSN", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSmokeInMemory(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runSmoke(context.Background(), ledger.NewService(ledger.NewInMemory()), &out))
	assert.Contains(t, out.String(), "smoke test passed")
	assert.Contains(t, out.String(), "shares=1000")
}

func TestSmokeCommand(t *testing.T) {
	out, err := runCLI(t, "smoke")
	require.NoError(t, err)
	assert.Contains(t, out, "smoke test passed")
}

func TestMigrateRequiresDSN(t *testing.T) {
	_, err := runCLI(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PG_DSN")
}

func TestMigrateFiles(t *testing.T) {
	out, err := runCLI(t, "migrate", "files")
	require.NoError(t, err)
	assert.Contains(t, out, "000001_ledger.up.sql")
}

func TestStatsUnknownCompany(t *testing.T) {
	_, err := runCLI(t, "stats", "missing")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestExportArgs(t *testing.T) {
	_, err := runCLI(t, "export")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "out.xlsx")
	_, err = runCLI(t, "export", "missing", "-o", path)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
