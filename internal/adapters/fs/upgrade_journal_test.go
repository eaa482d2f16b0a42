package fs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/registry"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

func newTestJournal(t *testing.T) *UpgradeJournalAdapter {
	t.Helper()
	cfg := &config.RuntimeConfig{DataDir: t.TempDir()}
	return NewUpgradeJournalAdapter(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func collect(t *testing.T, j *UpgradeJournalAdapter) []models.JournalEntry {
	t.Helper()
	var entries []models.JournalEntry
	require.NoError(t, j.Replay(context.Background(), func(e models.JournalEntry) error {
		entries = append(entries, e)
		return nil
	}))
	return entries
}

func TestUpgradeJournal_ReplayMissingFile(t *testing.T) {
	j := newTestJournal(t)
	assert.Empty(t, collect(t, j))
}

func TestUpgradeJournal_AppendAndReplay(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	admin := common.HexToAddress("0xa1")

	entries := []models.JournalEntry{
		{
			Timestamp:         now,
			Network:           "sepolia",
			ProxyAddress:      common.HexToAddress("0x01"),
			NewImplementation: common.HexToAddress("0x11"),
			Status:            models.StatusRegistered,
			Admin:             &admin,
		},
		{
			Timestamp:         now.Add(time.Second),
			Network:           "sepolia",
			ProxyAddress:      common.HexToAddress("0x01"),
			OldImplementation: common.HexToAddress("0x11"),
			NewImplementation: common.HexToAddress("0x22"),
			TxHandle:          &models.TxHandle{Hash: common.HexToHash("0xff"), Network: "sepolia", Nonce: 7},
			Status:            models.StatusSubmitted,
		},
	}
	for _, e := range entries {
		require.NoError(t, j.Append(ctx, e))
	}

	got := collect(t, j)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].Status, got[0].Status)
	assert.Equal(t, admin, *got[0].Admin)
	assert.Equal(t, uint64(7), got[1].TxHandle.Nonce)
	assert.True(t, entries[1].Timestamp.Equal(got[1].Timestamp))
}

func TestUpgradeJournal_TornTrailingLine(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, models.JournalEntry{Network: "sepolia", Status: models.StatusDeployed}))

	f, err := os.OpenFile(j.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"network":"sepolia","stat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Len(t, collect(t, j), 1)
}

func TestUpgradeJournal_CorruptMiddleLine(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(j.Path()), 0755))
	require.NoError(t, os.WriteFile(j.Path(), []byte("not json\n{\"status\":\"deployed\"}\n"), 0644))

	err := j.Replay(context.Background(), func(models.JournalEntry) error { return nil })
	assert.ErrorContains(t, err, "line 1")
}

func TestUpgradeJournal_BacksRegistry(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := registry.NewRegistry(j, logger)
	require.NoError(t, err)
	proxy := common.HexToAddress("0x01")
	require.NoError(t, reg.Register(ctx, &models.ProxyRecord{
		ProxyAddress:          proxy,
		Network:               "sepolia",
		CurrentImplementation: common.HexToAddress("0x11"),
		Admin:                 common.HexToAddress("0xa1"),
	}))
	rec, err := reg.Lookup(ctx, "sepolia", proxy)
	require.NoError(t, err)
	_, err = reg.RecordPendingUpgrade(ctx, rec, common.HexToAddress("0x22"))
	require.NoError(t, err)

	reopened, err := registry.NewRegistry(j, logger)
	require.NoError(t, err)
	got, err := reopened.Lookup(ctx, "sepolia", proxy)
	require.NoError(t, err)
	require.True(t, got.IsPending())
	assert.Equal(t, common.HexToAddress("0x22"), *got.PendingImplementation)
}
