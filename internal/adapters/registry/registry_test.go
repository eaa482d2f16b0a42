package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

var (
	proxyAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	adminAddr = common.HexToAddress("0xa000000000000000000000000000000000000001")
	implV1    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	implV2    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	implV3    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) (*Registry, *MemoryJournal) {
	t.Helper()
	journal := NewMemoryJournal()
	reg, err := NewRegistry(journal, discardLogger())
	require.NoError(t, err)

	require.NoError(t, reg.Register(context.Background(), &models.ProxyRecord{
		ProxyAddress:          proxyAddr,
		Network:               "sepolia",
		CurrentImplementation: implV1,
		Admin:                 adminAddr,
		Label:                 "PoolManager",
	}))
	return reg, journal
}

func TestRegistry_Lookup(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := reg.Lookup(ctx, "sepolia", proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implV1, rec.CurrentImplementation)
	assert.Equal(t, adminAddr, rec.Admin)
	assert.Equal(t, models.TransparentProxy, rec.Kind)
	assert.False(t, rec.IsPending())

	_, err = reg.Lookup(ctx, "mainnet", proxyAddr)
	assert.True(t, errors.Is(err, domain.ErrProxyNotFound))

	rec.CurrentImplementation = implV3
	again, err := reg.Lookup(ctx, "sepolia", proxyAddr)
	require.NoError(t, err)
	assert.Equal(t, implV1, again.CurrentImplementation, "lookup must return a copy")
}

func TestRegistry_RegisterTwice(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.Register(context.Background(), &models.ProxyRecord{ProxyAddress: proxyAddr, Network: "sepolia"})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))
}

func TestRegistry_TwoPhaseUpgrade(t *testing.T) {
	reg, journal := newTestRegistry(t)
	ctx := context.Background()

	rec, err := reg.Lookup(ctx, "sepolia", proxyAddr)
	require.NoError(t, err)

	rec, err = reg.RecordPendingUpgrade(ctx, rec, implV2)
	require.NoError(t, err)
	require.NotNil(t, rec.PendingImplementation)
	assert.Equal(t, implV2, *rec.PendingImplementation)
	assert.Equal(t, implV1, rec.CurrentImplementation)

	tx := &models.TxHandle{Hash: common.HexToHash("0xabc"), Network: "sepolia"}
	rec, err = reg.AttachTransaction(ctx, rec, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, rec.PendingTx.Hash)

	rec, err = reg.Commit(ctx, rec, implV2)
	require.NoError(t, err)
	assert.Equal(t, implV2, rec.CurrentImplementation)
	assert.Nil(t, rec.PendingImplementation)
	assert.Nil(t, rec.PendingTx)

	statuses := make([]models.UpgradeStatus, 0)
	for _, e := range journal.Entries() {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []models.UpgradeStatus{
		models.StatusRegistered, models.StatusPending, models.StatusSubmitted, models.StatusConfirmed,
	}, statuses)

	confirmed := journal.Entries()[3]
	assert.Equal(t, implV1, confirmed.OldImplementation)
	assert.Equal(t, implV2, confirmed.NewImplementation)
	require.NotNil(t, confirmed.TxHandle)
	assert.Equal(t, tx.Hash, confirmed.TxHandle.Hash)
}

func TestRegistry_CommitMismatchIsStale(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, _ := reg.Lookup(ctx, "sepolia", proxyAddr)

	// nothing pending
	_, err := reg.Commit(ctx, rec, implV2)
	assert.True(t, errors.Is(err, domain.ErrStaleRecord))

	rec, err = reg.RecordPendingUpgrade(ctx, rec, implV2)
	require.NoError(t, err)

	for _, confirmed := range []common.Address{implV1, implV3, {}} {
		_, err = reg.Commit(ctx, rec, confirmed)
		require.Error(t, err)
		var stale *domain.StaleRecordError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, implV2, stale.Expected)
		assert.Equal(t, confirmed, stale.Actual)
	}

	after, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	assert.Equal(t, implV1, after.CurrentImplementation)
	require.NotNil(t, after.PendingImplementation)
	assert.Equal(t, implV2, *after.PendingImplementation)
}

func TestRegistry_RecordPendingGuards(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	rec, _ := reg.Lookup(ctx, "sepolia", proxyAddr)

	_, err := reg.RecordPendingUpgrade(ctx, rec, implV2)
	require.NoError(t, err)

	_, err = reg.RecordPendingUpgrade(ctx, rec, implV3)
	assert.True(t, errors.Is(err, domain.ErrUpgradePending))

	stale := rec.Clone()
	stale.CurrentImplementation = implV3
	other, _ := newTestRegistry(t)
	_, err = other.RecordPendingUpgrade(ctx, stale, implV2)
	assert.True(t, errors.Is(err, domain.ErrStaleRecord))

	_, err = other.RecordPendingUpgrade(ctx, rec, implV1)
	assert.Error(t, err, "upgrading to the current implementation")
}

func TestRegistry_FailureKeepsPending(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	rec, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	rec, _ = reg.RecordPendingUpgrade(ctx, rec, implV2)

	require.NoError(t, reg.MarkFailed(ctx, rec, "execution reverted"))
	after, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	require.True(t, after.IsPending())

	cleared, err := reg.ClearPending(ctx, after, "receipt reverted")
	require.NoError(t, err)
	assert.False(t, cleared.IsPending())
	assert.Equal(t, implV1, cleared.CurrentImplementation)

	_, err = reg.ClearPending(ctx, cleared, "again")
	assert.True(t, errors.Is(err, domain.ErrStaleRecord))

	history, err := reg.History(ctx, "sepolia", proxyAddr)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.StatusFailed, history[2].Status)
	assert.Equal(t, "execution reverted", history[2].Reason)
	assert.Equal(t, models.StatusCleared, history[3].Status)
}

func TestRegistry_ReplayRebuildsState(t *testing.T) {
	reg, journal := newTestRegistry(t)
	ctx := context.Background()

	rec, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	rec, _ = reg.RecordPendingUpgrade(ctx, rec, implV2)
	_, err := reg.AttachTransaction(ctx, rec, &models.TxHandle{Hash: common.HexToHash("0x01")})
	require.NoError(t, err)
	digest := common.HexToHash("0xd1")
	layoutHash := common.HexToHash("0x1a")
	require.NoError(t, reg.RecordImplementation(ctx, "sepolia", models.ImplementationRef{
		Address:        implV2,
		BytecodeDigest: digest,
		ArtifactKey:    "PoolManager@0.8.20",
		LayoutHash:     layoutHash,
	}))

	restarted, err := NewRegistry(NewMemoryJournal(journal.Entries()...), discardLogger())
	require.NoError(t, err)

	got, err := restarted.Lookup(ctx, "sepolia", proxyAddr)
	require.NoError(t, err)
	require.True(t, got.IsPending())
	assert.Equal(t, implV2, *got.PendingImplementation)
	assert.Equal(t, common.HexToHash("0x01"), got.PendingTx.Hash)

	impl, ok := restarted.FindImplementation(ctx, "SEPOLIA", digest)
	assert.True(t, ok)
	assert.Equal(t, implV2, impl)

	ref, ok := restarted.ArtifactFor(ctx, "sepolia", implV2)
	assert.True(t, ok)
	assert.Equal(t, "PoolManager@0.8.20", ref.ArtifactKey)
	assert.Equal(t, layoutHash, ref.LayoutHash)
}

func TestRegistry_ReplayRejectsOrphanEntries(t *testing.T) {
	journal := NewMemoryJournal(models.JournalEntry{
		Network:      "sepolia",
		ProxyAddress: proxyAddr,
		Status:       models.StatusConfirmed,
	})
	_, err := NewRegistry(journal, discardLogger())
	assert.Error(t, err)
}

type failingJournal struct{ MemoryJournal }

func (f *failingJournal) Append(context.Context, models.JournalEntry) error {
	return errors.New("disk full")
}

func TestRegistry_JournalFailureLeavesStateUntouched(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	reg.journal = &failingJournal{}

	rec, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	_, err := reg.RecordPendingUpgrade(ctx, rec, implV2)
	require.Error(t, err)

	after, _ := reg.Lookup(ctx, "sepolia", proxyAddr)
	assert.False(t, after.IsPending())
}

func TestRegistry_List(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, &models.ProxyRecord{
		ProxyAddress: common.HexToAddress("0x0200000000000000000000000000000000000002"),
		Network:      "mainnet",
		Kind:         models.UUPSProxy,
	}))

	all, err := reg.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "mainnet", all[0].Network)

	sepolia, err := reg.List(ctx, "sepolia")
	require.NoError(t, err)
	require.Len(t, sepolia, 1)
	assert.Equal(t, "PoolManager", sepolia[0].Label)
}
