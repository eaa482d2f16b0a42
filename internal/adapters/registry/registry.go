package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// Journal is the durable, append-only log behind the registry
type Journal interface {
	Append(ctx context.Context, entry models.JournalEntry) error
	Replay(ctx context.Context, fn func(models.JournalEntry) error) error
}

// Registry tracks proxies per network. Every mutation is journaled before
// it is applied in memory, and the in-memory state is rebuilt by replaying
// the journal on start-up.
type Registry struct {
	journal Journal
	log     *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	records   map[string]*models.ProxyRecord
	history   map[string][]models.JournalEntry
	impls     map[string]common.Address           // network/digest -> implementation
	artifacts map[string]models.ImplementationRef // network/implementation -> source artifact
}

// NewRegistry creates a registry and replays the journal into it
func NewRegistry(journal Journal, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		journal:   journal,
		log:       log.With("component", "ProxyRegistry"),
		now:       time.Now,
		records:   make(map[string]*models.ProxyRecord),
		history:   make(map[string][]models.JournalEntry),
		impls:     make(map[string]common.Address),
		artifacts: make(map[string]models.ImplementationRef),
	}

	count := 0
	err := journal.Replay(context.Background(), func(e models.JournalEntry) error {
		count++
		return r.apply(e)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replay upgrade journal: %w", err)
	}
	r.log.Debug("replayed upgrade journal", "entries", count, "proxies", len(r.records))
	return r, nil
}

// Lookup returns a copy of the record for a proxy
func (r *Registry) Lookup(ctx context.Context, network string, proxy common.Address) (*models.ProxyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[models.ProxyKey(network, proxy)]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrProxyNotFound, proxy.Hex(), network)
	}
	return rec.Clone(), nil
}

// Register creates the record for a newly deployed or imported proxy
func (r *Registry) Register(ctx context.Context, record *models.ProxyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.Key()]; ok {
		return fmt.Errorf("proxy %s on %s: %w", record.ProxyAddress.Hex(), record.Network, domain.ErrAlreadyExists)
	}
	if record.Kind == "" {
		record.Kind = models.TransparentProxy
	}

	admin := record.Admin
	return r.write(ctx, models.JournalEntry{
		Network:           record.Network,
		ProxyAddress:      record.ProxyAddress,
		NewImplementation: record.CurrentImplementation,
		Status:            models.StatusRegistered,
		Kind:              record.Kind,
		Label:             record.Label,
		Admin:             &admin,
		AdminContract:     record.AdminContract,
	})
}

// RecordPendingUpgrade marks newImpl as the in-flight implementation. It
// must be called before the upgrade transaction is submitted.
func (r *Registry) RecordPendingUpgrade(ctx context.Context, record *models.ProxyRecord, newImpl common.Address) (*models.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.current(record)
	if err != nil {
		return nil, err
	}
	if current.IsPending() {
		return nil, &domain.UpgradePendingError{Proxy: current.ProxyAddress, Pending: *current.PendingImplementation, Tx: current.PendingTx}
	}
	if current.CurrentImplementation != record.CurrentImplementation {
		return nil, &domain.StaleRecordError{
			Proxy:    current.ProxyAddress,
			Expected: record.CurrentImplementation,
			Actual:   current.CurrentImplementation,
			Reason:   "record changed since it was read",
		}
	}
	if newImpl == current.CurrentImplementation {
		return nil, fmt.Errorf("%s is already the implementation of %s", newImpl.Hex(), current.ProxyAddress.Hex())
	}

	err = r.write(ctx, models.JournalEntry{
		Network:           current.Network,
		ProxyAddress:      current.ProxyAddress,
		OldImplementation: current.CurrentImplementation,
		NewImplementation: newImpl,
		Status:            models.StatusPending,
	})
	if err != nil {
		return nil, err
	}
	return r.records[current.Key()].Clone(), nil
}

// AttachTransaction stores the handle of the submitted upgrade transaction
func (r *Registry) AttachTransaction(ctx context.Context, record *models.ProxyRecord, tx *models.TxHandle) (*models.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.pending(record)
	if err != nil {
		return nil, err
	}

	err = r.write(ctx, models.JournalEntry{
		Network:           current.Network,
		ProxyAddress:      current.ProxyAddress,
		OldImplementation: current.CurrentImplementation,
		NewImplementation: *current.PendingImplementation,
		TxHandle:          tx,
		Status:            models.StatusSubmitted,
	})
	if err != nil {
		return nil, err
	}
	return r.records[current.Key()].Clone(), nil
}

// Commit sets the current implementation after on-chain confirmation. It
// fails with a stale record error unless confirmedImpl is the pending one.
func (r *Registry) Commit(ctx context.Context, record *models.ProxyRecord, confirmedImpl common.Address) (*models.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.current(record)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, &domain.StaleRecordError{
			Proxy:  current.ProxyAddress,
			Actual: confirmedImpl,
			Reason: "no pending upgrade recorded",
		}
	}
	if *current.PendingImplementation != confirmedImpl {
		return nil, &domain.StaleRecordError{
			Proxy:    current.ProxyAddress,
			Expected: *current.PendingImplementation,
			Actual:   confirmedImpl,
			Reason:   "confirmed implementation does not match pending upgrade",
		}
	}

	err = r.write(ctx, models.JournalEntry{
		Network:           current.Network,
		ProxyAddress:      current.ProxyAddress,
		OldImplementation: current.CurrentImplementation,
		NewImplementation: confirmedImpl,
		TxHandle:          current.PendingTx,
		Status:            models.StatusConfirmed,
	})
	if err != nil {
		return nil, err
	}
	return r.records[current.Key()].Clone(), nil
}

// MarkFailed journals a failed attempt. The pending implementation stays set
// until chain state shows the transaction did not apply.
func (r *Registry) MarkFailed(ctx context.Context, record *models.ProxyRecord, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.current(record)
	if err != nil {
		return err
	}
	entry := models.JournalEntry{
		Network:           current.Network,
		ProxyAddress:      current.ProxyAddress,
		OldImplementation: current.CurrentImplementation,
		TxHandle:          current.PendingTx,
		Status:            models.StatusFailed,
		Reason:            reason,
	}
	if current.IsPending() {
		entry.NewImplementation = *current.PendingImplementation
	}
	return r.write(ctx, entry)
}

// ClearPending drops the pending implementation
func (r *Registry) ClearPending(ctx context.Context, record *models.ProxyRecord, reason string) (*models.ProxyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.pending(record)
	if err != nil {
		return nil, err
	}

	err = r.write(ctx, models.JournalEntry{
		Network:           current.Network,
		ProxyAddress:      current.ProxyAddress,
		OldImplementation: current.CurrentImplementation,
		NewImplementation: *current.PendingImplementation,
		TxHandle:          current.PendingTx,
		Status:            models.StatusCleared,
		Reason:            reason,
	})
	if err != nil {
		return nil, err
	}
	return r.records[current.Key()].Clone(), nil
}

// List returns copies of all records, optionally filtered by network
func (r *Registry) List(ctx context.Context, network string) ([]*models.ProxyRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := lo.FilterMap(lo.Values(r.records), func(rec *models.ProxyRecord, _ int) (*models.ProxyRecord, bool) {
		if network != "" && !strings.EqualFold(rec.Network, network) {
			return nil, false
		}
		return rec.Clone(), true
	})
	sort.Slice(records, func(i, j int) bool {
		if records[i].Network != records[j].Network {
			return records[i].Network < records[j].Network
		}
		return records[i].ProxyAddress.Cmp(records[j].ProxyAddress) < 0
	})
	return records, nil
}

// History returns the journal entries of one proxy, oldest first
func (r *Registry) History(ctx context.Context, network string, proxy common.Address) ([]models.JournalEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := models.ProxyKey(network, proxy)
	if _, ok := r.records[key]; !ok {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrProxyNotFound, proxy.Hex(), network)
	}
	return append([]models.JournalEntry(nil), r.history[key]...), nil
}

// RecordImplementation indexes a deployed implementation by bytecode digest
func (r *Registry) RecordImplementation(ctx context.Context, network string, ref models.ImplementationRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.write(ctx, models.JournalEntry{
		Network:           network,
		NewImplementation: ref.Address,
		Status:            models.StatusDeployed,
		BytecodeDigest:    &ref.BytecodeDigest,
		ArtifactKey:       ref.ArtifactKey,
		LayoutHash:        &ref.LayoutHash,
	})
}

// FindImplementation returns a previous deployment of the same bytecode
func (r *Registry) FindImplementation(ctx context.Context, network string, digest common.Hash) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	impl, ok := r.impls[digestKey(network, digest)]
	return impl, ok
}

// ArtifactFor returns the artifact an implementation was deployed from
func (r *Registry) ArtifactFor(ctx context.Context, network string, impl common.Address) (models.ImplementationRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.artifacts[models.ProxyKey(network, impl)]
	return ref, ok
}

// current returns the live record matching record's key. Caller holds mu.
func (r *Registry) current(record *models.ProxyRecord) (*models.ProxyRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: nil record", domain.ErrProxyNotFound)
	}
	current, ok := r.records[record.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", domain.ErrProxyNotFound, record.ProxyAddress.Hex(), record.Network)
	}
	return current, nil
}

// pending is current plus a check that record still describes the same
// in-flight upgrade. Caller holds mu.
func (r *Registry) pending(record *models.ProxyRecord) (*models.ProxyRecord, error) {
	current, err := r.current(record)
	if err != nil {
		return nil, err
	}
	if !current.IsPending() {
		return nil, &domain.StaleRecordError{
			Proxy:    current.ProxyAddress,
			Expected: current.CurrentImplementation,
			Actual:   current.CurrentImplementation,
			Reason:   "no pending upgrade recorded",
		}
	}
	if record.PendingImplementation != nil && *record.PendingImplementation != *current.PendingImplementation {
		return nil, &domain.StaleRecordError{
			Proxy:    current.ProxyAddress,
			Expected: *record.PendingImplementation,
			Actual:   *current.PendingImplementation,
			Reason:   "pending implementation changed",
		}
	}
	return current, nil
}

// write journals entry and then applies it. Caller holds mu.
func (r *Registry) write(ctx context.Context, entry models.JournalEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if err := r.journal.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to journal %s entry: %w", entry.Status, err)
	}
	if err := r.apply(entry); err != nil {
		return err
	}
	r.log.Debug("journaled", "status", entry.Status, "network", entry.Network,
		"proxy", entry.ProxyAddress.Hex(), "implementation", entry.NewImplementation.Hex())
	return nil
}

// apply folds one journal entry into the in-memory state
func (r *Registry) apply(e models.JournalEntry) error {
	if e.Status == models.StatusDeployed {
		ref := models.ImplementationRef{Address: e.NewImplementation, ArtifactKey: e.ArtifactKey}
		if e.BytecodeDigest != nil {
			ref.BytecodeDigest = *e.BytecodeDigest
			r.impls[digestKey(e.Network, ref.BytecodeDigest)] = e.NewImplementation
		}
		if e.LayoutHash != nil {
			ref.LayoutHash = *e.LayoutHash
		}
		r.artifacts[models.ProxyKey(e.Network, e.NewImplementation)] = ref
		return nil
	}

	key := models.ProxyKey(e.Network, e.ProxyAddress)
	if e.Status == models.StatusRegistered {
		rec := &models.ProxyRecord{
			ProxyAddress:          e.ProxyAddress,
			Network:               e.Network,
			Kind:                  e.Kind,
			Label:                 e.Label,
			CurrentImplementation: e.NewImplementation,
			AdminContract:         e.AdminContract,
			UpdatedAt:             e.Timestamp,
		}
		if e.Admin != nil {
			rec.Admin = *e.Admin
		}
		r.records[key] = rec
		r.history[key] = append(r.history[key], e)
		return nil
	}

	rec, ok := r.records[key]
	if !ok {
		return fmt.Errorf("journal entry %s for unregistered proxy %s on %s", e.Status, e.ProxyAddress.Hex(), e.Network)
	}
	switch e.Status {
	case models.StatusPending:
		impl := e.NewImplementation
		rec.PendingImplementation = &impl
		rec.PendingTx = nil
	case models.StatusSubmitted:
		rec.PendingTx = e.TxHandle
	case models.StatusConfirmed:
		rec.CurrentImplementation = e.NewImplementation
		rec.PendingImplementation = nil
		rec.PendingTx = nil
	case models.StatusCleared:
		rec.PendingImplementation = nil
		rec.PendingTx = nil
	case models.StatusFailed:
	default:
		return fmt.Errorf("unknown journal status %q", e.Status)
	}
	rec.UpdatedAt = e.Timestamp
	r.history[key] = append(r.history[key], e)
	return nil
}

func digestKey(network string, digest common.Hash) string {
	return fmt.Sprintf("%s/%s", strings.ToLower(network), digest.Hex())
}
