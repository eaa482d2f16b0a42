package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// ReconcileOutcome is what reconciliation did with one record
type ReconcileOutcome string

const (
	ReconcileCommitted    ReconcileOutcome = "committed"
	ReconcileCleared      ReconcileOutcome = "cleared"
	ReconcileStillPending ReconcileOutcome = "still pending"
	ReconcileInSync       ReconcileOutcome = "in sync"
	ReconcileDrifted      ReconcileOutcome = "drifted"
)

// ReconcileUpgradesParams contains parameters for reconciling pending upgrades
type ReconcileUpgradesParams struct {
	Network string
	Proxy   string // optional, all records on the network otherwise
	Timeout time.Duration
	// Abandon clears pending upgrades that never got a transaction handle
	Abandon bool
}

// ReconcileResult reports one record
type ReconcileResult struct {
	Network        string
	Proxy          common.Address
	Label          string
	Outcome        ReconcileOutcome
	Pending        *common.Address
	Implementation common.Address // implementation slot value
	Tx             *models.TxHandle
	Reason         string
}

// ReconcileUpgrades settles pending upgrades against chain state
type ReconcileUpgrades struct {
	config   *config.RuntimeConfig
	registry ProxyRegistry
	dialer   NetworkDialer
	locker   ProxyLocker
	progress ProgressSink
	log      *slog.Logger
}

// NewReconcileUpgrades creates a new ReconcileUpgrades use case
func NewReconcileUpgrades(
	cfg *config.RuntimeConfig,
	registry ProxyRegistry,
	dialer NetworkDialer,
	locker ProxyLocker,
	progress ProgressSink,
	log *slog.Logger,
) *ReconcileUpgrades {
	if progress == nil {
		progress = NopProgress{}
	}
	return &ReconcileUpgrades{
		config:   cfg,
		registry: registry,
		dialer:   dialer,
		locker:   locker,
		progress: progress,
		log:      log.With("component", "ReconcileUpgrades"),
	}
}

// Run reconciles every matching record
func (uc *ReconcileUpgrades) Run(ctx context.Context, params ReconcileUpgradesParams) ([]*ReconcileResult, error) {
	network, err := resolveNetwork(uc.config, params.Network)
	if err != nil {
		return nil, err
	}

	var records []*models.ProxyRecord
	if params.Proxy != "" {
		addr, err := resolveProxy(ctx, uc.registry, network, params.Proxy)
		if err != nil {
			return nil, err
		}
		rec, err := uc.registry.Lookup(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	} else if records, err = uc.registry.List(ctx, network); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	client, err := uc.dialer.Dial(ctx, network)
	if err != nil {
		return nil, err
	}

	timeout := params.Timeout
	if timeout == 0 && uc.config != nil {
		timeout = uc.config.Timeout
	}

	results := make([]*ReconcileResult, 0, len(records))
	for i, rec := range records {
		uc.progress.OnProgress(ctx, ProgressEvent{
			Stage:   "Reconciling",
			Current: i + 1,
			Total:   len(records),
			Message: rec.DisplayName(),
			Spinner: true,
		})
		res, err := uc.reconcile(ctx, client, rec, timeout, params.Abandon)
		if err != nil {
			return results, fmt.Errorf("reconciling %s: %w", rec.DisplayName(), err)
		}
		results = append(results, res)
	}
	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageCompleted)})
	return results, nil
}

func (uc *ReconcileUpgrades) reconcile(ctx context.Context, client NetworkClient, rec *models.ProxyRecord, timeout time.Duration, abandon bool) (*ReconcileResult, error) {
	unlock, err := uc.locker.Lock(ctx, rec.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	// re-read under the lock, an upgrade may have finished meanwhile
	rec, err = uc.registry.Lookup(ctx, rec.Network, rec.ProxyAddress)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{
		Network: rec.Network,
		Proxy:   rec.ProxyAddress,
		Label:   rec.Label,
		Pending: rec.PendingImplementation,
		Tx:      rec.PendingTx,
	}
	log := uc.log.With("network", rec.Network, "proxy", rec.ProxyAddress.Hex())

	onChain, err := readImplementation(ctx, client, rec.ProxyAddress)
	if err != nil {
		return nil, err
	}
	res.Implementation = onChain

	if !rec.IsPending() {
		res.Outcome = ReconcileInSync
		if onChain != rec.CurrentImplementation {
			res.Outcome = ReconcileDrifted
			res.Reason = fmt.Sprintf("registry has %s", rec.CurrentImplementation.Hex())
			log.Warn("implementation slot drifted from registry", "registry", rec.CurrentImplementation.Hex(), "slot", onChain.Hex())
		}
		return res, nil
	}
	pending := *rec.PendingImplementation

	if onChain == pending {
		if _, err := uc.registry.Commit(ctx, rec, onChain); err != nil {
			return nil, err
		}
		res.Outcome = ReconcileCommitted
		log.Info("committed pending upgrade", "implementation", onChain.Hex())
		return res, nil
	}

	if rec.PendingTx == nil {
		if !abandon {
			res.Outcome = ReconcileStillPending
			res.Reason = "no transaction was submitted; rerun with --abandon to clear"
			return res, nil
		}
		return uc.clear(ctx, rec, res, "abandoned before submission")
	}

	confirmation, err := client.AwaitConfirmation(ctx, rec.PendingTx, timeout)
	if err != nil {
		return nil, err
	}
	switch confirmation.Status {
	case models.ConfirmationFailed:
		reason := confirmation.Reason
		if reason == "" {
			reason = "transaction reverted"
		}
		return uc.clear(ctx, rec, res, reason)
	case models.ConfirmationConfirmed:
		// the receipt may have landed after the first slot read
		if onChain, err = readImplementation(ctx, client, rec.ProxyAddress); err != nil {
			return nil, err
		}
		res.Implementation = onChain
		if onChain == pending {
			if _, err := uc.registry.Commit(ctx, rec, onChain); err != nil {
				return nil, err
			}
			res.Outcome = ReconcileCommitted
			log.Info("committed pending upgrade", "implementation", onChain.Hex(), "tx", rec.PendingTx.Hash.Hex())
			return res, nil
		}
		res.Outcome = ReconcileStillPending
		res.Reason = fmt.Sprintf("transaction confirmed but implementation slot holds %s", onChain.Hex())
		log.Warn("confirmed upgrade not reflected in implementation slot", "tx", rec.PendingTx.Hash.Hex(), "slot", onChain.Hex())
		return res, nil
	default:
		res.Outcome = ReconcileStillPending
		res.Reason = "transaction not yet mined"
		return res, nil
	}
}

// clear journals the failure and drops the pending implementation
func (uc *ReconcileUpgrades) clear(ctx context.Context, rec *models.ProxyRecord, res *ReconcileResult, reason string) (*ReconcileResult, error) {
	if err := uc.registry.MarkFailed(ctx, rec, reason); err != nil {
		return nil, err
	}
	if _, err := uc.registry.ClearPending(ctx, rec, reason); err != nil {
		return nil, err
	}
	res.Outcome = ReconcileCleared
	res.Reason = reason
	uc.log.Info("cleared pending upgrade", "network", rec.Network, "proxy", rec.ProxyAddress.Hex(), "reason", reason)
	return res, nil
}
