package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/bindings"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// UpgradeProxyParams contains parameters for upgrading a proxy
type UpgradeProxyParams struct {
	Network     string // defaults to the selected network
	Proxy       string // address or registered label
	ArtifactRef string
	SignerName  string
	Timeout     time.Duration
	CallData    []byte
	DryRun      bool
	Yes         bool // skip the confirmation prompt
	NoWait      bool // fail instead of waiting for another upgrade of the proxy
}

// UpgradeRequest is a fully resolved upgrade
type UpgradeRequest struct {
	Network  string
	Proxy    common.Address
	Artifact *models.Artifact
	Signer   Signer // may be nil for dry runs
	Timeout  time.Duration
	CallData []byte
	DryRun   bool
	Confirm  bool
	NoWait   bool
}

// UpgradeResult describes how far an upgrade got
type UpgradeResult struct {
	Network              string
	Proxy                common.Address
	Record               *models.ProxyRecord
	State                models.UpgradeState
	Transitions          []models.UpgradeState
	Reason               string
	OldImplementation    common.Address
	NewImplementation    common.Address
	Artifact             string
	Baseline             string
	Verdict              *models.CompatibilityVerdict
	ImplementationReused bool
	DeployTx             *models.TxHandle
	UpgradeTx            *models.TxHandle
	Call                 *bindings.UpgradeCall
	Confirmation         *models.Confirmation
	AlreadyUpgraded      bool
	DryRun               bool
}

func (r *UpgradeResult) transition(next models.UpgradeState) {
	if !r.State.CanTransition(next) {
		return
	}
	r.State = next
	r.Transitions = append(r.Transitions, next)
}

func (r *UpgradeResult) fail(err error) error {
	r.Reason = err.Error()
	r.transition(models.StateFailed)
	return err
}

// UpgradeProxy replaces the implementation behind a registered proxy. The
// storage layout of the new artifact is checked against the deployed one
// before any transaction is built, and the registry only records an
// implementation as current once the proxy's implementation slot shows it.
type UpgradeProxy struct {
	config    *config.RuntimeConfig
	artifacts ArtifactStore
	analyzer  LayoutAnalyzer
	checker   CompatibilityChecker
	registry  ProxyRegistry
	dialer    NetworkDialer
	signers   SignerProvider
	locker    ProxyLocker
	confirmer UpgradeConfirmer
	selector  ArtifactSelector
	progress  ProgressSink
	log       *slog.Logger
}

// NewUpgradeProxy creates a new UpgradeProxy use case
func NewUpgradeProxy(
	cfg *config.RuntimeConfig,
	artifacts ArtifactStore,
	analyzer LayoutAnalyzer,
	checker CompatibilityChecker,
	registry ProxyRegistry,
	dialer NetworkDialer,
	signers SignerProvider,
	locker ProxyLocker,
	confirmer UpgradeConfirmer,
	selector ArtifactSelector,
	progress ProgressSink,
	log *slog.Logger,
) *UpgradeProxy {
	if progress == nil {
		progress = NopProgress{}
	}
	return &UpgradeProxy{
		config:    cfg,
		artifacts: artifacts,
		analyzer:  analyzer,
		checker:   checker,
		registry:  registry,
		dialer:    dialer,
		signers:   signers,
		locker:    locker,
		confirmer: confirmer,
		selector:  selector,
		progress:  progress,
		log:       log.With("component", "UpgradeProxy"),
	}
}

// Run resolves params and performs the upgrade
func (uc *UpgradeProxy) Run(ctx context.Context, params UpgradeProxyParams) (*UpgradeResult, error) {
	network, err := resolveNetwork(uc.config, params.Network)
	if err != nil {
		return nil, err
	}
	proxy, err := resolveProxy(ctx, uc.registry, network, params.Proxy)
	if err != nil {
		return nil, err
	}

	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageResolving), Message: params.ArtifactRef, Spinner: true})
	artifact, err := uc.resolveArtifact(ctx, params.ArtifactRef)
	if err != nil {
		return nil, err
	}

	var signer Signer
	if !params.DryRun || params.SignerName != "" {
		if signer, err = uc.signers.Signer(params.SignerName); err != nil {
			return nil, fmt.Errorf("failed to resolve signer: %w", err)
		}
	}

	timeout := params.Timeout
	if timeout == 0 && uc.config != nil {
		timeout = uc.config.Timeout
	}
	dryRun := params.DryRun || (uc.config != nil && uc.config.DryRun)

	return uc.Upgrade(ctx, UpgradeRequest{
		Network:  network,
		Proxy:    proxy,
		Artifact: artifact,
		Signer:   signer,
		Timeout:  timeout,
		CallData: params.CallData,
		DryRun:   dryRun,
		Confirm:  !params.Yes,
		NoWait:   params.NoWait,
	})
}

func (uc *UpgradeProxy) resolveArtifact(ctx context.Context, ref string) (*models.Artifact, error) {
	artifact, err := uc.artifacts.Get(ctx, ref)
	if err == nil {
		return artifact, nil
	}
	var notFound *domain.ArtifactNotFoundError
	if uc.selector == nil || !errors.As(err, &notFound) || len(notFound.Suggestions) == 0 {
		return nil, err
	}
	if uc.config != nil && uc.config.NonInteractive {
		return nil, err
	}
	chosen, selErr := uc.selector.SelectArtifact(ctx, notFound.Suggestions, fmt.Sprintf("Artifact %q not found, pick one", ref))
	if selErr != nil {
		return nil, err
	}
	return uc.artifacts.Get(ctx, chosen)
}

// Upgrade walks Idle → LayoutResolved → CompatibilityChecked →
// ImplementationDeployed → PendingOnChain → Committed. Every call starts
// from chain state; nothing from an earlier attempt is reused except the
// registry record.
func (uc *UpgradeProxy) Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error) {
	res := &UpgradeResult{
		Network:     req.Network,
		Proxy:       req.Proxy,
		State:       models.StateIdle,
		Transitions: []models.UpgradeState{models.StateIdle},
		DryRun:      req.DryRun,
	}
	if req.Artifact == nil {
		return res, res.fail(fmt.Errorf("%w: no artifact", domain.ErrArtifactNotFound))
	}
	res.Artifact = req.Artifact.Key()
	log := uc.log.With("network", req.Network, "proxy", req.Proxy.Hex())

	record, err := uc.registry.Lookup(ctx, req.Network, req.Proxy)
	if err != nil {
		return res, res.fail(err)
	}
	res.Record = record
	res.OldImplementation = record.CurrentImplementation

	// authorization is decided from the record alone
	if req.Signer == nil && !req.DryRun {
		return res, res.fail(fmt.Errorf("%w: no signer configured", domain.ErrUnauthorized))
	}
	if req.Signer != nil && req.Signer.Address() != record.Admin {
		return res, res.fail(&domain.UnauthorizedError{Signer: req.Signer.Address(), Admin: record.Admin})
	}
	if record.IsPending() {
		return res, res.fail(&domain.UpgradePendingError{Proxy: req.Proxy, Pending: *record.PendingImplementation, Tx: record.PendingTx})
	}

	client, err := uc.dialer.Dial(ctx, req.Network)
	if err != nil {
		return res, res.fail(err)
	}

	onChain, err := readImplementation(ctx, client, req.Proxy)
	if err != nil {
		return res, res.fail(err)
	}
	if onChain != record.CurrentImplementation {
		return res, res.fail(&domain.StaleRecordError{
			Proxy:    req.Proxy,
			Expected: record.CurrentImplementation,
			Actual:   onChain,
			Reason:   "implementation slot differs from the registry",
		})
	}

	// Idle → LayoutResolved
	baseline, err := uc.resolveBaseline(ctx, client, record)
	if err != nil {
		return res, res.fail(err)
	}
	res.Baseline = baseline.Key()
	oldLayout, err := uc.analyzer.ExtractLayout(baseline)
	if err != nil {
		return res, res.fail(err)
	}
	newLayout, err := uc.analyzer.ExtractLayout(req.Artifact)
	if err != nil {
		return res, res.fail(err)
	}
	res.transition(models.StateLayoutResolved)

	// LayoutResolved → CompatibilityChecked
	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageChecking), Message: fmt.Sprintf("%s → %s", res.Baseline, res.Artifact), Spinner: true})
	verdict := uc.checker.Check(oldLayout, newLayout)
	res.Verdict = verdict
	if !verdict.Compatible {
		log.Info("upgrade blocked by storage layout", "violations", len(verdict.Violations))
		return res, res.fail(&domain.IncompatibleUpgradeError{Proxy: req.Proxy, Violations: verdict.Violations})
	}
	res.transition(models.StateCompatibilityChecked)

	digest := req.Artifact.BytecodeDigest()
	existing, reusable := uc.existingImplementation(ctx, client, req.Network, digest)
	if req.DryRun {
		if reusable {
			res.NewImplementation = existing
			res.ImplementationReused = true
		}
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageCompleted)})
		return res, nil
	}

	if req.Confirm && uc.confirmer != nil {
		summary := &UpgradePlanSummary{
			Network:  req.Network,
			Proxy:    record,
			Artifact: res.Artifact,
			Baseline: res.Baseline,
			Verdict:  verdict,
		}
		if reusable {
			summary.Implementation = &existing
		}
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageChecking)})
		ok, err := uc.confirmer.ConfirmUpgrade(ctx, summary)
		if err != nil {
			return res, res.fail(err)
		}
		if !ok {
			return res, res.fail(domain.ErrCancelled)
		}
	}

	// Steps from here on hold the per-proxy lock
	unlock, err := uc.acquire(ctx, record, req.NoWait)
	if err != nil {
		return res, res.fail(err)
	}
	defer unlock()

	record, err = uc.registry.Lookup(ctx, req.Network, req.Proxy)
	if err != nil {
		return res, res.fail(err)
	}
	res.Record = record
	if record.IsPending() {
		return res, res.fail(&domain.UpgradePendingError{Proxy: req.Proxy, Pending: *record.PendingImplementation, Tx: record.PendingTx})
	}
	if record.CurrentImplementation != res.OldImplementation {
		if ref, ok := uc.registry.ArtifactFor(ctx, req.Network, record.CurrentImplementation); ok && ref.BytecodeDigest == digest {
			log.Info("proxy already upgraded to this artifact", "implementation", record.CurrentImplementation.Hex())
			res.AlreadyUpgraded = true
			res.NewImplementation = record.CurrentImplementation
			uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageCompleted)})
			return res, nil
		}
		return res, res.fail(&domain.StaleRecordError{
			Proxy:    req.Proxy,
			Expected: res.OldImplementation,
			Actual:   record.CurrentImplementation,
			Reason:   "proxy was upgraded by another attempt",
		})
	}

	// CompatibilityChecked → ImplementationDeployed
	impl, err := uc.ensureImplementation(ctx, client, req, res, existing, reusable)
	if err != nil {
		return res, res.fail(err)
	}
	res.NewImplementation = impl
	res.transition(models.StateImplementationDeployed)

	if impl == record.CurrentImplementation {
		res.AlreadyUpgraded = true
		uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageCompleted)})
		return res, nil
	}

	// ImplementationDeployed → PendingOnChain
	record, err = uc.registry.RecordPendingUpgrade(ctx, record, impl)
	if err != nil {
		return res, res.fail(err)
	}
	res.Record = record
	res.transition(models.StatePendingOnChain)

	call, err := bindings.EncodeProxyUpgrade(record.ProxyAddress, record.AdminContract, impl, req.CallData)
	if err != nil {
		uc.markFailed(ctx, record, err.Error())
		return res, res.fail(err)
	}
	res.Call = call

	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageSubmitting), Message: call.Method, Spinner: true})
	sendCtx, cancel := withTimeout(ctx, req.Timeout)
	tx, err := client.SendTransaction(sendCtx, call.To, call.Data, req.Signer)
	cancel()
	if err != nil {
		if tx != nil {
			// signed but the broadcast outcome is unknown; reconcile decides later
			res.UpgradeTx = tx
			if rec, attachErr := uc.registry.AttachTransaction(ctx, record, tx); attachErr == nil {
				res.Record = rec
			} else {
				log.Error("failed to attach transaction", "tx", tx.Hash.Hex(), "error", attachErr)
			}
			log.Warn("upgrade submission outcome unknown", "tx", tx.Hash.Hex(), "error", err)
			return res, &domain.TimedOutAwaitingConfirmationError{Tx: tx}
		}
		uc.markFailed(ctx, record, err.Error())
		return res, res.fail(&domain.UpgradeTransactionFailedError{Stage: "upgrade", Reason: err.Error()})
	}
	res.UpgradeTx = tx
	record, err = uc.registry.AttachTransaction(ctx, record, tx)
	if err != nil {
		return res, err
	}
	res.Record = record
	log.Info("upgrade submitted", "tx", tx.Hash.Hex(), "implementation", impl.Hex())

	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageConfirming), Message: tx.Hash.Hex(), Spinner: true})
	confirmation, err := client.AwaitConfirmation(ctx, tx, req.Timeout)
	// the record stays pending in both cases; reconcile resolves it
	if err != nil && ctx.Err() != nil {
		log.Warn("interrupted awaiting confirmation", "tx", tx.Hash.Hex(), "error", ctx.Err())
		return res, &domain.TimedOutAwaitingConfirmationError{Tx: tx}
	}
	if err != nil {
		return res, fmt.Errorf("awaiting confirmation of %s: %w", tx.Hash.Hex(), err)
	}
	res.Confirmation = confirmation

	switch confirmation.Status {
	case models.ConfirmationPending:
		log.Warn("upgrade not confirmed before timeout", "tx", tx.Hash.Hex(), "timeout", req.Timeout)
		return res, &domain.TimedOutAwaitingConfirmationError{Tx: tx}
	case models.ConfirmationFailed:
		uc.markFailed(ctx, record, confirmation.Reason)
		return res, res.fail(&domain.UpgradeTransactionFailedError{Stage: "upgrade", Tx: tx, Reason: confirmation.Reason})
	}

	// PendingOnChain → Committed, only once the slot proves it
	onChain, err = readImplementation(ctx, client, req.Proxy)
	if err != nil {
		return res, fmt.Errorf("verifying upgrade: %w", err)
	}
	if onChain != impl {
		reason := fmt.Sprintf("transaction confirmed but implementation slot holds %s", onChain.Hex())
		uc.markFailed(ctx, record, reason)
		return res, res.fail(&domain.UpgradeTransactionFailedError{Stage: "upgrade", Tx: tx, Reason: reason})
	}
	if !emittedUpgrade(confirmation, req.Proxy, impl) {
		// the slot is authoritative; some proxies do not emit Upgraded
		log.Warn("no Upgraded event for the new implementation in receipt", "tx", tx.Hash.Hex())
	}
	record, err = uc.registry.Commit(ctx, record, onChain)
	if err != nil {
		return res, res.fail(err)
	}
	res.Record = record
	res.transition(models.StateCommitted)
	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageCompleted)})
	log.Info("upgrade committed", "implementation", impl.Hex(), "block", confirmation.BlockNumber)
	return res, nil
}

// resolveBaseline finds the artifact of the implementation currently behind
// the proxy: first from what this tool deployed, then from the code on chain.
func (uc *UpgradeProxy) resolveBaseline(ctx context.Context, client NetworkClient, record *models.ProxyRecord) (*models.Artifact, error) {
	return resolveBaseline(ctx, uc.artifacts, uc.registry, client, record)
}

func resolveBaseline(ctx context.Context, artifacts ArtifactStore, registry ProxyRegistry, client NetworkClient, record *models.ProxyRecord) (*models.Artifact, error) {
	impl := record.CurrentImplementation
	if ref, ok := registry.ArtifactFor(ctx, record.Network, impl); ok {
		if artifact, err := artifacts.FindByLayoutHash(ctx, ref.LayoutHash); err == nil {
			return artifact, nil
		}
	}

	code, err := client.CodeAt(ctx, impl)
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: no code at implementation %s", domain.ErrImplementationUnresolvable, impl.Hex())
	}
	artifact, err := artifacts.FindByDeployedCode(ctx, code)
	if errors.Is(err, domain.ErrImplementationUnresolvable) {
		return nil, fmt.Errorf("implementation %s: %w", impl.Hex(), err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: implementation %s matches no known artifact", domain.ErrImplementationUnresolvable, impl.Hex())
	}
	return artifact, nil
}

func (uc *UpgradeProxy) acquire(ctx context.Context, record *models.ProxyRecord, noWait bool) (func(), error) {
	if !noWait {
		unlock, err := uc.locker.Lock(ctx, record.Key())
		if err != nil {
			return nil, fmt.Errorf("waiting for proxy lock: %w", err)
		}
		return unlock, nil
	}
	unlock, ok := uc.locker.TryLock(record.Key())
	if !ok {
		return nil, fmt.Errorf("%w: another upgrade of %s is in progress", domain.ErrUpgradePending, record.DisplayName())
	}
	return unlock, nil
}

// existingImplementation returns an earlier deployment of the same bytecode
// on this network, if it still has code.
func (uc *UpgradeProxy) existingImplementation(ctx context.Context, client NetworkClient, network string, digest common.Hash) (common.Address, bool) {
	addr, ok := uc.registry.FindImplementation(ctx, network, digest)
	if !ok {
		return common.Address{}, false
	}
	code, err := client.CodeAt(ctx, addr)
	if err != nil || len(code) == 0 {
		uc.log.Warn("recorded implementation has no code, redeploying", "network", network, "implementation", addr.Hex())
		return common.Address{}, false
	}
	return addr, true
}

func (uc *UpgradeProxy) ensureImplementation(ctx context.Context, client NetworkClient, req UpgradeRequest, res *UpgradeResult, existing common.Address, reusable bool) (common.Address, error) {
	if reusable {
		res.ImplementationReused = true
		return existing, nil
	}

	uc.progress.OnProgress(ctx, ProgressEvent{Stage: string(StageDeploying), Message: req.Artifact.Key(), Spinner: true})
	deployCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()
	addr, tx, err := client.Deploy(deployCtx, req.Artifact.Bytecode, req.Signer)
	res.DeployTx = tx
	if err != nil {
		return common.Address{}, &domain.UpgradeTransactionFailedError{Stage: "deploy", Tx: tx, Reason: err.Error()}
	}

	if err := uc.artifacts.Put(ctx, req.Artifact); err != nil {
		uc.log.Warn("failed to snapshot artifact", "artifact", req.Artifact.Key(), "error", err)
	}
	ref := models.ImplementationRef{
		Address:        addr,
		BytecodeDigest: req.Artifact.BytecodeDigest(),
		ArtifactKey:    req.Artifact.Key(),
		LayoutHash:     req.Artifact.SourceLayoutHash,
	}
	if err := uc.registry.RecordImplementation(ctx, req.Network, ref); err != nil {
		return common.Address{}, err
	}
	uc.log.Info("deployed implementation", "network", req.Network, "implementation", addr.Hex(), "artifact", ref.ArtifactKey)
	return addr, nil
}

func (uc *UpgradeProxy) markFailed(ctx context.Context, record *models.ProxyRecord, reason string) {
	if err := uc.registry.MarkFailed(ctx, record, reason); err != nil {
		uc.log.Error("failed to journal upgrade failure", "proxy", record.ProxyAddress.Hex(), "error", err)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func emittedUpgrade(confirmation *models.Confirmation, proxy, impl common.Address) bool {
	for _, e := range confirmation.Upgrades {
		if e.Proxy == proxy && e.Implementation == impl {
			return true
		}
	}
	return false
}
