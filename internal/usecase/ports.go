package usecase

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// ArtifactStore provides compiled contract artifacts
type ArtifactStore interface {
	// Get resolves "Name" (newest compiler) or "Name@version"
	Get(ctx context.Context, ref string) (*models.Artifact, error)
	FindByLayoutHash(ctx context.Context, hash common.Hash) (*models.Artifact, error)
	// FindByDeployedCode matches on-chain runtime code by its metadata trailer or digest
	FindByDeployedCode(ctx context.Context, code []byte) (*models.Artifact, error)
	Put(ctx context.Context, artifact *models.Artifact) error
	List(ctx context.Context) ([]*models.Artifact, error)
}

// LayoutAnalyzer extracts storage layouts from artifacts
type LayoutAnalyzer interface {
	ExtractLayout(artifact *models.Artifact) (*models.StorageLayout, error)
}

// CompatibilityChecker decides whether a layout can replace another
type CompatibilityChecker interface {
	Check(old, upd *models.StorageLayout) *models.CompatibilityVerdict
}

// ProxyRegistry is the bookkeeping layer for proxies. It never talks to a network.
type ProxyRegistry interface {
	Lookup(ctx context.Context, network string, proxy common.Address) (*models.ProxyRecord, error)
	Register(ctx context.Context, record *models.ProxyRecord) error
	RecordPendingUpgrade(ctx context.Context, record *models.ProxyRecord, newImpl common.Address) (*models.ProxyRecord, error)
	AttachTransaction(ctx context.Context, record *models.ProxyRecord, tx *models.TxHandle) (*models.ProxyRecord, error)
	Commit(ctx context.Context, record *models.ProxyRecord, confirmedImpl common.Address) (*models.ProxyRecord, error)
	// MarkFailed journals a failure but keeps the pending implementation set
	MarkFailed(ctx context.Context, record *models.ProxyRecord, reason string) error
	// ClearPending drops the pending implementation once chain state proves it was not applied
	ClearPending(ctx context.Context, record *models.ProxyRecord, reason string) (*models.ProxyRecord, error)
	List(ctx context.Context, network string) ([]*models.ProxyRecord, error)
	History(ctx context.Context, network string, proxy common.Address) ([]models.JournalEntry, error)
	RecordImplementation(ctx context.Context, network string, ref models.ImplementationRef) error
	FindImplementation(ctx context.Context, network string, digest common.Hash) (common.Address, bool)
	ArtifactFor(ctx context.Context, network string, impl common.Address) (models.ImplementationRef, bool)
}

// NetworkClient signs and submits transactions and reads chain state on one network
type NetworkClient interface {
	ChainID(ctx context.Context) (uint64, error)
	// Deploy creates a contract and waits for its receipt
	Deploy(ctx context.Context, bytecode []byte, signer Signer) (common.Address, *models.TxHandle, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// SendTransaction may return a handle together with an error when the
	// transaction was signed but its broadcast outcome is unknown
	SendTransaction(ctx context.Context, to common.Address, data []byte, signer Signer) (*models.TxHandle, error)
	// AwaitConfirmation returns a Pending confirmation when timeout elapses
	AwaitConfirmation(ctx context.Context, tx *models.TxHandle, timeout time.Duration) (*models.Confirmation, error)
	ReadStorageSlot(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
}

// NetworkDialer returns a client for a configured network
type NetworkDialer interface {
	Dial(ctx context.Context, network string) (NetworkClient, error)
}

// Signer signs transactions for one account
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SignerProvider resolves configured signers by name
type SignerProvider interface {
	Signer(name string) (Signer, error)
}

// ProxyLocker serializes upgrades of the same proxy
type ProxyLocker interface {
	// Lock blocks until the key is free or ctx is done
	Lock(ctx context.Context, key string) (func(), error)
	// TryLock takes the key only if nobody holds it
	TryLock(key string) (func(), bool)
}

// UpgradeConfirmer asks the operator before transactions are sent
type UpgradeConfirmer interface {
	ConfirmUpgrade(ctx context.Context, plan *UpgradePlanSummary) (bool, error)
}

// ArtifactSelector lets the operator pick between close artifact matches
type ArtifactSelector interface {
	SelectArtifact(ctx context.Context, refs []string, prompt string) (string, error)
}

// UpgradePlanSummary describes what an upgrade is about to do
type UpgradePlanSummary struct {
	Network        string
	Proxy          *models.ProxyRecord
	Artifact       string
	Baseline       string
	Verdict        *models.CompatibilityVerdict
	Implementation *common.Address // set when an existing deployment is reused
}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage    string
	Current  int
	Total    int
	Message  string
	Spinner  bool
	Metadata interface{}
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}

// UpgradeStage names the progress stages of an upgrade
type UpgradeStage string

const (
	StageResolving  UpgradeStage = "Resolving"
	StageChecking   UpgradeStage = "Checking"
	StageDeploying  UpgradeStage = "Deploying"
	StageSubmitting UpgradeStage = "Submitting"
	StageConfirming UpgradeStage = "Confirming"
	StageCompleted  UpgradeStage = "Completed"
)
