package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProxyKind represents how a proxy is upgraded
type ProxyKind string

const (
	// TransparentProxy is upgraded by its admin, either an EOA or a ProxyAdmin contract
	TransparentProxy ProxyKind = "transparent"
	// UUPSProxy is upgraded through upgradeTo on the implementation itself
	UUPSProxy ProxyKind = "uups"
)

// EIP-1967 storage slots
var (
	// bytes32(uint256(keccak256("eip1967.proxy.implementation")) - 1)
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
	// bytes32(uint256(keccak256("eip1967.proxy.admin")) - 1)
	AdminSlot = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
)

// ProxyRecord tracks one deployed proxy on one network.
type ProxyRecord struct {
	ProxyAddress          common.Address  `json:"proxyAddress"`
	Network               string          `json:"network"`
	Kind                  ProxyKind       `json:"kind"`
	Label                 string          `json:"label,omitempty"`
	CurrentImplementation common.Address  `json:"currentImplementation"`
	Admin                 common.Address  `json:"admin"`
	AdminContract         *common.Address `json:"adminContract,omitempty"` // ProxyAdmin, if any
	PendingImplementation *common.Address `json:"pendingImplementation,omitempty"`
	PendingTx             *TxHandle       `json:"pendingTx,omitempty"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Key identifies a record across networks.
func (r *ProxyRecord) Key() string {
	return ProxyKey(r.Network, r.ProxyAddress)
}

// IsPending reports whether an upgrade was recorded but not yet committed.
func (r *ProxyRecord) IsPending() bool {
	return r.PendingImplementation != nil
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (r *ProxyRecord) Clone() *ProxyRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.AdminContract != nil {
		a := *r.AdminContract
		c.AdminContract = &a
	}
	if r.PendingImplementation != nil {
		p := *r.PendingImplementation
		c.PendingImplementation = &p
	}
	if r.PendingTx != nil {
		tx := *r.PendingTx
		c.PendingTx = &tx
	}
	return &c
}

// DisplayName returns the label if set, otherwise the address.
func (r *ProxyRecord) DisplayName() string {
	if r.Label != "" {
		return r.Label
	}
	return r.ProxyAddress.Hex()
}

// ProxyKey builds the registry key for a (network, proxy) pair.
func ProxyKey(network string, proxy common.Address) string {
	return fmt.Sprintf("%s/%s", strings.ToLower(network), strings.ToLower(proxy.Hex()))
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash    common.Hash    `json:"hash"`
	Network string         `json:"network"`
	From    common.Address `json:"from"`
	Nonce   uint64         `json:"nonce"`
}

// ConfirmationStatus is the outcome of waiting on a transaction.
type ConfirmationStatus string

const (
	ConfirmationConfirmed ConfirmationStatus = "CONFIRMED"
	ConfirmationPending   ConfirmationStatus = "PENDING"
	ConfirmationFailed    ConfirmationStatus = "FAILED"
)

// Confirmation is returned by the network client after waiting on a transaction.
type Confirmation struct {
	Status      ConfirmationStatus `json:"status"`
	BlockNumber uint64             `json:"blockNumber,omitempty"`
	GasUsed     uint64             `json:"gasUsed,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	// Upgrades are the Upgraded logs found in the receipt
	Upgrades []UpgradedEvent `json:"upgrades,omitempty"`
}

// UpgradedEvent is an EIP-1967 Upgraded(address) log
type UpgradedEvent struct {
	Proxy          common.Address `json:"proxy"`
	Implementation common.Address `json:"implementation"`
}

// UpgradeStatus is the status column of a journal entry.
type UpgradeStatus string

const (
	StatusRegistered UpgradeStatus = "registered"
	StatusDeployed   UpgradeStatus = "deployed" // implementation deployed
	StatusPending    UpgradeStatus = "pending"
	StatusSubmitted  UpgradeStatus = "submitted"
	StatusConfirmed  UpgradeStatus = "confirmed"
	StatusFailed     UpgradeStatus = "failed"
	StatusCleared    UpgradeStatus = "cleared"
)

// JournalEntry is one line of the append-only upgrade log.
type JournalEntry struct {
	Timestamp         time.Time      `json:"timestamp"`
	Network           string         `json:"network"`
	ProxyAddress      common.Address `json:"proxyAddress"`
	OldImplementation common.Address `json:"oldImplementation"`
	NewImplementation common.Address `json:"newImplementation"`
	TxHandle          *TxHandle      `json:"txHandle,omitempty"`
	Status            UpgradeStatus  `json:"status"`
	Reason            string         `json:"reason,omitempty"`

	// Registration details
	Kind          ProxyKind       `json:"kind,omitempty"`
	Label         string          `json:"label,omitempty"`
	Admin         *common.Address `json:"admin,omitempty"`
	AdminContract *common.Address `json:"adminContract,omitempty"`

	// Implementation deployment details
	BytecodeDigest *common.Hash `json:"bytecodeDigest,omitempty"`
	ArtifactKey    string       `json:"artifactKey,omitempty"`
	LayoutHash     *common.Hash `json:"layoutHash,omitempty"`
}

// ImplementationRef ties a deployed implementation to the artifact it was built from.
type ImplementationRef struct {
	Address        common.Address `json:"address"`
	BytecodeDigest common.Hash    `json:"bytecodeDigest"`
	ArtifactKey    string         `json:"artifactKey"`
	LayoutHash     common.Hash    `json:"layoutHash"`
}
