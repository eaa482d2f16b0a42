package bindings

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/lmittmann/w3"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// Upgrade entry points of OpenZeppelin proxies and ProxyAdmin.
var (
	funcUpgradeTo                = w3.MustNewFunc("upgradeTo(address)", "")
	funcUpgradeToAndCall         = w3.MustNewFunc("upgradeToAndCall(address,bytes)", "")
	funcProxyAdminUpgrade        = w3.MustNewFunc("upgrade(address,address)", "")
	funcProxyAdminUpgradeAndCall = w3.MustNewFunc("upgradeAndCall(address,address,bytes)", "")
	funcOwner                    = w3.MustNewFunc("owner()", "address")

	eventUpgraded = w3.MustNewEvent("Upgraded(address indexed implementation)")
)

// UpgradeCall is an encoded upgrade transaction.
type UpgradeCall struct {
	To     common.Address
	Data   []byte
	Method string
}

// EncodeProxyUpgrade builds the call that repoints proxy to impl. When
// proxyAdmin is set the call goes through the ProxyAdmin contract,
// otherwise it is sent to the proxy itself (admin EOA or UUPS).
func EncodeProxyUpgrade(proxy common.Address, proxyAdmin *common.Address, impl common.Address, initData []byte) (*UpgradeCall, error) {
	var (
		call = &UpgradeCall{To: proxy}
		err  error
	)
	switch {
	case proxyAdmin != nil && len(initData) > 0:
		call.To = *proxyAdmin
		call.Method = "upgradeAndCall"
		call.Data, err = funcProxyAdminUpgradeAndCall.EncodeArgs(proxy, impl, initData)
	case proxyAdmin != nil:
		call.To = *proxyAdmin
		call.Method = "upgrade"
		call.Data, err = funcProxyAdminUpgrade.EncodeArgs(proxy, impl)
	case len(initData) > 0:
		call.Method = "upgradeToAndCall"
		call.Data, err = funcUpgradeToAndCall.EncodeArgs(impl, initData)
	default:
		call.Method = "upgradeTo"
		call.Data, err = funcUpgradeTo.EncodeArgs(impl)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", call.Method, err)
	}
	return call, nil
}

// EncodeOwner returns calldata for owner().
func EncodeOwner() []byte {
	data, _ := funcOwner.EncodeArgs()
	return data
}

// DecodeOwner decodes the return value of owner().
func DecodeOwner(output []byte) (common.Address, error) {
	var owner common.Address
	if err := funcOwner.DecodeReturns(output, &owner); err != nil {
		return common.Address{}, fmt.Errorf("failed to decode owner(): %w", err)
	}
	return owner, nil
}

// Selector returns the 4-byte selector of an encoded call.
func Selector(data []byte) [4]byte {
	var sel [4]byte
	copy(sel[:], data)
	return sel
}

// UpgradeSelectors maps selectors to method names for display.
var UpgradeSelectors = map[[4]byte]string{
	funcUpgradeTo.Selector:                "upgradeTo",
	funcUpgradeToAndCall.Selector:         "upgradeToAndCall",
	funcProxyAdminUpgrade.Selector:        "upgrade",
	funcProxyAdminUpgradeAndCall.Selector: "upgradeAndCall",
}

// UpgradedEvents collects the EIP-1967 Upgraded logs of a receipt
func UpgradedEvents(logs []*types.Log) []models.UpgradedEvent {
	var events []models.UpgradedEvent
	for _, log := range logs {
		var impl common.Address
		if err := eventUpgraded.DecodeArgs(log, &impl); err == nil {
			events = append(events, models.UpgradedEvent{Proxy: log.Address, Implementation: impl})
		}
	}
	return events
}
