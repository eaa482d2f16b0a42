package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/locks"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/registry"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/bindings"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/layout"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

var (
	proxyAddr   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	adminAddr   = common.HexToAddress("0xa000000000000000000000000000000000000001")
	strangerKey = common.HexToAddress("0xb000000000000000000000000000000000000001")
	implV1      = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSigner is an account that never actually signs
type fakeSigner struct{ addr common.Address }

func (s fakeSigner) Address() common.Address { return s.addr }
func (s fakeSigner) SignTx(tx *types.Transaction, _ *big.Int) (*types.Transaction, error) {
	return tx, nil
}

type fakeSigners map[string]usecase.Signer

func (f fakeSigners) Signer(name string) (usecase.Signer, error) {
	if s, ok := f[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: signer %q", domain.ErrNotFound, name)
}

type sentTx struct {
	to     common.Address
	data   []byte
	handle *models.TxHandle
}

// spyClient simulates one network. Upgrade transactions take effect on the
// proxy's implementation slot when they confirm.
type spyClient struct {
	mu      sync.Mutex
	storage map[common.Address]map[common.Hash]common.Hash
	code    map[common.Address][]byte
	calls   map[common.Address][]byte
	nonce   uint64

	deployErr   error
	sendErr     error
	sendUnknown bool
	outcome     models.ConfirmationStatus
	noEffect    bool // confirmed transactions leave the slot untouched
	sendDelay   time.Duration
	afterSend   func()

	deploys []common.Address
	sends   []sentTx
	pending map[common.Hash]sentTx
}

func newSpyClient() *spyClient {
	return &spyClient{
		storage: make(map[common.Address]map[common.Hash]common.Hash),
		code:    make(map[common.Address][]byte),
		calls:   make(map[common.Address][]byte),
		outcome: models.ConfirmationConfirmed,
		pending: make(map[common.Hash]sentTx),
	}
}

func (c *spyClient) setSlot(addr common.Address, slot common.Hash, value common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storage[addr] == nil {
		c.storage[addr] = make(map[common.Hash]common.Hash)
	}
	c.storage[addr][slot] = common.BytesToHash(value.Bytes())
}

func (c *spyClient) setCode(addr common.Address, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = code
}

func (c *spyClient) setOutcome(status models.ConfirmationStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = status
}

func (c *spyClient) deployCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deploys)
}

func (c *spyClient) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func (c *spyClient) implementation(proxy common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return common.BytesToAddress(c.storage[proxy][models.ImplementationSlot].Bytes())
}

func (c *spyClient) ChainID(context.Context) (uint64, error) { return 31337, nil }

func (c *spyClient) Deploy(_ context.Context, bytecode []byte, signer usecase.Signer) (common.Address, *models.TxHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.handle(signer)
	if c.deployErr != nil {
		return common.Address{}, handle, c.deployErr
	}
	addr := crypto.CreateAddress(signer.Address(), handle.Nonce)
	c.code[addr] = bytecode
	c.deploys = append(c.deploys, addr)
	return addr, handle, nil
}

func (c *spyClient) Call(_ context.Context, to common.Address, _ []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.calls[to]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (c *spyClient) SendTransaction(ctx context.Context, to common.Address, data []byte, signer usecase.Signer) (*models.TxHandle, error) {
	if c.sendDelay > 0 {
		time.Sleep(c.sendDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil && !c.sendUnknown {
		return nil, c.sendErr
	}
	handle := c.handle(signer)
	tx := sentTx{to: to, data: data, handle: handle}
	c.sends = append(c.sends, tx)
	c.pending[handle.Hash] = tx
	if c.afterSend != nil {
		c.afterSend()
	}
	if c.sendUnknown {
		return handle, c.sendErr
	}
	return handle, nil
}

func (c *spyClient) AwaitConfirmation(ctx context.Context, tx *models.TxHandle, _ time.Duration) (*models.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sent, ok := c.pending[tx.Hash]
	switch {
	case c.outcome == models.ConfirmationPending:
		return &models.Confirmation{Status: models.ConfirmationPending}, nil
	case c.outcome == models.ConfirmationFailed:
		delete(c.pending, tx.Hash)
		return &models.Confirmation{Status: models.ConfirmationFailed, Reason: "execution reverted"}, nil
	}
	confirmation := &models.Confirmation{Status: models.ConfirmationConfirmed, BlockNumber: 42, GasUsed: 30_000}
	if ok && !c.noEffect {
		proxy, impl := decodeUpgrade(sent.to, sent.data)
		if c.storage[proxy] == nil {
			c.storage[proxy] = make(map[common.Hash]common.Hash)
		}
		c.storage[proxy][models.ImplementationSlot] = common.BytesToHash(impl.Bytes())
		confirmation.Upgrades = []models.UpgradedEvent{{Proxy: proxy, Implementation: impl}}
		delete(c.pending, tx.Hash)
	}
	return confirmation, nil
}

func (c *spyClient) ReadStorageSlot(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.storage[addr][slot], nil
}

func (c *spyClient) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[addr], nil
}

// handle allocates the next nonce. Caller holds mu.
func (c *spyClient) handle(signer usecase.Signer) *models.TxHandle {
	nonce := c.nonce
	c.nonce++
	return &models.TxHandle{
		Hash:    crypto.Keccak256Hash(signer.Address().Bytes(), new(big.Int).SetUint64(nonce).Bytes()),
		Network: "anvil",
		From:    signer.Address(),
		Nonce:   nonce,
	}
}

// decodeUpgrade returns the proxy and implementation an upgrade call targets
func decodeUpgrade(to common.Address, data []byte) (common.Address, common.Address) {
	switch bindings.UpgradeSelectors[bindings.Selector(data)] {
	case "upgrade", "upgradeAndCall":
		return common.BytesToAddress(data[4:36]), common.BytesToAddress(data[36:68])
	default:
		return to, common.BytesToAddress(data[4:36])
	}
}

type fakeDialer map[string]usecase.NetworkClient

func (d fakeDialer) Dial(_ context.Context, network string) (usecase.NetworkClient, error) {
	if c, ok := d[strings.ToLower(network)]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, network)
}

// fakeArtifacts is an in-memory artifact store
type fakeArtifacts struct {
	mu        sync.Mutex
	artifacts map[string]*models.Artifact
	puts      int
}

func newFakeArtifacts(artifacts ...*models.Artifact) *fakeArtifacts {
	f := &fakeArtifacts{artifacts: make(map[string]*models.Artifact)}
	for _, a := range artifacts {
		f.artifacts[a.Key()] = a
	}
	return f
}

func (f *fakeArtifacts) Get(_ context.Context, ref string) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.artifacts[ref]; ok {
		return a, nil
	}
	var names []string
	for _, a := range f.artifacts {
		if a.Name == ref {
			return a, nil
		}
		if ref != "" && strings.HasPrefix(strings.ToLower(a.Name), strings.ToLower(ref[:1])) {
			names = append(names, a.Key())
		}
	}
	return nil, &domain.ArtifactNotFoundError{Ref: ref, Suggestions: names}
}

func (f *fakeArtifacts) FindByLayoutHash(_ context.Context, hash common.Hash) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.artifacts {
		if a.SourceLayoutHash == hash {
			return a, nil
		}
	}
	return nil, domain.ErrArtifactNotFound
}

func (f *fakeArtifacts) FindByDeployedCode(_ context.Context, code []byte) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.artifacts {
		if bytes.Equal(a.DeployedBytecode, code) {
			return a, nil
		}
	}
	return nil, domain.ErrArtifactNotFound
}

func (f *fakeArtifacts) Put(_ context.Context, a *models.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.artifacts[a.Key()] = a
	return nil
}

func (f *fakeArtifacts) List(context.Context) ([]*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Artifact, 0, len(f.artifacts))
	for _, a := range f.artifacts {
		out = append(out, a)
	}
	return out, nil
}

// MockConfirmer is a mock implementation of UpgradeConfirmer
type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) ConfirmUpgrade(ctx context.Context, plan *usecase.UpgradePlanSummary) (bool, error) {
	args := m.Called(ctx, plan)
	return args.Bool(0), args.Error(1)
}

// MockSelector is a mock implementation of ArtifactSelector
type MockSelector struct {
	mock.Mock
}

func (m *MockSelector) SelectArtifact(ctx context.Context, refs []string, prompt string) (string, error) {
	args := m.Called(ctx, refs, prompt)
	return args.String(0), args.Error(1)
}

// harness wires an UpgradeProxy against a single simulated network
type harness struct {
	cfg       *config.RuntimeConfig
	client    *spyClient
	artifacts *fakeArtifacts
	journal   *registry.MemoryJournal
	registry  *registry.Registry
	locker    *locks.KeyedMutex
	signers   fakeSigners
	confirmer usecase.UpgradeConfirmer
	selector  usecase.ArtifactSelector
}

// newHarness registers proxyAddr on anvil with base deployed behind it
func newHarness(t *testing.T, base *models.Artifact, candidates ...*models.Artifact) *harness {
	t.Helper()
	h := &harness{
		cfg: &config.RuntimeConfig{
			Network:        &config.Network{Name: "anvil", ChainID: 31337},
			NonInteractive: true,
			Timeout:        time.Second,
		},
		client:    newSpyClient(),
		artifacts: newFakeArtifacts(append([]*models.Artifact{base}, candidates...)...),
		journal:   registry.NewMemoryJournal(),
		locker:    locks.NewKeyedMutex(),
		signers: fakeSigners{
			"":         fakeSigner{addr: adminAddr},
			"admin":    fakeSigner{addr: adminAddr},
			"stranger": fakeSigner{addr: strangerKey},
		},
	}
	reg, err := registry.NewRegistry(h.journal, discardLogger())
	require.NoError(t, err)
	h.registry = reg

	h.client.setSlot(proxyAddr, models.ImplementationSlot, implV1)
	h.client.setCode(implV1, base.DeployedBytecode)
	require.NoError(t, reg.Register(context.Background(), &models.ProxyRecord{
		ProxyAddress:          proxyAddr,
		Network:               "anvil",
		Label:                 "PoolManager",
		CurrentImplementation: implV1,
		Admin:                 adminAddr,
	}))
	return h
}

func (h *harness) upgrader(t *testing.T) *usecase.UpgradeProxy {
	t.Helper()
	analyzer, err := layout.NewAnalyzer(discardLogger())
	require.NoError(t, err)
	return usecase.NewUpgradeProxy(
		h.cfg,
		h.artifacts,
		analyzer,
		layout.NewChecker(),
		h.registry,
		fakeDialer{"anvil": h.client},
		h.signers,
		h.locker,
		h.confirmer,
		h.selector,
		nil,
		discardLogger(),
	)
}

func (h *harness) statuses() []models.UpgradeStatus {
	var out []models.UpgradeStatus
	for _, e := range h.journal.Entries() {
		out = append(out, e.Status)
	}
	return out
}
