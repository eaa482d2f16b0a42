package senders

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

// anvil's first default account
const (
	anvilKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	anvilAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestService_Signer(t *testing.T) {
	tests := []struct {
		name    string
		signers map[string]config.SignerConfig
		dflt    string
		cli     string
		lookup  string
		wantErr string
	}{
		{
			name:    "by name",
			signers: map[string]config.SignerConfig{"deployer": {Type: config.SignerTypePrivateKey, PrivateKey: anvilKey}},
			lookup:  "deployer",
		},
		{
			name:    "case insensitive",
			signers: map[string]config.SignerConfig{"Deployer": {PrivateKey: anvilKey}},
			lookup:  "deployer",
		},
		{
			name:    "single signer is the default",
			signers: map[string]config.SignerConfig{"ops": {PrivateKey: anvilKey}},
		},
		{
			name: "configured default",
			signers: map[string]config.SignerConfig{
				"ops":   {PrivateKey: anvilKey},
				"other": {PrivateKey: "0x01"},
			},
			dflt: "ops",
		},
		{
			name: "command line selection",
			signers: map[string]config.SignerConfig{
				"ops":   {PrivateKey: anvilKey},
				"other": {PrivateKey: "0x01"},
			},
			cli: "ops",
		},
		{
			name:    "address matches key",
			signers: map[string]config.SignerConfig{"ops": {PrivateKey: anvilKey, Address: anvilAddress}},
			lookup:  "ops",
		},
		{
			name:    "address mismatch",
			signers: map[string]config.SignerConfig{"ops": {PrivateKey: anvilKey, Address: "0x0000000000000000000000000000000000000001"}},
			lookup:  "ops",
			wantErr: "does not match",
		},
		{
			name:    "unknown signer",
			signers: map[string]config.SignerConfig{"ops": {PrivateKey: anvilKey}},
			lookup:  "nope",
			wantErr: "not found",
		},
		{
			name: "no default",
			signers: map[string]config.SignerConfig{
				"a": {PrivateKey: anvilKey},
				"b": {PrivateKey: anvilKey},
			},
			wantErr: "no default signer",
		},
		{
			name:    "bad key",
			signers: map[string]config.SignerConfig{"ops": {PrivateKey: "0xzz"}},
			lookup:  "ops",
			wantErr: "invalid private key",
		},
		{
			name:    "unsupported type",
			signers: map[string]config.SignerConfig{"ops": {Type: "ledger"}},
			lookup:  "ops",
			wantErr: "unsupported signer type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&config.RuntimeConfig{
				Signer: tt.cli,
				UpgradeConfig: &config.UpgradeFileConfig{
					DefaultSigner: tt.dflt,
					Signers:       tt.signers,
				},
			})

			signer, err := svc.Signer(tt.lookup)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(anvilAddress), signer.Address())

			again, err := svc.Signer(tt.lookup)
			require.NoError(t, err)
			assert.Same(t, signer, again)
		})
	}
}

func TestKeySigner_SignTx(t *testing.T) {
	signer, err := NewKeySigner(anvilKey)
	require.NoError(t, err)

	chainID := big.NewInt(31337)
	to := common.HexToAddress("0x01")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: chainID, Nonce: 3, To: &to, Gas: 21000, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2)})

	signed, err := signer.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}
