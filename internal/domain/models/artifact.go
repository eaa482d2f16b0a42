package models

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Artifact is the compiled output of one contract at one compiler version.
// Artifacts are immutable once produced.
type Artifact struct {
	Name             string          `json:"name"`
	CompilerVersion  *semver.Version `json:"compilerVersion"`
	Bytecode         hexutil.Bytes   `json:"bytecode"`
	DeployedBytecode hexutil.Bytes   `json:"deployedBytecode,omitempty"`
	LayoutMetadata   *LayoutMetadata `json:"layoutMetadata,omitempty"`
	SourceLayoutHash common.Hash     `json:"sourceLayoutHash"`

	// Runtime fields (not persisted)
	SourcePath string `json:"-"` // e.g. "src/PoolManager.sol"
	FilePath   string `json:"-"` // artifact file the record was loaded from
}

// LayoutMetadata is the solc storageLayout output attached to an artifact.
type LayoutMetadata struct {
	Storage []LayoutEntry         `json:"storage"`
	Types   map[string]LayoutType `json:"types"`
}

// LayoutEntry is one state variable as emitted by solc.
type LayoutEntry struct {
	AstID    uint   `json:"astId"`
	Contract string `json:"contract"`
	Label    string `json:"label"`
	Offset   uint   `json:"offset"`
	Slot     uint64 `json:"slot,string"`
	Type     string `json:"type"`
}

// LayoutType describes a storage type referenced by layout entries.
type LayoutType struct {
	Encoding      string        `json:"encoding"`
	Label         string        `json:"label"`
	NumberOfBytes uint64        `json:"numberOfBytes,string"`
	Key           string        `json:"key,omitempty"`
	Value         string        `json:"value,omitempty"`
	Base          string        `json:"base,omitempty"`
	Members       []LayoutEntry `json:"members,omitempty"`
}

// NewArtifact builds an artifact and computes its layout hash.
func NewArtifact(name string, version *semver.Version, bytecode, deployed []byte, layout *LayoutMetadata) (*Artifact, error) {
	a := &Artifact{
		Name:             name,
		CompilerVersion:  version,
		Bytecode:         bytecode,
		DeployedBytecode: deployed,
		LayoutMetadata:   layout,
	}
	hash, err := LayoutHash(name, layout)
	if err != nil {
		return nil, err
	}
	a.SourceLayoutHash = hash
	return a, nil
}

// LayoutHash is the content address of a contract's layout metadata.
func LayoutHash(name string, layout *LayoutMetadata) (common.Hash, error) {
	if layout == nil {
		return crypto.Keccak256Hash([]byte(name)), nil
	}
	// map keys are sorted by encoding/json so the encoding is canonical
	data, err := json.Marshal(layout)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode layout metadata: %w", err)
	}
	return crypto.Keccak256Hash([]byte(name), data), nil
}

// Key returns the store key "Name@version".
func (a *Artifact) Key() string {
	if a.CompilerVersion == nil {
		return a.Name
	}
	return fmt.Sprintf("%s@%s", a.Name, a.CompilerVersion.Original())
}

// BytecodeDigest identifies the creation bytecode, used to deduplicate deployments.
func (a *Artifact) BytecodeDigest() common.Hash {
	return crypto.Keccak256Hash(a.Bytecode)
}

// MetadataDigest hashes the CBOR metadata trailer of the runtime bytecode.
// Returns false if the artifact has no trailer with a source hash.
func (a *Artifact) MetadataDigest() (common.Hash, bool) {
	code := a.DeployedBytecode
	if len(code) == 0 {
		code = a.Bytecode
	}
	return SourceMetadataDigest(code)
}

// SourceMetadataDigest hashes the metadata trailer of code, but only when the
// trailer carries a source hash. A trailer holding just the solc version is
// shared by every contract from that compiler and identifies nothing.
func SourceMetadataDigest(code []byte) (common.Hash, bool) {
	trailer := MetadataTrailer(code)
	if trailer == nil || !hasSourceHash(trailer) {
		return common.Hash{}, false
	}
	return crypto.Keccak256Hash(trailer), true
}

// CBOR text keys solc uses for the metadata hash
var sourceHashKeys = [][]byte{
	append([]byte{0x64}, "ipfs"...),
	append([]byte{0x65}, "bzzr0"...),
	append([]byte{0x65}, "bzzr1"...),
}

func hasSourceHash(trailer []byte) bool {
	for _, key := range sourceHashKeys {
		if bytes.Contains(trailer, key) {
			return true
		}
	}
	return false
}

// MetadataTrailer extracts the CBOR metadata solc appends to bytecode: the
// final two bytes hold the big-endian length of the CBOR map preceding them.
func MetadataTrailer(code []byte) []byte {
	if len(code) < 2 {
		return nil
	}
	n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	if n == 0 || n+2 > len(code) {
		return nil
	}
	trailer := code[len(code)-2-n : len(code)-2]
	// CBOR major type 5 (map) with a small number of pairs
	if trailer[0] < 0xa1 || trailer[0] > 0xb7 {
		return nil
	}
	return trailer
}
