package models

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Encoding is the storage encoding family of a type.
type Encoding string

const (
	EncodingInplace      Encoding = "inplace"
	EncodingMapping      Encoding = "mapping"
	EncodingDynamicArray Encoding = "dynamic_array"
	EncodingBytes        Encoding = "bytes"
)

// SlotSize is the width of one EVM storage slot in bytes.
const SlotSize = 32

// StorageSlot is one persistent variable in allocation order.
type StorageSlot struct {
	Index         uint64    `json:"slot"`
	Offset        uint      `json:"offset"`
	TypeSignature string    `json:"type"`
	Label         string    `json:"label"`
	Contract      string    `json:"contract,omitempty"`
	Type          *TypeInfo `json:"-"`
}

// StartByte returns the absolute byte position of the variable.
func (s StorageSlot) StartByte() uint64 {
	return s.Index*SlotSize + uint64(s.Offset)
}

// EndByte returns the absolute byte position just past the variable.
func (s StorageSlot) EndByte() uint64 {
	if s.Type == nil {
		return s.StartByte()
	}
	return s.StartByte() + s.Type.Size
}

func (s StorageSlot) String() string {
	return fmt.Sprintf("%s %s (slot %d, offset %d)", s.TypeSignature, s.Label, s.Index, s.Offset)
}

// TypeInfo is a resolved storage type.
type TypeInfo struct {
	ID        string        `json:"id"`
	Signature string        `json:"signature"`
	Encoding  Encoding      `json:"encoding"`
	Size      uint64        `json:"size"`
	Key       *TypeInfo     `json:"key,omitempty"`
	Value     *TypeInfo     `json:"value,omitempty"`
	Base      *TypeInfo     `json:"base,omitempty"`
	Members   []StorageSlot `json:"members,omitempty"`
}

// StorageLayout is the ordered slot sequence of exactly one artifact.
type StorageLayout struct {
	Artifact   string        `json:"artifact"`
	LayoutHash common.Hash   `json:"layoutHash"`
	Slots      []StorageSlot `json:"slots"`
}

// LastSlot returns the final variable, or false for an empty layout.
func (l *StorageLayout) LastSlot() (StorageSlot, bool) {
	if l == nil || len(l.Slots) == 0 {
		return StorageSlot{}, false
	}
	return l.Slots[len(l.Slots)-1], true
}
