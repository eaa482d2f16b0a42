// Package layouttest builds artifacts with solc style storage layout metadata
// for tests.
package layouttest

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

var (
	uintRe  = regexp.MustCompile(`^u?int(\d*)$`)
	bytesRe = regexp.MustCompile(`^bytes(\d+)$`)
)

// Builder allocates variables the way solc packs them.
type Builder struct {
	contract string
	meta     *models.LayoutMetadata
	slot     uint64
	offset   uint
}

// New starts an empty layout for the given contract name.
func New(contract string) *Builder {
	return &Builder{
		contract: contract,
		meta: &models.LayoutMetadata{
			Storage: []models.LayoutEntry{},
			Types:   map[string]models.LayoutType{},
		},
	}
}

// Var appends an elementary variable (uintN, intN, address, bool, bytesN,
// string, bytes) at the next free position.
func (b *Builder) Var(label, typ string) *Builder {
	return b.place(label, b.Elementary(typ))
}

// Gap appends an OpenZeppelin style uint256[n] __gap.
func (b *Builder) Gap(n int) *Builder {
	return b.place("__gap", b.StaticArray(b.Elementary("uint256"), n))
}

// Mapping appends mapping(key => value) where value is a type id.
func (b *Builder) Mapping(label, key, valueID string) *Builder {
	return b.place(label, b.MappingType(b.Elementary(key), valueID))
}

// Place appends a variable of an already registered type id.
func (b *Builder) Place(label, typeID string) *Builder {
	return b.place(label, typeID)
}

// At appends a variable at an explicit position, bypassing packing.
func (b *Builder) At(slot uint64, offset uint, label, typeID string) *Builder {
	b.meta.Storage = append(b.meta.Storage, models.LayoutEntry{
		Contract: b.contract,
		Label:    label,
		Slot:     slot,
		Offset:   offset,
		Type:     typeID,
	})
	return b
}

// Elementary registers a value or bytes type and returns its id.
func (b *Builder) Elementary(typ string) string {
	id := "t_" + typ
	if _, ok := b.meta.Types[id]; ok {
		return id
	}
	t := models.LayoutType{Encoding: string(models.EncodingInplace), Label: typ}
	switch {
	case typ == "string" || typ == "bytes":
		id = "t_" + typ + "_storage"
		t.Encoding = string(models.EncodingBytes)
		t.NumberOfBytes = 32
	case typ == "address":
		t.NumberOfBytes = 20
	case typ == "bool":
		t.NumberOfBytes = 1
	case uintRe.MatchString(typ):
		bits := 256
		if m := uintRe.FindStringSubmatch(typ); m[1] != "" {
			bits, _ = strconv.Atoi(m[1])
		}
		t.NumberOfBytes = uint64(bits / 8)
	case bytesRe.MatchString(typ):
		n, _ := strconv.Atoi(bytesRe.FindStringSubmatch(typ)[1])
		id = fmt.Sprintf("t_bytes%d", n)
		t.NumberOfBytes = uint64(n)
	default:
		panic(fmt.Sprintf("layouttest: unsupported elementary type %q", typ))
	}
	b.meta.Types[id] = t
	return id
}

// StaticArray registers base[n] and returns its id.
func (b *Builder) StaticArray(baseID string, n int) string {
	base := b.meta.Types[baseID]
	id := fmt.Sprintf("t_array(%s)%d_storage", baseID, n)
	perSlot := uint64(1)
	if base.NumberOfBytes < 32 {
		perSlot = 32 / base.NumberOfBytes
	}
	var size uint64
	if base.NumberOfBytes >= 32 {
		size = uint64(n) * base.NumberOfBytes
	} else {
		size = (uint64(n) + perSlot - 1) / perSlot * 32
	}
	b.meta.Types[id] = models.LayoutType{
		Encoding:      string(models.EncodingInplace),
		Label:         fmt.Sprintf("%s[%d]", base.Label, n),
		NumberOfBytes: size,
		Base:          baseID,
	}
	return id
}

// DynamicArray registers base[] and returns its id.
func (b *Builder) DynamicArray(baseID string) string {
	base := b.meta.Types[baseID]
	id := fmt.Sprintf("t_array(%s)dyn_storage", baseID)
	b.meta.Types[id] = models.LayoutType{
		Encoding:      string(models.EncodingDynamicArray),
		Label:         base.Label + "[]",
		NumberOfBytes: 32,
		Base:          baseID,
	}
	return id
}

// MappingType registers mapping(key => value) and returns its id.
func (b *Builder) MappingType(keyID, valueID string) string {
	id := fmt.Sprintf("t_mapping(%s,%s)", keyID, valueID)
	b.meta.Types[id] = models.LayoutType{
		Encoding:      string(models.EncodingMapping),
		Label:         fmt.Sprintf("mapping(%s => %s)", b.meta.Types[keyID].Label, b.meta.Types[valueID].Label),
		NumberOfBytes: 32,
		Key:           keyID,
		Value:         valueID,
	}
	return id
}

// Struct registers a struct whose members are packed from slot zero.
// members alternate label and type id.
func (b *Builder) Struct(name string, members ...string) string {
	inner := &Builder{contract: b.contract, meta: &models.LayoutMetadata{Types: b.meta.Types}}
	for i := 0; i+1 < len(members); i += 2 {
		inner.place(members[i], members[i+1])
	}
	slots := inner.slot
	if inner.offset > 0 {
		slots++
	}
	id := fmt.Sprintf("t_struct(%s)_storage", name)
	b.meta.Types[id] = models.LayoutType{
		Encoding:      string(models.EncodingInplace),
		Label:         "struct " + name,
		NumberOfBytes: slots * 32,
		Members:       inner.meta.Storage,
	}
	return id
}

// Type registers a raw type definition.
func (b *Builder) Type(id string, t models.LayoutType) *Builder {
	b.meta.Types[id] = t
	return b
}

// Metadata returns the layout metadata built so far.
func (b *Builder) Metadata() *models.LayoutMetadata {
	return b.meta
}

// Artifact wraps the layout in an artifact compiled by solc 0.8.20.
func (b *Builder) Artifact(bytecode ...byte) *models.Artifact {
	if len(bytecode) == 0 {
		bytecode = []byte(b.contract)
	}
	a, err := models.NewArtifact(b.contract, semver.MustParse("0.8.20"), bytecode, bytecode, b.meta)
	if err != nil {
		panic(err)
	}
	return a
}

func (b *Builder) place(label, typeID string) *Builder {
	t, ok := b.meta.Types[typeID]
	if !ok {
		panic(fmt.Sprintf("layouttest: type %q not registered", typeID))
	}
	fullSlot := t.NumberOfBytes >= 32 || t.Encoding != string(models.EncodingInplace) || len(t.Members) > 0 || t.Base != ""
	if fullSlot {
		if b.offset > 0 {
			b.slot++
			b.offset = 0
		}
	} else if uint64(b.offset)+t.NumberOfBytes > 32 {
		b.slot++
		b.offset = 0
	}

	b.meta.Storage = append(b.meta.Storage, models.LayoutEntry{
		Contract: b.contract,
		Label:    label,
		Slot:     b.slot,
		Offset:   b.offset,
		Type:     typeID,
	})

	if fullSlot {
		b.slot += (t.NumberOfBytes + 31) / 32
		return b
	}
	b.offset += uint(t.NumberOfBytes)
	if b.offset == 32 {
		b.slot++
		b.offset = 0
	}
	return b
}
