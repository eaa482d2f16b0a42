package layout

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

const defaultCacheSize = 256

// Analyzer extracts storage layouts from artifact metadata. Layouts are
// cached by a digest of the artifact key and its layout metadata, computed
// here rather than taken from the artifact.
type Analyzer struct {
	cache *lru.Cache[common.Hash, *models.StorageLayout]
	log   *slog.Logger
}

// NewAnalyzer creates an analyzer with a bounded layout cache
func NewAnalyzer(log *slog.Logger) (*Analyzer, error) {
	cache, err := lru.New[common.Hash, *models.StorageLayout](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create layout cache: %w", err)
	}
	return &Analyzer{
		cache: cache,
		log:   log.With("component", "LayoutAnalyzer"),
	}, nil
}

// ExtractLayout returns the artifact's persistent variables in allocation order.
func (a *Analyzer) ExtractLayout(artifact *models.Artifact) (*models.StorageLayout, error) {
	if artifact == nil {
		return nil, &domain.MalformedArtifactError{Artifact: "<nil>", Reason: "no artifact"}
	}
	if artifact.LayoutMetadata == nil {
		return nil, &domain.MalformedArtifactError{Artifact: artifact.Key(), Reason: "storage layout metadata is missing"}
	}

	key, err := models.LayoutHash(artifact.Key(), artifact.LayoutMetadata)
	if err != nil {
		return nil, &domain.MalformedArtifactError{Artifact: artifact.Key(), Reason: err.Error()}
	}
	if cached, ok := a.cache.Get(key); ok {
		return cached, nil
	}

	r := newTypeResolver(artifact.LayoutMetadata.Types)
	slots, err := r.resolveEntries(artifact.LayoutMetadata.Storage, 0)
	if err != nil {
		return nil, &domain.MalformedArtifactError{Artifact: artifact.Key(), Reason: err.Error()}
	}

	hash := artifact.SourceLayoutHash
	if hash == (common.Hash{}) {
		if hash, err = models.LayoutHash(artifact.Name, artifact.LayoutMetadata); err != nil {
			return nil, &domain.MalformedArtifactError{Artifact: artifact.Key(), Reason: err.Error()}
		}
	}

	layout := &models.StorageLayout{
		Artifact:   artifact.Key(),
		LayoutHash: hash,
		Slots:      slots,
	}
	a.cache.Add(key, layout)
	a.log.Debug("extracted storage layout", "artifact", layout.Artifact, "slots", len(slots))
	return layout, nil
}

// typeResolver turns solc type ids into TypeInfo graphs. Recursive types
// (a struct holding a mapping to itself) resolve to shared pointers.
type typeResolver struct {
	types    map[string]models.LayoutType
	resolved map[string]*models.TypeInfo
}

func newTypeResolver(types map[string]models.LayoutType) *typeResolver {
	return &typeResolver{
		types:    types,
		resolved: make(map[string]*models.TypeInfo),
	}
}

func (r *typeResolver) resolve(id string) (*models.TypeInfo, error) {
	if t, ok := r.resolved[id]; ok {
		return t, nil
	}
	lt, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("unknown type reference %q", id)
	}
	if lt.NumberOfBytes == 0 {
		return nil, fmt.Errorf("type %q has zero size", id)
	}

	t := &models.TypeInfo{
		ID:        id,
		Signature: lt.Label,
		Encoding:  models.Encoding(lt.Encoding),
		Size:      lt.NumberOfBytes,
	}
	r.resolved[id] = t

	var err error
	switch t.Encoding {
	case models.EncodingInplace:
		if lt.Base != "" {
			if t.Base, err = r.resolve(lt.Base); err != nil {
				return nil, err
			}
		}
		if len(lt.Members) > 0 {
			if t.Members, err = r.resolveEntries(lt.Members, t.Size); err != nil {
				return nil, fmt.Errorf("struct %s: %w", lt.Label, err)
			}
		}
	case models.EncodingMapping:
		if lt.Key == "" || lt.Value == "" {
			return nil, fmt.Errorf("mapping type %q is missing its key or value", id)
		}
		if t.Key, err = r.resolve(lt.Key); err != nil {
			return nil, err
		}
		if t.Value, err = r.resolve(lt.Value); err != nil {
			return nil, err
		}
	case models.EncodingDynamicArray:
		if lt.Base == "" {
			return nil, fmt.Errorf("dynamic array type %q is missing its base", id)
		}
		if t.Base, err = r.resolve(lt.Base); err != nil {
			return nil, err
		}
	case models.EncodingBytes:
	default:
		return nil, fmt.Errorf("type %q has unknown encoding %q", id, lt.Encoding)
	}
	return t, nil
}

// resolveEntries validates a run of variables. limit bounds the total
// byte range for struct members; zero means unbounded.
func (r *typeResolver) resolveEntries(entries []models.LayoutEntry, limit uint64) ([]models.StorageSlot, error) {
	slots := make([]models.StorageSlot, 0, len(entries))
	var prevEnd uint64
	var prevLabel string
	for i, e := range entries {
		t, err := r.resolve(e.Type)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", e.Label, err)
		}
		if e.Offset >= models.SlotSize {
			return nil, fmt.Errorf("variable %s: offset %d beyond the %d-byte slot", e.Label, e.Offset, models.SlotSize)
		}
		if t.Size <= models.SlotSize && uint64(e.Offset)+t.Size > models.SlotSize {
			return nil, fmt.Errorf("variable %s: %d bytes at offset %d overflow slot %d", e.Label, t.Size, e.Offset, e.Slot)
		}
		if t.Size > models.SlotSize && e.Offset != 0 {
			return nil, fmt.Errorf("variable %s: multi-slot type must start at offset 0", e.Label)
		}

		slot := models.StorageSlot{
			Index:         e.Slot,
			Offset:        e.Offset,
			TypeSignature: t.Signature,
			Label:         e.Label,
			Contract:      e.Contract,
			Type:          t,
		}
		if i > 0 && slot.StartByte() < prevEnd {
			return nil, fmt.Errorf("variable %s overlaps %s in slot %d", e.Label, prevLabel, e.Slot)
		}
		if limit > 0 && slot.EndByte() > limit {
			return nil, fmt.Errorf("member %s exceeds the %d-byte struct", e.Label, limit)
		}
		prevEnd = slot.EndByte()
		prevLabel = e.Label
		slots = append(slots, slot)
	}
	return slots, nil
}
