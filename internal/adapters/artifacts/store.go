package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

const maxSuggestions = 3

// Store indexes compiled artifacts from a Foundry out/ directory and from
// artifact records written to the data directory.
type Store struct {
	foundryDir string
	recordDir  string
	compilers  []*semver.Constraints
	log        *slog.Logger

	mu         sync.RWMutex
	loaded     bool
	byName     map[string][]*models.Artifact // newest compiler first
	byKey      map[string]*models.Artifact
	byLayout   map[common.Hash]*models.Artifact
	byMetadata map[common.Hash][]*models.Artifact
	byCode     map[common.Hash][]*models.Artifact
}

// NewStore creates an artifact store for the configured project
func NewStore(cfg *config.RuntimeConfig, log *slog.Logger) *Store {
	s := &Store{
		foundryDir: cfg.ArtifactsDir,
		recordDir:  filepath.Join(cfg.DataDir, "artifacts"),
		log:        log.With("component", "ArtifactStore"),
	}
	if cfg.UpgradeConfig != nil {
		for _, c := range cfg.UpgradeConfig.Compilers {
			constraint, err := semver.NewConstraint(c.Version)
			if err != nil {
				s.log.Warn("ignoring invalid compiler version", "version", c.Version, "error", err)
				continue
			}
			s.compilers = append(s.compilers, constraint)
		}
	}
	s.reset()
	return s
}

// Get resolves "Name", "Name@version", "Name@constraint" or "path/File.sol:Name"
func (s *Store) Get(ctx context.Context, ref string) (*models.Artifact, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.byKey[ref]; ok {
		return a, nil
	}

	name, version, hasVersion := strings.Cut(ref, "@")
	if path, contract, ok := strings.Cut(name, ":"); ok {
		candidates := lo.Filter(s.byName[contract], func(a *models.Artifact, _ int) bool {
			return a.SourcePath == path
		})
		if a := s.pick(candidates, version, hasVersion); a != nil {
			return a, nil
		}
	} else if a := s.pick(s.byName[name], version, hasVersion); a != nil {
		return a, nil
	}

	return nil, &domain.ArtifactNotFoundError{Ref: ref, Suggestions: s.suggest(name)}
}

// pick selects the newest candidate matching version. Caller holds mu.
func (s *Store) pick(candidates []*models.Artifact, version string, hasVersion bool) *models.Artifact {
	if len(candidates) == 0 {
		return nil
	}
	if !hasVersion {
		return candidates[0]
	}
	if v, err := semver.NewVersion(version); err == nil {
		return lo.FindOrElse(candidates, nil, func(a *models.Artifact) bool {
			return a.CompilerVersion != nil && a.CompilerVersion.Equal(v)
		})
	}
	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return nil
	}
	return lo.FindOrElse(candidates, nil, func(a *models.Artifact) bool {
		return a.CompilerVersion != nil && constraint.Check(a.CompilerVersion)
	})
}

// FindByLayoutHash returns the artifact with the given layout content address
func (s *Store) FindByLayoutHash(ctx context.Context, hash common.Hash) (*models.Artifact, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.byLayout[hash]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: layout %s", domain.ErrArtifactNotFound, hash.Hex())
}

// FindByDeployedCode matches runtime code read from chain. A metadata trailer
// with a source hash identifies the source and settings even when immutables
// differ; anything else must match byte for byte. Candidates with different
// layouts make the match ambiguous.
func (s *Store) FindByDeployedCode(ctx context.Context, code []byte) (*models.Artifact, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: no code", domain.ErrArtifactNotFound)
	}
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if digest, ok := models.SourceMetadataDigest(code); ok {
		if candidates, ok := s.byMetadata[digest]; ok {
			return unique(candidates, "metadata")
		}
	}
	if candidates, ok := s.byCode[crypto.Keccak256Hash(code)]; ok {
		return unique(candidates, "runtime code")
	}
	return nil, fmt.Errorf("%w: no artifact matches deployed code", domain.ErrArtifactNotFound)
}

// unique returns the single layout among candidates
func unique(candidates []*models.Artifact, by string) (*models.Artifact, error) {
	layouts := lo.UniqBy(candidates, func(a *models.Artifact) common.Hash { return a.SourceLayoutHash })
	if len(layouts) > 1 {
		names := lo.Map(layouts, func(a *models.Artifact, _ int) string { return a.Key() })
		return nil, fmt.Errorf("%w: %s matches %d artifacts with different layouts (%s)",
			domain.ErrImplementationUnresolvable, by, len(layouts), strings.Join(names, ", "))
	}
	return candidates[0], nil
}

// Put snapshots an artifact under the data directory. Snapshots are content
// addressed by layout hash so the layout of a deployed implementation stays
// resolvable after out/ is rebuilt.
func (s *Store) Put(ctx context.Context, artifact *models.Artifact) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	hash, err := models.LayoutHash(artifact.Name, artifact.LayoutMetadata)
	if err != nil {
		return err
	}
	artifact.SourceLayoutHash = hash

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byLayout[hash]; ok && s.isRecord(existing) {
		return nil
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.MkdirAll(s.recordDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	path := filepath.Join(s.recordDir, fmt.Sprintf("%s-%s.json", artifact.Key(), hash.Hex()[2:10]))
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	snapshot := *artifact
	snapshot.FilePath = path
	s.index(&snapshot)
	s.log.Debug("recorded artifact", "artifact", artifact.Key(), "layout", hash.Hex())
	return nil
}

// List returns all artifacts sorted by key
func (s *Store) List(ctx context.Context) ([]*models.Artifact, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := lo.Values(s.byKey)
	sort.Slice(all, func(i, j int) bool { return all[i].Key() < all[j].Key() })
	return all, nil
}

// Reload drops the index so the next access rescans the directories
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.loaded = false
	s.byName = make(map[string][]*models.Artifact)
	s.byKey = make(map[string]*models.Artifact)
	s.byLayout = make(map[common.Hash]*models.Artifact)
	s.byMetadata = make(map[common.Hash][]*models.Artifact)
	s.byCode = make(map[common.Hash][]*models.Artifact)
}

func (s *Store) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.loadDir(s.foundryDir); err != nil {
		return err
	}
	if err := s.loadDir(s.recordDir); err != nil {
		return err
	}
	s.loaded = true
	s.log.Debug("indexed artifacts", "count", len(s.byKey))
	return nil
}

// loadDir walks dir for artifact JSON files. Caller holds mu.
func (s *Store) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".json" {
			return nil
		}

		artifact, err := loadArtifactFile(path)
		if err != nil {
			s.log.Debug("skipping artifact", "path", path, "reason", err)
			return nil
		}
		if artifact == nil {
			return nil
		}
		existing, dup := s.byKey[artifact.Key()]
		if dup && artifact.SourcePath != "" && existing.SourceLayoutHash != artifact.SourceLayoutHash {
			// same contract name compiled from another source file
			artifact.Name = artifact.SourcePath + ":" + artifact.Name
		}
		s.checkCompiler(artifact)
		s.index(artifact)
		return nil
	})
}

func (s *Store) checkCompiler(a *models.Artifact) {
	if len(s.compilers) == 0 || a.CompilerVersion == nil {
		return
	}
	if lo.SomeBy(s.compilers, func(c *semver.Constraints) bool { return c.Check(a.CompilerVersion) }) {
		return
	}
	s.log.Warn("artifact built by an unconfigured compiler", "artifact", a.Name, "version", a.CompilerVersion.Original())
}

// index adds a to every lookup. Built artifacts win name lookups; snapshots
// win layout lookups. Caller holds mu.
func (s *Store) index(a *models.Artifact) {
	if _, ok := s.byKey[a.Key()]; !ok {
		s.byKey[a.Key()] = a

		name := a.Name
		if _, contract, ok := strings.Cut(name, ":"); ok {
			name = contract
		}
		list := append(s.byName[name], a)
		sort.SliceStable(list, func(i, j int) bool {
			vi, vj := list[i].CompilerVersion, list[j].CompilerVersion
			if vi == nil || vj == nil {
				return vj == nil && vi != nil
			}
			return vi.GreaterThan(vj)
		})
		s.byName[name] = list
	}

	if _, ok := s.byLayout[a.SourceLayoutHash]; !ok || s.isRecord(a) {
		s.byLayout[a.SourceLayoutHash] = a
	}
	if digest, ok := a.MetadataDigest(); ok {
		s.byMetadata[digest] = append(s.byMetadata[digest], a)
	}
	if len(a.DeployedBytecode) > 0 {
		code := crypto.Keccak256Hash(a.DeployedBytecode)
		s.byCode[code] = append(s.byCode[code], a)
	}
}

func (s *Store) isRecord(a *models.Artifact) bool {
	return a.FilePath != "" && strings.HasPrefix(a.FilePath, s.recordDir+string(os.PathSeparator))
}

// suggest returns close matches for a missing name. Caller holds mu.
func (s *Store) suggest(name string) []string {
	names := lo.Keys(s.byName)
	sort.Strings(names)
	matches := fuzzy.Find(name, names)
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	return lo.Map(matches, func(m fuzzy.Match, _ int) string {
		return m.Str
	})
}

// foundryArtifact is the subset of a Foundry out/ artifact the store reads
type foundryArtifact struct {
	Bytecode struct {
		Object string `json:"object"`
	} `json:"bytecode"`
	DeployedBytecode struct {
		Object string `json:"object"`
	} `json:"deployedBytecode"`
	StorageLayout *models.LayoutMetadata `json:"storageLayout,omitempty"`
	Metadata      struct {
		Compiler struct {
			Version string `json:"version"`
		} `json:"compiler"`
		Settings struct {
			CompilationTarget map[string]string `json:"compilationTarget"`
		} `json:"settings"`
	} `json:"metadata"`
}

// loadArtifactFile parses either a Foundry artifact or an artifact record.
// Returns nil, nil for files that hold no deployable contract.
func loadArtifactFile(path string) (*models.Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var probe struct {
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if len(probe.Bytecode) == 0 {
		return nil, nil
	}

	var artifact *models.Artifact
	if probe.Bytecode[0] == '{' {
		artifact, err = parseFoundryArtifact(data)
	} else {
		artifact, err = parseArtifactRecord(data)
	}
	if err != nil || artifact == nil {
		return nil, err
	}
	artifact.FilePath = path
	return artifact, nil
}

func parseFoundryArtifact(data []byte) (*models.Artifact, error) {
	var fa foundryArtifact
	if err := json.Unmarshal(data, &fa); err != nil {
		return nil, err
	}
	if fa.Bytecode.Object == "" || fa.Bytecode.Object == "0x" {
		return nil, nil
	}

	var sourcePath, name string
	for source, contract := range fa.Metadata.Settings.CompilationTarget {
		sourcePath, name = source, contract
	}
	if name == "" {
		return nil, fmt.Errorf("no compilation target")
	}

	bytecode, err := hexutil.Decode(with0x(fa.Bytecode.Object))
	if err != nil {
		return nil, fmt.Errorf("bytecode: %w", err) // unlinked libraries
	}
	deployed, err := hexutil.Decode(with0x(fa.DeployedBytecode.Object))
	if err != nil {
		return nil, fmt.Errorf("deployed bytecode: %w", err)
	}

	var version *semver.Version
	if fa.Metadata.Compiler.Version != "" {
		if version, err = semver.NewVersion(fa.Metadata.Compiler.Version); err != nil {
			return nil, fmt.Errorf("compiler version: %w", err)
		}
	}

	artifact, err := models.NewArtifact(name, version, bytecode, deployed, fa.StorageLayout)
	if err != nil {
		return nil, err
	}
	artifact.SourcePath = sourcePath
	return artifact, nil
}

func parseArtifactRecord(data []byte) (*models.Artifact, error) {
	var record models.Artifact
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if record.Name == "" || len(record.Bytecode) == 0 {
		return nil, fmt.Errorf("artifact record needs a name and bytecode")
	}
	// the layout hash is always recomputed rather than trusted
	return models.NewArtifact(record.Name, record.CompilerVersion, record.Bytecode, record.DeployedBytecode, record.LayoutMetadata)
}

func with0x(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Ensure Store implements ArtifactStore
var _ usecase.ArtifactStore = (*Store)(nil)
