package fs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/trebuchet-org/treb-upgrade/internal/adapters/registry"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

const UpgradeJournalFile = "upgrades.jsonl"

// UpgradeJournalAdapter persists registry entries as JSON lines
type UpgradeJournalAdapter struct {
	path string
	log  *slog.Logger
	mu   sync.Mutex
}

// NewUpgradeJournalAdapter creates a journal under the data directory
func NewUpgradeJournalAdapter(cfg *config.RuntimeConfig, log *slog.Logger) *UpgradeJournalAdapter {
	return &UpgradeJournalAdapter{
		path: filepath.Join(cfg.DataDir, UpgradeJournalFile),
		log:  log.With("component", "UpgradeJournal"),
	}
}

// Append writes one entry and syncs it to disk before returning
func (j *UpgradeJournalAdapter) Append(_ context.Context, entry models.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Replay calls fn for each entry in write order. A torn final line left by
// an interrupted write is skipped; corruption anywhere else is an error.
func (j *UpgradeJournalAdapter) Replay(ctx context.Context, fn func(models.JournalEntry) error) error {
	j.mu.Lock()
	data, err := os.ReadFile(j.path)
	j.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read journal: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	torn := len(data) > 0 && data[len(data)-1] != '\n'

	var lines [][]byte
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan journal: %w", err)
	}

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry models.JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			if torn && i == len(lines)-1 {
				j.log.Warn("ignoring incomplete trailing journal entry", "path", j.path)
				return nil
			}
			return fmt.Errorf("corrupt journal entry on line %d: %w", i+1, err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the journal location
func (j *UpgradeJournalAdapter) Path() string {
	return j.path
}

// Ensure UpgradeJournalAdapter implements registry.Journal
var _ registry.Journal = (*UpgradeJournalAdapter)(nil)
