package registry

import (
	"context"
	"sync"

	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// MemoryJournal keeps entries in memory. Used for dry runs and tests.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []models.JournalEntry
}

// NewMemoryJournal creates a journal pre-populated with entries
func NewMemoryJournal(entries ...models.JournalEntry) *MemoryJournal {
	return &MemoryJournal{entries: entries}
}

func (j *MemoryJournal) Append(ctx context.Context, entry models.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *MemoryJournal) Replay(ctx context.Context, fn func(models.JournalEntry) error) error {
	j.mu.Lock()
	entries := append([]models.JournalEntry(nil), j.entries...)
	j.mu.Unlock()

	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns a copy of everything appended so far
func (j *MemoryJournal) Entries() []models.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.JournalEntry(nil), j.entries...)
}
