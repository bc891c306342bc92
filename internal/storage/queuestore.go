package storage

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/checkout"
)

// QueueStore persists the offline retry queue: one JSON document per
// project, rewritten on every enqueue, dequeue or failure-count change.
type QueueStore struct {
	mu      sync.Mutex
	dir     string
	project string
	logger  zerolog.Logger
}

// NewQueueStore constructs a store rooted at dir.
func NewQueueStore(dir, project string, logger zerolog.Logger) *QueueStore {
	return &QueueStore{dir: dir, project: project, logger: logger}
}

func (s *QueueStore) path() string {
	return filepath.Join(s.dir, fmt.Sprintf("pending-checkouts-%s.json", sanitize(s.project)))
}

// Load reads the queued entries. A missing or corrupt file yields an empty
// queue.
func (s *QueueStore) Load() []checkout.SavedCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []checkout.SavedCart
	ok, err := readJSON(s.path(), &entries)
	if err != nil {
		s.logger.Warn().Err(err).Msg("retry_queue_load_failed")
		return nil
	}
	if !ok {
		return nil
	}
	return entries
}

// Save rewrites the whole queue document.
func (s *QueueStore) Save(entries []checkout.SavedCart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(s.path(), entries); err != nil {
		s.logger.Error().Err(err).Msg("retry_queue_save_failed")
		return err
	}
	return nil
}
