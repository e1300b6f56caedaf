package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/audit"
)

// WriterStore writes audit records as JSON Lines to an io.Writer,
// typically stdout. It never rotates and never deletes.
type WriterStore struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterStore creates a writer-backed audit store.
func NewWriterStore(w io.Writer) *WriterStore {
	return &WriterStore{w: w}
}

// Append writes each record as one JSON line.
func (s *WriterStore) Append(_ context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		if _, err := s.w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	return nil
}

// Flush is a no-op; writes are unbuffered.
func (s *WriterStore) Flush(context.Context) error { return nil }

// Close is a no-op; the writer is owned by the caller.
func (s *WriterStore) Close() error { return nil }

var _ audit.Store = (*WriterStore)(nil)
