package transcript

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Archive persists transcript mutations. Implementations must be safe
// for use from a single Store; the Store serializes calls.
type Archive interface {
	Load() ([]Entry, error)
	Save(e Entry) error
	Update(e Entry) error
	Clear() error
}

// Store is an append-only (apart from attachment edits and wholesale
// clear) ordered chat log. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	entries    []Entry
	index      map[string]int
	generation uint64
	archive    Archive
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithArchive mirrors every mutation to a.
func WithArchive(a Archive) Option {
	return func(s *Store) { s.archive = a }
}

// WithClock overrides the server-side timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Restore replaces the in-memory log with the archived one.
// A store without an archive is left untouched.
func (s *Store) Restore() error {
	if s.archive == nil {
		return nil
	}
	entries, err := s.archive.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = s.entries[:0]
	s.index = make(map[string]int, len(entries))
	for _, e := range entries {
		if _, dup := s.index[e.ID]; dup || e.ID == "" {
			continue
		}
		if e.Generation > s.generation {
			s.generation = e.Generation
		}
		s.index[e.ID] = len(s.entries)
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

// Append adds e at the end of the log and returns the stored copy.
// An empty or already-used ID is replaced by a fresh one; a zero
// timestamp is set to the current time.
func (s *Store) Append(e Entry) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.index[e.ID]; e.ID == "" || dup {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Generation = s.generation
	e = e.Clone()

	s.index[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)

	if s.archive != nil {
		if err := s.archive.Save(e); err != nil {
			slog.Warn("transcript archive save failed", "id", e.ID, "error", err)
		}
	}
	return e.Clone()
}

// Clear drops every entry and starts a new generation.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.index = make(map[string]int)
	s.generation++

	if s.archive != nil {
		if err := s.archive.Clear(); err != nil {
			slog.Warn("transcript archive clear failed", "error", err)
		}
	}
}

// Snapshot returns a deep copy of the log in append order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Clone()
	}
	return out
}

// Get returns a copy of the entry with the given id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i].Clone(), true
}

// RemoveAttachment deletes attachment index of entry id.
// Returns false, without changing anything, when either is unknown.
func (s *Store) RemoveAttachment(id string, index int) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	e := &s.entries[i]
	if index < 0 || index >= len(e.Attachments) {
		return Entry{}, false
	}

	atts := make([]string, 0, len(e.Attachments)-1)
	atts = append(atts, e.Attachments[:index]...)
	atts = append(atts, e.Attachments[index+1:]...)
	e.Attachments = atts

	if s.archive != nil {
		if err := s.archive.Update(*e); err != nil {
			slog.Warn("transcript archive update failed", "id", id, "error", err)
		}
	}
	return e.Clone(), true
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Generation returns the clear counter. Entries carry the generation
// they were appended in.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
