// Package session keeps documents resident across tool calls, keyed by a
// client-visible session id.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docmcp-lab/gateway/internal/document"
	"github.com/docmcp-lab/gateway/internal/logging"
	"github.com/docmcp-lab/gateway/internal/metrics"
)

// ErrNotFound is returned for unknown or already evicted session ids.
var ErrNotFound = errors.New("session not found")

// Entry is one resident document. Fields other than ID and CreatedAt may
// only be touched inside Mutate, or by the caller that evicted the entry.
type Entry struct {
	ID         string
	Document   document.Document
	SourcePath string
	Dirty      bool
	CreatedAt  time.Time
	LastUsed   time.Time
}

// Info is a point-in-time view of an entry, safe to hand out.
type Info struct {
	ID         string        `json:"id"`
	Kind       document.Kind `json:"kind"`
	SourcePath string        `json:"source_path,omitempty"`
	Dirty      bool          `json:"dirty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsed   time.Time     `json:"last_used"`
}

// LoadFunc opens the document for a new session.
type LoadFunc func(ctx context.Context) (doc document.Document, sourcePath string, err error)

// Store holds sessions. Mutate serializes all work on one session; work on
// different sessions runs concurrently.
type Store interface {
	// GetOrCreate returns id if it exists, otherwise loads a document and
	// stores it under id (a fresh id when empty). created reports which.
	GetOrCreate(ctx context.Context, id string, load LoadFunc) (info Info, created bool, err error)
	// Mutate runs fn with the session lock held.
	Mutate(ctx context.Context, id string, fn func(*Entry) error) error
	// Evict removes the session and hands its entry to the caller, waiting
	// for any in-flight Mutate to finish first.
	Evict(ctx context.Context, id string) (*Entry, error)
	List() []Info
}

type slot struct {
	sem     chan struct{}
	entry   *Entry
	evicted bool
}

func (s *slot) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slot) tryLock() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *slot) unlock() { <-s.sem }

// MemoryStore is an in-process Store. The map mutex is only held for map
// access, never while a document is loaded or mutated.
type MemoryStore struct {
	mu      sync.Mutex
	slots   map[string]*slot
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMetrics reports the number of open sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *MemoryStore) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{slots: make(map[string]*slot), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Info snapshots e. Call it only where e may be read.
func (e *Entry) Info() Info {
	info := Info{
		ID:         e.ID,
		SourcePath: e.SourcePath,
		Dirty:      e.Dirty,
		CreatedAt:  e.CreatedAt,
		LastUsed:   e.LastUsed,
	}
	if e.Document != nil {
		info.Kind = e.Document.Kind()
	}
	return info
}

func (s *MemoryStore) lookup(id string) (*slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return sl, nil
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, id string, load LoadFunc) (Info, bool, error) {
	if id != "" {
		if sl, err := s.lookup(id); err == nil {
			if err := sl.lock(ctx); err != nil {
				return Info{}, false, err
			}
			defer sl.unlock()
			if !sl.evicted {
				return sl.entry.Info(), false, nil
			}
		}
	} else {
		id = uuid.NewString()
	}

	doc, source, err := load(ctx)
	if err != nil {
		return Info{}, false, err
	}
	now := s.now()
	entry := &Entry{ID: id, Document: doc, SourcePath: source, CreatedAt: now, LastUsed: now}

	s.mu.Lock()
	if existing, ok := s.slots[id]; ok && !existing.evicted {
		// Lost a race with another creator; theirs wins.
		s.mu.Unlock()
		if err := existing.lock(ctx); err != nil {
			return Info{}, false, err
		}
		defer existing.unlock()
		return existing.entry.Info(), false, nil
	}
	s.slots[id] = &slot{sem: make(chan struct{}, 1), entry: entry}
	s.mu.Unlock()

	s.metrics.SessionOpened()
	logging.DebugwCtx(ctx, "session: created", append(logging.SessionFields(id), "source", source)...)
	return entry.Info(), true, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(*Entry) error) error {
	sl, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := sl.lock(ctx); err != nil {
		return err
	}
	defer sl.unlock()
	if sl.evicted {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	sl.entry.LastUsed = s.now()
	return fn(sl.entry)
}

func (s *MemoryStore) Evict(ctx context.Context, id string) (*Entry, error) {
	sl, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := sl.lock(ctx); err != nil {
		return nil, err
	}
	defer sl.unlock()
	if sl.evicted {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.remove(id, sl)
	return sl.entry, nil
}

// remove drops sl from the map; the caller holds sl's lock.
func (s *MemoryStore) remove(id string, sl *slot) {
	sl.evicted = true
	s.mu.Lock()
	removed := s.slots[id] == sl
	if removed {
		delete(s.slots, id)
	}
	s.mu.Unlock()
	if removed {
		s.metrics.SessionClosed()
	}
}

// List returns sessions ordered by id. Sessions busy in Mutate are
// reported from their last settled state.
func (s *MemoryStore) List() []Info {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()

	out := make([]Info, 0, len(slots))
	for _, sl := range slots {
		if !sl.tryLock() {
			out = append(out, Info{ID: sl.entry.ID, CreatedAt: sl.entry.CreatedAt})
			continue
		}
		if !sl.evicted {
			out = append(out, sl.entry.Info())
		}
		sl.unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of open sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Reap evicts sessions unused for longer than idle and passes each evicted
// entry to onEvict. Busy sessions are skipped.
func (s *MemoryStore) Reap(idle time.Duration, onEvict func(*Entry)) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	candidates := make(map[string]*slot, len(s.slots))
	for id, sl := range s.slots {
		candidates[id] = sl
	}
	s.mu.Unlock()

	reaped := 0
	for id, sl := range candidates {
		if !sl.tryLock() {
			continue
		}
		if !sl.evicted && sl.entry.LastUsed.Before(cutoff) {
			s.remove(id, sl)
			reaped++
			logging.Infow("session: reaped idle session", append(logging.SessionFields(id), "dirty", sl.entry.Dirty)...)
			if onEvict != nil {
				onEvict(sl.entry)
			}
		}
		sl.unlock()
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is done. A non-positive
// idle disables reaping.
func (s *MemoryStore) RunReaper(ctx context.Context, interval, idle time.Duration, onEvict func(*Entry)) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = idle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Reap(idle, onEvict)
		}
	}
}
