package favorites

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"lunchfinder/discovery/internal/metrics"
	"lunchfinder/discovery/internal/stream"
)

// Store is the durable backing for the favorite set. Persist receives the
// full post-mutation set.
type Store interface {
	LoadAll(ctx context.Context) ([]string, error)
	Persist(ctx context.Context, ids []string) error
}

type Set map[string]struct{}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// DegradedWrite describes a mutation that was applied in memory but could
// not be persisted.
type DegradedWrite struct {
	Op  string
	ID  string
	Err error
	At  time.Time
}

// DefaultPersistTimeout bounds a single write to the store.
const DefaultPersistTimeout = 5 * time.Second

// State is the single writer of the favorite set. Every mutation updates the
// in-memory set and publishes it under mu, so readers and subscribers see the
// post-mutation value before the call returns. The write to the store happens
// after mu is released, serialized by writeMu; a set older than the last one
// persisted is never written. A failed persist leaves the in-memory set
// authoritative; it is counted, logged and handed to the degraded-write hook.
type State struct {
	mu     sync.Mutex
	ids    Set
	seq    uint64
	store  Store
	logger *slog.Logger
	stream *stream.Broadcaster[[]string]

	writeMu        sync.Mutex
	writtenSeq     uint64
	persistTimeout time.Duration

	degraded   atomic.Int64
	onDegraded func(DegradedWrite)
	now        func() time.Time
}

// pendingWrite is a published set waiting to be persisted.
type pendingWrite struct {
	op  string
	id  string
	seq uint64
	ids []string
}

type Option func(*State)

func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDegradedWriteHook is called synchronously for every failed persist.
func WithDegradedWriteHook(fn func(DegradedWrite)) Option {
	return func(s *State) {
		s.onDegraded = fn
	}
}

// WithPersistTimeout bounds each store write. Non-positive values keep the
// default.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *State) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func New(store Store, opts ...Option) *State {
	s := &State{
		ids:            make(Set),
		store:          store,
		logger:         slog.Default(),
		stream:         stream.NewBroadcaster[[]string](1),
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stream.Publish([]string{})
	return s
}

// Load replaces the in-memory set with the stored one. On error the current
// set is kept.
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	ids, err := s.store.LoadAll(ctx)
	if err != nil {
		s.logger.Warn("favorites load failed", slog.String("error", err.Error()))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(Set, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			s.ids[id] = struct{}{}
		}
	}
	s.stream.Publish(s.sortedLocked())
	s.logger.Info("favorites loaded", slog.Int("count", len(s.ids)))
	return nil
}

func (s *State) IsFavorite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids.Has(strings.TrimSpace(id))
}

// Toggle flips id and returns its new state.
func (s *State) Toggle(ctx context.Context, id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	s.mu.Lock()
	var (
		w   pendingWrite
		now bool
	)
	if s.ids.Has(id) {
		delete(s.ids, id)
		w = s.publishLocked("remove", id)
	} else {
		s.ids[id] = struct{}{}
		w = s.publishLocked("add", id)
		now = true
	}
	s.mu.Unlock()

	s.persist(ctx, w)
	return now
}

func (s *State) Add(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.ids.Has(id) {
		s.mu.Unlock()
		return
	}
	s.ids[id] = struct{}{}
	w := s.publishLocked("add", id)
	s.mu.Unlock()

	s.persist(ctx, w)
}

func (s *State) Remove(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	if !s.ids.Has(id) {
		s.mu.Unlock()
		return
	}
	delete(s.ids, id)
	w := s.publishLocked("remove", id)
	s.mu.Unlock()

	s.persist(ctx, w)
}

func (s *State) Clear(ctx context.Context) {
	s.mu.Lock()
	s.ids = make(Set)
	w := s.publishLocked("clear", "")
	s.mu.Unlock()

	s.persist(ctx, w)
}

// Snapshot returns a point-in-time copy of the set.
func (s *State) Snapshot() Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Set, len(s.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	return out
}

// FavoriteIDs is Snapshot for callers that run under a context; it fails only
// when ctx is already done.
func (s *State) FavoriteIDs(ctx context.Context) (Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

// IDs returns the set as a sorted slice.
func (s *State) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Subscribe streams the full sorted id set after every mutation, starting
// with the current one.
func (s *State) Subscribe(ctx context.Context) <-chan []string {
	return s.stream.Subscribe(ctx)
}

func (s *State) DegradedWrites() int64 {
	return s.degraded.Load()
}

func (s *State) Close() {
	s.stream.Close()
}

// publishLocked stamps the current set with the next sequence number and
// publishes it to subscribers.
func (s *State) publishLocked(op, id string) pendingWrite {
	s.seq++
	ids := s.sortedLocked()
	s.stream.Publish(ids)
	return pendingWrite{op: op, id: id, seq: s.seq, ids: ids}
}

// persist writes w to the store unless a newer set was already written.
// Readers are never blocked by it; only other writers wait on writeMu.
func (s *State) persist(ctx context.Context, w pendingWrite) {
	if s.store == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if w.seq <= s.writtenSeq {
		return
	}
	s.writtenSeq = w.seq

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	if err := s.store.Persist(writeCtx, w.ids); err != nil {
		s.degraded.Add(1)
		metrics.FavoritesDegradedWritesTotal.Inc()
		s.logger.Warn("favorites persist failed",
			slog.String("op", w.op),
			slog.String("id", w.id),
			slog.Int("count", len(w.ids)),
			slog.String("error", err.Error()),
		)
		if s.onDegraded != nil {
			s.onDegraded(DegradedWrite{Op: w.op, ID: w.id, Err: err, At: s.now()})
		}
	}
}

func (s *State) sortedLocked() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
