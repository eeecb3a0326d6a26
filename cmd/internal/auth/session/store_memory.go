package session

import (
	"context"
	"sync"
)

// InMemoryStore is a process-local Store for development and tests.
type InMemoryStore struct {
	mu       sync.Mutex
	snaps    map[string]Snapshot
	watchers map[string]map[chan Snapshot]struct{}
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		snaps:    make(map[string]Snapshot),
		watchers: make(map[string]map[chan Snapshot]struct{}),
	}
}

func (s *InMemoryStore) Load(_ context.Context, key string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snaps[key]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return cloneSnapshot(snap), nil
}

func (s *InMemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.snaps[snap.Key]; ok && snap.Version <= cur.Version {
		return ErrStaleSnapshot
	}
	snap = cloneSnapshot(snap)
	s.snaps[snap.Key] = snap

	for ch := range s.watchers[snap.Key] {
		offerLatest(ch, cloneSnapshot(snap))
	}
	return nil
}

func (s *InMemoryStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	set, ok := s.watchers[key]
	if !ok {
		set = make(map[chan Snapshot]struct{})
		s.watchers[key] = set
	}
	set[ch] = struct{}{}
	if snap, ok := s.snaps[key]; ok {
		ch <- cloneSnapshot(snap)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers[key], ch)
		if len(s.watchers[key]) == 0 {
			delete(s.watchers, key)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

// offerLatest replaces any undelivered value in a one-slot channel with snap.
func offerLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
