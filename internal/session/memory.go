package session

import (
	"context"
	"sync"
	"time"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

type evictedEntry struct {
	id    string
	state *models.UploadSession
}

type entry struct {
	state     *models.UploadSession
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Memory is an in-process Store with TTL expiry and a background janitor.
type Memory struct {
	items   map[string]entry
	ttl     time.Duration
	now     func() time.Time
	onEvict func(id string, s *models.UploadSession)
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// NewMemory creates a Memory store. A positive cleanup interval starts the
// janitor; call Close to stop it.
func NewMemory(ttl, cleanup time.Duration) *Memory {
	m := &Memory{
		items: make(map[string]entry),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}

	if cleanup > 0 {
		go m.janitor(cleanup)
	}

	return m
}

func (m *Memory) Get(_ context.Context, id string) (*models.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	e, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(m.now()) {
		delete(m.items, id)
		return nil, ErrNotFound
	}

	return e.state.Clone(), nil
}

func (m *Memory) Set(_ context.Context, id string, s *models.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.items[id] = entry{state: s.Clone(), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.items, id)
	return nil
}

// SetEvictCallback registers fn to run for every entry dropped by DeleteExpired.
func (m *Memory) SetEvictCallback(fn func(id string, s *models.UploadSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = fn
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// DeleteExpired drops every expired entry and returns how many were removed.
func (m *Memory) DeleteExpired() int {
	m.mu.Lock()
	now := m.now()
	var evicted []evictedEntry
	for id, e := range m.items {
		if e.expired(now) {
			delete(m.items, id)
			evicted = append(evicted, evictedEntry{id: id, state: e.state})
		}
	}
	onEvict := m.onEvict
	m.mu.Unlock()

	if onEvict != nil {
		for _, e := range evicted {
			onEvict(e.id, e.state)
		}
	}

	return len(evicted)
}

// Close stops the janitor. Further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.items = nil
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.DeleteExpired()
		}
	}
}
