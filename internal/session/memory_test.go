package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(ttl time.Duration) (*Memory, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(ttl, 0)
	m.now = clock.Now
	return m, clock
}

func TestMemorySetGet(t *testing.T) {
	t.Parallel()

	m, _ := newTestMemory(time.Hour)
	ctx := context.Background()
	id := NewID()

	in := &models.UploadSession{FilePath: "uploads/a.csv", Columns: []string{"mail", "nombre"}}
	require.NoError(t, m.Set(ctx, id, in))

	// mutating the caller's value must not leak into the store
	in.Columns[0] = "changed"

	got, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail", "nombre"}, got.Columns)

	got.FilePath = "other"
	again, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "uploads/a.csv", again.FilePath)
}

func TestMemoryIsolatesSessions(t *testing.T) {
	t.Parallel()

	m, _ := newTestMemory(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", &models.UploadSession{MessageTemplate: "A"}))

	_, err := m.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExpiry(t *testing.T) {
	t.Parallel()

	m, clock := newTestMemory(time.Minute)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", &models.UploadSession{}))
	clock.Advance(30 * time.Second)
	_, err := m.Get(ctx, "a")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryClear(t *testing.T) {
	t.Parallel()

	m, _ := newTestMemory(time.Hour)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", &models.UploadSession{}))
	require.NoError(t, m.Clear(ctx, "a"))
	require.NoError(t, m.Clear(ctx, "missing"))

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeleteExpiredCallsEvict(t *testing.T) {
	t.Parallel()

	m, clock := newTestMemory(time.Minute)
	ctx := context.Background()

	var evicted []string
	m.SetEvictCallback(func(id string, s *models.UploadSession) {
		evicted = append(evicted, id+":"+s.FilePath)
	})

	require.NoError(t, m.Set(ctx, "old", &models.UploadSession{FilePath: "old.csv"}))
	clock.Advance(2 * time.Minute)
	require.NoError(t, m.Set(ctx, "new", &models.UploadSession{FilePath: "new.csv"}))

	assert.Equal(t, 1, m.DeleteExpired())
	assert.Equal(t, []string{"old:old.csv"}, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryClose(t *testing.T) {
	t.Parallel()

	m := NewMemory(time.Minute, 10*time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Get(context.Background(), "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(context.Background(), "a", &models.UploadSession{}), ErrClosed)
}

func TestValidID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidID(NewID()))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("../../etc/passwd"))
}
