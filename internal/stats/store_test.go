package stats

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string, now time.Time) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{
		Path:          path,
		RetentionDays: 7,
		Now:           func() time.Time { return now },
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIncrementAndReadToday(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)
	s := openStore(t, filepath.Join(t.TempDir(), "stats.db"), now)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Increment(ctx, "9000"))
	}
	require.NoError(t, s.Increment(ctx, "9001"))

	today, err := s.ReadToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"9000": 3, "9001": 1}, today)

	n, err := s.Count(ctx, "2026-10-14", "9000")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, "2026-10-13", "9000")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenIsIdempotentAndPurges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")

	old := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	first, err := Open(ctx, Config{Path: path, Now: func() time.Time { return old }, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, first.Increment(ctx, "9000"))
	require.NoError(t, first.Close())

	recent := time.Date(2026, 10, 8, 12, 0, 0, 0, time.UTC)
	second, err := Open(ctx, Config{Path: path, Now: func() time.Time { return recent }, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, second.Increment(ctx, "9001"))
	require.NoError(t, second.Close())

	// 2026-10-14 minus 7 days: the 10-01 row goes, the 10-08 row stays
	later := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	third := openStore(t, path, later)

	n, err := third.Count(ctx, "2026-10-01", "9000")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = third.Count(ctx, "2026-10-08", "9001")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	today, err := third.ReadToday(ctx)
	require.NoError(t, err)
	assert.Empty(t, today)
}

func TestDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	// 01:00 UTC on the 15th is still the 14th in UTC-3
	now := time.Date(2026, 10, 15, 1, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), Config{
		Path:     filepath.Join(t.TempDir(), "stats.db"),
		Location: loc,
		Now:      func() time.Time { return now },
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "2026-10-14", s.Today())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

type recordingStore struct {
	mu   sync.Mutex
	got  []string
	fail bool
}

func (r *recordingStore) Increment(_ context.Context, ext string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.got = append(r.got, ext)
	return nil
}

func (r *recordingStore) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestWriterPersistsAndFlushes(t *testing.T) {
	store := &recordingStore{}
	w := NewWriter(store, 16, zerolog.Nop())

	w.Record("9000")
	w.Record("9001")

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	assert.Eventually(t, func() bool { return len(store.calls()) == 2 }, time.Second, 5*time.Millisecond)

	w.Record("9002")
	cancel()
	w.Wait()

	assert.ElementsMatch(t, []string{"9000", "9001", "9002"}, store.calls())
}

func TestWriterNeverBlocks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&recordingStore{}, 1, zerolog.New(&buf))

	done := make(chan struct{})
	go func() {
		w.Record("9000")
		w.Record("9000")
		w.Record("9000")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked without a running writer")
	}
	assert.Contains(t, buf.String(), "increment dropped")
}

func TestWriterLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&recordingStore{fail: true}, 4, zerolog.New(&buf))
	w.Record("9000")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	assert.Contains(t, buf.String(), "failed to persist calls made")
}
