package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reloadRecorder struct {
	mu   sync.Mutex
	cfgs []*Config
	errs []error
}

func (r *reloadRecorder) record(cfg *Config, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs = append(r.cfgs, cfg)
	r.errs = append(r.errs, err)
}

func (r *reloadRecorder) last() (*Config, error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cfgs) == 0 {
		return nil, nil, 0
	}
	return r.cfgs[len(r.cfgs)-1], r.errs[len(r.errs)-1], len(r.cfgs)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, DefaultConfig().Save(path))

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.record)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	cfg := DefaultConfig()
	cfg.Service.BaseURL = "http://reloaded:9000"
	require.NoError(t, cfg.Save(path))

	require.Eventually(t, func() bool {
		got, err, _ := rec.last()
		return err == nil && got != nil && got.Service.BaseURL == "http://reloaded:9000"
	}, 3*time.Second, 20*time.Millisecond)

	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Events, 1)
	assert.GreaterOrEqual(t, stats.Reloads, 1)
}

func TestWatcherRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, DefaultConfig().Save(path))

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.record)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("progress:\n  stage_interval: nonsense\n"), 0644))

	require.Eventually(t, func() bool {
		_, err, n := rec.last()
		return n > 0 && err != nil
	}, 3*time.Second, 20*time.Millisecond)

	got, _, _ := rec.last()
	assert.Nil(t, got)
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rec := &reloadRecorder{}
	w, err := NewWatcher(path, rec.record)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1"), 0644))
	time.Sleep(400 * time.Millisecond)

	_, _, n := rec.last()
	assert.Equal(t, 0, n)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), FileName), nil)
	require.NoError(t, err)

	// Stop before Start still releases the fsnotify watcher.
	w.Stop()
	w.Stop()
	assert.NoError(t, w.Start(context.Background()))
}

func TestWatcherStartFailsForMissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing", FileName), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewWatcher(filepath.Join(t.TempDir(), FileName), nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	cancel()
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
