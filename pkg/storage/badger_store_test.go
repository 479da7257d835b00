package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *BadgerKV {
	t.Helper()
	kv, err := NewBadgerKV("", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestBadgerKV_SetGet(t *testing.T) {
	kv := newTestKV(t)

	_, found, err := kv.Get("robots:https://example.com")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set("robots:https://example.com", []byte(`{"allow":["/"]}`), time.Hour))

	val, found, err := kv.Get("robots:https://example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"allow":["/"]}`, string(val))
}

func TestBadgerKV_Overwrite(t *testing.T) {
	kv := newTestKV(t)
	require.NoError(t, kv.Set("k", []byte("v1"), 0))
	require.NoError(t, kv.Set("k", []byte("v2"), 0))

	val, found, err := kv.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", string(val))
}

func TestBadgerKV_TTLExpiry(t *testing.T) {
	kv := newTestKV(t)
	// badger TTLs have one-second resolution
	require.NoError(t, kv.Set("short", []byte("v"), time.Second))

	require.Eventually(t, func() bool {
		_, found, err := kv.Get("short")
		return err == nil && !found
	}, 5*time.Second, 100*time.Millisecond)
}

func TestBadgerKV_Delete(t *testing.T) {
	kv := newTestKV(t)
	require.NoError(t, kv.Set("k", []byte("v"), 0))
	require.NoError(t, kv.Delete("k"))

	_, found, err := kv.Get("k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBadgerKV_OnDisk(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewBadgerKV(dir, testLogger())
	require.NoError(t, err)
	require.NoError(t, kv.Set("k", []byte("persisted"), 0))
	require.NoError(t, kv.Close())

	reopened, err := NewBadgerKV(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	val, found, err := reopened.Get("k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "persisted", string(val))
}

func TestBadgerKV_RunGCStopsOnCancel(t *testing.T) {
	kv := newTestKV(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		kv.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC did not stop after cancel")
	}
}

func TestBadgerKV_CloseTwice(t *testing.T) {
	kv, err := NewBadgerKV("", testLogger())
	require.NoError(t, err)
	require.NoError(t, kv.Close())
	assert.NoError(t, kv.Close())
}
