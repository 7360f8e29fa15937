package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmote/puremote/internal/device"
)

const testPath = "/data/puremote/devices.json"

type memStorage struct {
	mu       sync.Mutex
	files    map[string][]byte
	readErr  error
	writeErr error
	writes   int

	// inWrite detects overlapping WriteFile calls
	inWrite atomic.Int32
	overlap atomic.Bool
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (m *memStorage) WriteFile(name string, data []byte) error {
	if m.inWrite.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inWrite.Add(-1)
	time.Sleep(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[name] = append([]byte(nil), data...)
	return nil
}

func (m *memStorage) MkdirAll(string) error { return nil }

func (m *memStorage) file(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[name]
}

// fakeProber answers for the addresses in online and fails for the rest.
type fakeProber struct {
	online map[string]*device.Details
	calls  atomic.Int32
}

func (p *fakeProber) ProbeOne(_ context.Context, address string) (*device.Record, error) {
	p.calls.Add(1)
	details, ok := p.online[address]
	if !ok {
		return nil, fmt.Errorf("probe %s: unreachable", address)
	}
	return &device.Record{Address: address, Status: device.StatusOnline, Device: details}, nil
}

func record(address, hostname string, status device.Status) device.Record {
	return device.Record{
		Address: address,
		Status:  status,
		Device:  &device.Details{Hostname: hostname, Arch: "arm64", Uptime: 10},
	}
}

func TestRegistry_UpsertGetAll(t *testing.T) {
	r := New(testPath, newMemStorage(), nil)

	r.Upsert(record("10.0.0.2", "b", device.StatusOnline))
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))
	r.Upsert(record("10.0.0.2", "b2", device.StatusOnline))
	r.Upsert(device.Record{Device: &device.Details{}})

	require.Equal(t, 2, r.Len())

	got, ok := r.Get("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, "b2", got.Device.Hostname)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "10.0.0.1", all[0].Address)
	assert.Equal(t, "10.0.0.2", all[1].Address)

	_, ok = r.Get("10.0.0.9")
	assert.False(t, ok)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := New(testPath, newMemStorage(), nil)
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))

	got, _ := r.Get("10.0.0.1")
	got.Device.Hostname = "mutated"

	again, _ := r.Get("10.0.0.1")
	assert.Equal(t, "a", again.Device.Hostname)
}

func TestRegistry_MarkOfflineKeepsPayload(t *testing.T) {
	r := New(testPath, newMemStorage(), nil)
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))

	assert.True(t, r.MarkOffline("10.0.0.1"))
	assert.False(t, r.MarkOffline("10.0.0.9"))

	got, _ := r.Get("10.0.0.1")
	assert.Equal(t, device.StatusOffline, got.Status)
	require.NotNil(t, got.Device)
	assert.Equal(t, "a", got.Device.Hostname)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_SnapshotFormat(t *testing.T) {
	r := New(testPath, newMemStorage(), nil)

	empty, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))
	data, err := r.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  {\n    \"address\": \"10.0.0.1\"")
}

func TestRegistry_RoundTrip(t *testing.T) {
	store := newMemStorage()
	r := New(testPath, store, nil)

	rec := record("10.0.0.1", "a", device.StatusOnline)
	rec.Device.Extra = map[string]json.RawMessage{"gpu": json.RawMessage(`{"model":"x"}`)}
	r.Upsert(rec)
	r.Upsert(record("lab3.example.org", "c", device.StatusOffline))

	first, err := r.Snapshot()
	require.NoError(t, err)

	restored := New(testPath, store, nil)
	require.NoError(t, restored.Load(context.Background(), first))

	second, err := restored.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, string(second), string(store.file(testPath)))
}

func TestRegistry_LoadSkipsInvalidEntries(t *testing.T) {
	data := []byte(`[
		{"address":"10.0.0.1","status":"online","device":{"hostname":"a"}},
		{"address":"","status":"online","device":{"hostname":"b"}},
		{"address":"10.0.0.3","status":"online"},
		{"address":"10.0.0.4","status":"online","device":null},
		{"address":7,"device":{}},
		{"address":"10.0.0.6","status":"offline","device":{"hostname":"f"}}
	]`)

	r := New(testPath, newMemStorage(), nil)
	require.NoError(t, r.Load(context.Background(), data))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "10.0.0.1", all[0].Address)
	assert.Equal(t, "10.0.0.6", all[1].Address)
}

func TestRegistry_LoadKeepsMistypedPayload(t *testing.T) {
	data := []byte(`[{"address":"10.0.0.1","status":"online","device":{"hostname":"a","uptime":"3h","cpu":{"cores":4}}}]`)

	store := newMemStorage()
	r := New(testPath, store, nil)
	require.NoError(t, r.Load(context.Background(), data))

	rec, ok := r.Get("10.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "a", rec.Device.Hostname)
	assert.JSONEq(t, `"3h"`, string(rec.Device.Get("uptime")))

	require.NoError(t, r.Save())
	assert.Contains(t, string(store.file(testPath)), `"cores"`)
}

func TestRegistry_LoadMalformedKeepsState(t *testing.T) {
	store := newMemStorage()
	r := New(testPath, store, nil)
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))

	err := r.Load(context.Background(), []byte(`{"not":"an array"}`))
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, store.writes)
}

func TestRegistry_LoadReconciles(t *testing.T) {
	prober := &fakeProber{online: map[string]*device.Details{
		"10.0.0.1": {Hostname: "fresh", Uptime: 99},
	}}
	store := newMemStorage()
	r := New(testPath, store, prober)

	data := []byte(`[
		{"address":"10.0.0.1","status":"offline","device":{"hostname":"stale"}},
		{"address":"10.0.0.2","status":"online","device":{"hostname":"gone"}},
		{"address":"10.0.0.3","status":"online","device":{"hostname":"gone too"}}
	]`)
	require.NoError(t, r.Load(context.Background(), data))

	assert.EqualValues(t, 3, prober.calls.Load())

	a, _ := r.Get("10.0.0.1")
	assert.Equal(t, device.StatusOnline, a.Status)
	assert.Equal(t, "fresh", a.Device.Hostname)

	for _, addr := range []string{"10.0.0.2", "10.0.0.3"} {
		rec, ok := r.Get(addr)
		require.True(t, ok, addr)
		assert.Equal(t, device.StatusOffline, rec.Status, addr)
		assert.NotNil(t, rec.Device, addr)
	}

	var persisted []device.Record
	require.NoError(t, json.Unmarshal(store.file(testPath), &persisted))
	require.Len(t, persisted, 3)
	assert.Equal(t, device.StatusOnline, persisted[0].Status)
	assert.Equal(t, device.StatusOffline, persisted[1].Status)
}

func TestRegistry_ReconcileResult(t *testing.T) {
	prober := &fakeProber{online: map[string]*device.Details{"10.0.0.2": {Hostname: "b"}}}
	r := New(testPath, newMemStorage(), prober)
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))
	r.Upsert(record("10.0.0.2", "b", device.StatusOffline))

	result := r.Reconcile(context.Background())
	assert.Equal(t, ReconcileResult{Online: 1, Offline: 1}, result)
}

func TestRegistry_OpenMissingFile(t *testing.T) {
	store := newMemStorage()
	r := New(testPath, store, &fakeProber{})

	require.NoError(t, r.Open(context.Background()))
	assert.Zero(t, r.Len())
	assert.Equal(t, "[]", string(store.file(testPath)))
}

func TestRegistry_OpenCorruptFileRewritesEmpty(t *testing.T) {
	store := newMemStorage()
	store.files[testPath] = []byte(`[{"address":"10.0.0.1",`)

	r := New(testPath, store, &fakeProber{})
	r.Upsert(record("10.0.0.9", "x", device.StatusOnline))

	err := r.Open(context.Background())
	require.Error(t, err)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)

	assert.Zero(t, r.Len())
	assert.Equal(t, "[]", string(store.file(testPath)))
}

func TestRegistry_OpenReadErrorRewritesEmpty(t *testing.T) {
	readErr := errors.New("permission denied")
	store := newMemStorage()
	store.readErr = readErr

	r := New(testPath, store, nil)
	err := r.Open(context.Background())

	require.ErrorIs(t, err, readErr)
	assert.Equal(t, "[]", string(store.file(testPath)))
}

func TestRegistry_OpenReportsRewriteFailure(t *testing.T) {
	writeErr := errors.New("disk full")
	store := newMemStorage()
	store.files[testPath] = []byte(`garbage`)
	store.writeErr = writeErr

	r := New(testPath, store, nil)
	err := r.Open(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestRegistry_OpenRestores(t *testing.T) {
	store := newMemStorage()
	store.files[testPath] = []byte(`[{"address":"10.0.0.1","status":"online","device":{"hostname":"a"}}]`)

	prober := &fakeProber{online: map[string]*device.Details{"10.0.0.1": {Hostname: "a"}}}
	r := New(testPath, store, prober)

	require.NoError(t, r.Open(context.Background()))
	got, ok := r.Get("10.0.0.1")
	require.True(t, ok)
	assert.True(t, got.Online())
}

func TestRegistry_SavesAreSerialized(t *testing.T) {
	store := newMemStorage()
	r := New(testPath, store, nil)
	r.Upsert(record("10.0.0.1", "a", device.StatusOnline))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Upsert(record(fmt.Sprintf("10.0.1.%d", i), "n", device.StatusOnline))
			assert.NoError(t, r.Save())
		}()
	}
	wg.Wait()

	assert.False(t, store.overlap.Load(), "saves overlapped")
	assert.Equal(t, 20, store.writes)

	var persisted []device.Record
	require.NoError(t, json.Unmarshal(store.file(testPath), &persisted))
	assert.Len(t, persisted, 21)
}

func TestFileStorage_WriteFileIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", FileName)
	var s FileStorage

	require.NoError(t, s.MkdirAll(filepath.Dir(path)))
	require.NoError(t, s.WriteFile(path, []byte("[]")))
	require.NoError(t, s.WriteFile(path, []byte(`[{"address":"a"}]`)))

	data, err := s.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"address":"a"}]`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStorage_ReadMissing(t *testing.T) {
	var s FileStorage
	_, err := s.ReadFile(filepath.Join(t.TempDir(), FileName))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
