package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/metrics"
)

// FileName is the name of the persisted registry inside the data directory.
const FileName = "devices.json"

// Prober checks whether a device answers. *discovery.Coordinator satisfies it.
type Prober interface {
	ProbeOne(ctx context.Context, address string) (*device.Record, error)
}

// ReconcileResult counts the outcome of a reconciliation pass.
type ReconcileResult struct {
	Online  int
	Offline int
}

// Registry maps device addresses to their last known record.
// Records are created by successful probes and are never removed
// automatically; a failed reconciliation probe only marks them offline.
type Registry struct {
	mu      sync.RWMutex
	records map[string]device.Record

	// saveMu serializes writes to storage
	saveMu sync.Mutex

	path    string
	storage Storage
	prober  Prober
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records registry size and save outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates an empty registry persisted at path. prober may be nil when
// the registry is only read, in which case Load skips reconciliation.
func New(path string, storage Storage, prober Prober, opts ...Option) *Registry {
	if storage == nil {
		storage = FileStorage{}
	}
	r := &Registry{
		records: make(map[string]device.Record),
		path:    path,
		storage: storage,
		prober:  prober,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the file the registry persists to.
func (r *Registry) Path() string {
	return r.path
}

// Upsert inserts or replaces the record keyed by record.Address.
func (r *Registry) Upsert(record device.Record) {
	if record.Address == "" {
		return
	}
	r.mu.Lock()
	r.records[record.Address] = record.Clone()
	r.mu.Unlock()
	r.observe()
}

// Get returns a copy of the record for address.
func (r *Registry) Get(address string) (device.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[address]
	if !ok {
		return device.Record{}, false
	}
	return rec.Clone(), true
}

// All returns copies of every record sorted by address.
func (r *Registry) All() []device.Record {
	r.mu.RLock()
	out := make([]device.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// MarkOffline flips a known record to offline, keeping its payload.
// It reports whether the address was known.
func (r *Registry) MarkOffline(address string) bool {
	r.mu.Lock()
	rec, ok := r.records[address]
	if ok {
		rec.Status = device.StatusOffline
		r.records[address] = rec
	}
	r.mu.Unlock()

	if ok {
		r.observe()
	}
	return ok
}

// Snapshot encodes the registry in its persisted form: a JSON array of
// records sorted by address, indented with two spaces.
func (r *Registry) Snapshot() ([]byte, error) {
	records := r.All()
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode registry: %w", err)
	}
	return data, nil
}

// Save writes the current snapshot to storage. Concurrent saves are
// serialized; each writes the state current when it acquires the lock.
func (r *Registry) Save() error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	data, err := r.Snapshot()
	if err != nil {
		return err
	}

	err = r.write(data)
	r.metrics.RegistrySave(err == nil)
	logging.LogPersistence("save", r.path, r.Len(), err)
	return err
}

func (r *Registry) write(data []byte) error {
	if err := r.storage.MkdirAll(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := r.storage.WriteFile(r.path, data); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// Load replaces the registry with the records decoded from data, then
// reconciles them and persists the result. Entries without an address or a
// device payload are skipped. A malformed document leaves the registry
// unchanged and returns an error.
func (r *Registry) Load(ctx context.Context, data []byte) error {
	records, err := decode(data)
	if err != nil {
		return err
	}
	return r.restore(ctx, records)
}

func (r *Registry) restore(ctx context.Context, records []device.Record) error {
	r.mu.Lock()
	r.records = make(map[string]device.Record, len(records))
	for _, rec := range records {
		r.records[rec.Address] = rec
	}
	r.mu.Unlock()
	r.observe()

	logging.LogPersistence("load", r.path, len(records), nil)

	if r.prober != nil {
		r.Reconcile(ctx)
	}
	return r.Save()
}

func decode(data []byte) ([]device.Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	records := make([]device.Record, 0, len(raw))
	for i, item := range raw {
		var rec device.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			logging.Warn("Skipping unreadable registry entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !rec.Valid() {
			logging.Warn("Skipping incomplete registry entry", zap.Int("index", i), zap.String("address", rec.Address))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Reconcile probes every known address concurrently. Devices that answer
// are marked online with their refreshed descriptor; the rest are marked
// offline with their payload kept. One failure never stops the others.
func (r *Registry) Reconcile(ctx context.Context) ReconcileResult {
	if r.prober == nil {
		return ReconcileResult{}
	}

	start := time.Now()
	records := r.All()
	online := make([]bool, len(records))

	var g errgroup.Group
	for i, rec := range records {
		g.Go(func() error {
			fresh, err := r.prober.ProbeOne(ctx, rec.Address)
			if err != nil || fresh == nil {
				r.MarkOffline(rec.Address)
				return nil
			}
			fresh.Address = rec.Address
			fresh.Status = device.StatusOnline
			if fresh.Device == nil {
				fresh.Device = rec.Device
			}
			r.Upsert(*fresh)
			online[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var result ReconcileResult
	for _, ok := range online {
		if ok {
			result.Online++
		} else {
			result.Offline++
		}
	}

	logging.Info("Registry reconciled",
		zap.Int("online", result.Online),
		zap.Int("offline", result.Offline),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// Open restores the registry from storage. A missing file starts an empty
// registry. Any other read failure, or a document that does not decode,
// resets the registry to empty and rewrites a valid empty file; the
// original failure is returned joined with any error from the rewrite.
func (r *Registry) Open(ctx context.Context) error {
	data, err := r.storage.ReadFile(r.path)
	switch {
	case err == nil:
		records, decodeErr := decode(data)
		if decodeErr == nil {
			return r.restore(ctx, records)
		}
		err = decodeErr
	case errors.Is(err, fs.ErrNotExist):
		err = nil
	default:
		err = fmt.Errorf("failed to read registry: %w", err)
	}

	r.reset()
	if err != nil {
		logging.LogPersistence("open", r.path, 0, err)
	}
	return errors.Join(err, r.Save())
}

func (r *Registry) reset() {
	r.mu.Lock()
	r.records = make(map[string]device.Record)
	r.mu.Unlock()
	r.observe()
}

func (r *Registry) observe() {
	if r.metrics == nil {
		return
	}
	r.mu.RLock()
	total, online := len(r.records), 0
	for _, rec := range r.records {
		if rec.Online() {
			online++
		}
	}
	r.mu.RUnlock()
	r.metrics.SetDevices(total, online)
}
