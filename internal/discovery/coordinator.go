package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/metrics"
)

// ErrNotReachable is returned by ProbeOne for any failed probe. The
// underlying cause is wrapped for logging only.
var ErrNotReachable = errors.New("device not reachable")

// Sink receives records of devices that answered a probe.
// *registry.Registry satisfies it.
type Sink interface {
	Upsert(record device.Record)
}

// Coordinator probes candidate addresses and feeds reachable devices into a
// Sink. It is safe for concurrent use.
type Coordinator struct {
	client  *deviceapi.Client
	metrics *metrics.Metrics

	sink     atomic.Pointer[sinkBox]
	detected atomic.Int64
	probed   atomic.Int64
	total    atomic.Int64
	inFlight atomic.Int32
}

type sinkBox struct{ Sink }

// NewCoordinator creates a coordinator that probes through client.
// m may be nil.
func NewCoordinator(client *deviceapi.Client, m *metrics.Metrics) *Coordinator {
	if client == nil {
		client = deviceapi.NewClient()
	}
	return &Coordinator{client: client, metrics: m}
}

// SetSink sets where successful batch probes are recorded. The registry
// needs the coordinator as its prober, so the two are linked after both
// exist.
func (c *Coordinator) SetSink(s Sink) {
	if s == nil {
		c.sink.Store(nil)
		return
	}
	c.sink.Store(&sinkBox{s})
}

// ProbeOne issues a single GET /api/device to address. On success it returns
// an online record carrying the descriptor; any failure yields an error
// matching ErrNotReachable. ProbeOne never touches the sink.
func (c *Coordinator) ProbeOne(ctx context.Context, address string) (*device.Record, error) {
	start := time.Now()
	details, err := c.client.GetDevice(ctx, address)
	elapsed := time.Since(start)

	c.metrics.ObserveProbe(err == nil, elapsed)
	logging.LogProbe(address, err == nil, elapsed, err)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotReachable, address, err)
	}
	return &device.Record{
		Address: address,
		Status:  device.StatusOnline,
		Device:  details,
	}, nil
}

// Add probes one address and records it when it answers.
func (c *Coordinator) Add(ctx context.Context, address string) error {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	record, err := c.ProbeOne(ctx, address)
	if err != nil {
		return err
	}
	c.upsert(*record)
	return nil
}

// ProbeMany probes every address concurrently and waits for all of them.
// Each success increments the detection counter and is upserted into the
// sink; failures leave the sink untouched. The counter is reset at the start
// of each call and its final value is returned.
func (c *Coordinator) ProbeMany(ctx context.Context, addresses []string) int {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	start := time.Now()
	c.detected.Store(0)
	c.probed.Store(0)
	c.total.Store(int64(len(addresses)))

	var count atomic.Int64
	var g errgroup.Group
	for _, address := range addresses {
		g.Go(func() error {
			record, err := c.ProbeOne(ctx, address)
			c.probed.Add(1)
			if err != nil {
				return nil
			}
			count.Add(1)
			c.detected.Add(1)
			c.upsert(*record)
			return nil
		})
	}
	_ = g.Wait()

	n := int(count.Load())
	c.metrics.SetDetected(n)
	logging.LogBatch(len(addresses), n, time.Since(start))
	return n
}

// Detected returns the detection counter of the current or last batch.
func (c *Coordinator) Detected() int {
	return int(c.detected.Load())
}

// Progress returns how many probes of the current or last batch have
// finished, and the batch size.
func (c *Coordinator) Progress() (done, total int) {
	return int(c.probed.Load()), int(c.total.Load())
}

// Loading reports whether a probe batch or Add is in progress.
func (c *Coordinator) Loading() bool {
	return c.inFlight.Load() > 0
}

func (c *Coordinator) upsert(record device.Record) {
	if box := c.sink.Load(); box != nil {
		box.Upsert(record)
	}
}

// Summary renders a detection count the way the CLI reports it.
func Summary(detected int) string {
	switch detected {
	case 0:
		return "No devices detected"
	case 1:
		return "1 device detected"
	default:
		return fmt.Sprintf("%d devices detected", detected)
	}
}
