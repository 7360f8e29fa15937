package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/logging"
	"github.com/cogmote/puremote/internal/metrics"
)

// DefaultConnectTimeout applies when Connect is called with a zero timeout.
const DefaultConnectTimeout = 5 * time.Second

type key struct {
	address string
	name    string
}

type subscriber struct {
	id uuid.UUID
	fn func(Event)
}

type channel struct {
	address string
	name    string

	state  State
	err    error
	events []Event
	subs   []subscriber

	// attempt identifies the current connection. Every transition out of
	// CONNECTING or OPEN bumps it, which invalidates the other paths still
	// holding the old value.
	attempt uint64
	stream  Stream
	cancel  context.CancelFunc
}

// Manager owns every (device address, channel name) stream.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[key]*channel

	client    *deviceapi.Client
	dialer    Dialer
	metrics   *metrics.Metrics
	maxEvents int
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the SSE dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithMetrics records channel events and transitions on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithMaxEvents caps each channel buffer at n events, dropping the oldest.
// Zero keeps every event.
func WithMaxEvents(n int) Option {
	return func(m *Manager) { m.maxEvents = n }
}

// NewManager creates a manager that reaches devices through client.
func NewManager(client *deviceapi.Client, opts ...Option) *Manager {
	if client == nil {
		client = deviceapi.NewClient()
	}
	m := &Manager{
		channels: make(map[key]*channel),
		client:   client,
		dialer:   NewSSEDialer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ensure returns the channel for (address, name), creating it IDLE.
// Caller holds m.mu.
func (m *Manager) ensure(address, name string) *channel {
	k := key{address, name}
	ch, ok := m.channels[k]
	if !ok {
		ch = &channel{address: address, name: name, state: StateIdle}
		m.channels[k] = ch
	}
	return ch
}

func (m *Manager) lookup(address, name string) *channel {
	return m.channels[key{address, name}]
}

// transition changes state and records err. Caller holds m.mu.
func (m *Manager) transition(ch *channel, to State, err error) {
	from := ch.state
	ch.state = to
	if err != nil {
		ch.err = err
	}
	m.metrics.ChannelTransition(to.String())
	logging.LogChannelState(ch.address, ch.name, from.String(), to.String(), err)
}

type dialResult struct {
	stream Stream
	err    error
}

// Connect opens the event stream of channel name on address.
//
// A channel already OPEN is left alone. A channel still CONNECTING rejects
// the call with ErrAlreadyConnecting. Otherwise Connect waits for the first
// of: the stream opening (nil), the timeout (ErrTimeout), a dial failure
// (ErrTransport), Disconnect (ErrDisconnected) or ctx ending (ctx.Err()).
// A stream that opens after the attempt was abandoned is closed.
func (m *Manager) Connect(ctx context.Context, address, name string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	m.mu.Lock()
	ch := m.ensure(address, name)
	switch ch.state {
	case StateConnecting:
		m.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", address, name, ErrAlreadyConnecting)
	case StateOpen:
		m.mu.Unlock()
		return nil
	}
	ch.attempt++
	attempt := ch.attempt
	ch.err = nil
	streamCtx, cancel := context.WithCancel(context.Background())
	ch.cancel = cancel
	m.transition(ch, StateConnecting, nil)
	m.mu.Unlock()

	results := make(chan dialResult, 1)
	url := m.client.StreamURL(address, name)
	go func() {
		stream, err := m.dialer.Dial(streamCtx, url)
		results <- dialResult{stream, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return m.settle(ch, attempt, cancel, res)

	case <-timer.C:
		err := fmt.Errorf("%s/%s: %w after %v", address, name, ErrTimeout, timeout)
		return m.abandon(ch, attempt, cancel, results, StateTimeout, err)

	case <-ctx.Done():
		return m.abandon(ch, attempt, cancel, results, StateClosed, ctx.Err())
	}
}

// settle handles a dial that finished before the guard fired.
func (m *Manager) settle(ch *channel, attempt uint64, cancel context.CancelFunc, res dialResult) error {
	m.mu.Lock()
	if ch.attempt != attempt {
		m.mu.Unlock()
		if res.stream != nil {
			_ = res.stream.Close()
		}
		cancel()
		return fmt.Errorf("%s/%s: %w", ch.address, ch.name, ErrDisconnected)
	}

	if res.err != nil {
		ch.attempt++
		ch.cancel = nil
		err := fmt.Errorf("%s/%s: %w: %w", ch.address, ch.name, ErrTransport, res.err)
		m.transition(ch, StateError, err)
		m.mu.Unlock()
		cancel()
		return err
	}

	ch.stream = res.stream
	m.transition(ch, StateOpen, nil)
	m.mu.Unlock()

	go m.pump(ch, attempt, res.stream)
	return nil
}

// abandon gives up on a pending dial. The dial is cancelled and a stream
// that still arrives is closed.
func (m *Manager) abandon(ch *channel, attempt uint64, cancel context.CancelFunc, results <-chan dialResult, to State, err error) error {
	m.mu.Lock()
	current := ch.attempt == attempt
	if current {
		ch.attempt++
		ch.cancel = nil
		m.transition(ch, to, err)
	}
	m.mu.Unlock()

	cancel()
	go func() {
		if res := <-results; res.stream != nil {
			_ = res.stream.Close()
		}
	}()

	if !current {
		return fmt.Errorf("%s/%s: %w", ch.address, ch.name, ErrDisconnected)
	}
	return err
}

// pump reads frames until the stream fails or the attempt is superseded.
func (m *Manager) pump(ch *channel, attempt uint64, stream Stream) {
	defer stream.Close()

	for {
		data, err := stream.Next()
		if err != nil {
			m.fail(ch, attempt, err)
			return
		}
		if !m.deliver(ch, attempt, data) {
			return
		}
	}
}

func (m *Manager) fail(ch *channel, attempt uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch.attempt != attempt {
		return
	}
	if errors.Is(cause, io.EOF) {
		cause = errors.New("stream ended by device")
	}
	ch.attempt++
	ch.stream = nil
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	m.transition(ch, StateError, fmt.Errorf("%s/%s: %w: %w", ch.address, ch.name, ErrTransport, cause))
}

// deliver decodes one frame, buffers it and runs the subscribers in
// subscription order. It reports false once the attempt is stale.
func (m *Manager) deliver(ch *channel, attempt uint64, data []byte) bool {
	logging.LogChannelEvent(ch.address, ch.name, data)

	var probe any
	decodeErr := json.Unmarshal(data, &probe)

	m.mu.Lock()
	if ch.attempt != attempt {
		m.mu.Unlock()
		return false
	}

	if decodeErr != nil {
		ch.err = &ParseError{Address: ch.address, Channel: ch.name, Data: data, Err: decodeErr}
		m.mu.Unlock()
		m.metrics.ChannelParseError(ch.address, ch.name)
		logging.Warn("Dropped unparseable channel event",
			zap.String("address", ch.address),
			zap.String("channel", ch.name),
			zap.Error(decodeErr),
		)
		return true
	}

	event := Event{ReceivedAt: time.Now(), Data: json.RawMessage(data)}
	ch.events = append(ch.events, event)
	if m.maxEvents > 0 && len(ch.events) > m.maxEvents {
		ch.events = slices.Delete(ch.events, 0, len(ch.events)-m.maxEvents)
	}
	subs := slices.Clone(ch.subs)
	m.mu.Unlock()

	m.metrics.ChannelEvent(ch.address, ch.name)
	for _, s := range subs {
		s.fn(event)
	}
	return true
}

// Disconnect closes the channel's stream, if any, and marks it CLOSED.
// Buffered events and subscribers are kept. Unknown channels are ignored.
func (m *Manager) Disconnect(address, name string) {
	m.mu.Lock()
	ch := m.lookup(address, name)
	if ch == nil || ch.state == StateClosed {
		m.mu.Unlock()
		return
	}
	ch.attempt++
	stream, cancel := ch.stream, ch.cancel
	ch.stream, ch.cancel = nil, nil
	m.transition(ch, StateClosed, nil)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// CloseAll disconnects every channel.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]key, 0, len(m.channels))
	for k := range m.channels {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.Disconnect(k.address, k.name)
	}
}

// BufferedEvents returns a copy of the channel buffer in arrival order.
// Unknown channels yield an empty slice.
func (m *Manager) BufferedEvents(address, name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.lookup(address, name)
	if ch == nil {
		return []Event{}
	}
	return slices.Clone(ch.events)
}

// Subscribe registers fn for every future event of the channel, creating
// the channel IDLE if needed. fn runs on the channel's reader goroutine and
// must not block for long.
func (m *Manager) Subscribe(address, name string, fn func(Event)) uuid.UUID {
	id := uuid.New()

	m.mu.Lock()
	ch := m.ensure(address, name)
	ch.subs = append(ch.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription and reports whether it existed.
func (m *Manager) Unsubscribe(address, name string, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := m.lookup(address, name)
	if ch == nil {
		return false
	}
	i := slices.IndexFunc(ch.subs, func(s subscriber) bool { return s.id == id })
	if i < 0 {
		return false
	}
	ch.subs = slices.Delete(ch.subs, i, i+1)
	return true
}

// State returns the channel state; unknown channels are IDLE.
func (m *Manager) State(address, name string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch := m.lookup(address, name); ch != nil {
		return ch.state
	}
	return StateIdle
}

// Err returns the last error recorded on the channel.
func (m *Manager) Err(address, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch := m.lookup(address, name); ch != nil {
		return ch.err
	}
	return nil
}

// Channels returns the sorted names of the channels known for address.
func (m *Manager) Channels(address string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0)
	for k := range m.channels {
		if k.address == address {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// List describes every known channel, sorted by address then name.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.channels))
	for _, ch := range m.channels {
		info := Info{
			Address:     ch.address,
			Name:        ch.name,
			State:       ch.state,
			Events:      len(ch.events),
			Subscribers: len(ch.subs),
		}
		if ch.err != nil {
			info.LastError = ch.err.Error()
		}
		out = append(out, info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FetchChannels asks the device which channels it broadcasts and registers
// each one IDLE. Channels already known keep their state and buffer.
func (m *Manager) FetchChannels(ctx context.Context, address string) ([]string, error) {
	names, err := m.client.GetChannels(ctx, address)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for _, name := range names {
		m.ensure(address, name)
	}
	m.mu.Unlock()

	return names, nil
}
