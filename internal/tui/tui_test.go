package tui

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/cogmote/puremote/internal/channel"
	"github.com/cogmote/puremote/internal/device"
	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/discovery"
)

// pipeStream hands out whatever is sent on data and ends when it is closed.
type pipeStream struct {
	data chan []byte
}

func (s *pipeStream) Next() ([]byte, error) {
	b, ok := <-s.data
	if !ok {
		return nil, io.EOF
	}
	return b, nil
}

func (s *pipeStream) Close() error { return nil }

type pipeDialer struct {
	stream *pipeStream
}

func (d pipeDialer) Dial(ctx context.Context, url string) (channel.Stream, error) {
	return d.stream, nil
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sampleEvent(data string) eventMsg {
	return eventMsg{
		target: Target{Address: "10.0.0.7", Channel: "trials"},
		event:  channel.Event{ReceivedAt: time.Now(), Data: json.RawMessage(data)},
	}
}

func TestWatchModel_ReceivesEvents(t *testing.T) {
	stream := &pipeStream{data: make(chan []byte, 1)}
	manager := channel.NewManager(deviceapi.NewClient(), channel.WithDialer(pipeDialer{stream}))
	t.Cleanup(manager.CloseAll)

	m := NewWatchModel(manager, Target{Address: "10.0.0.7", Channel: "trials"})
	defer m.Close()

	if err := manager.Connect(context.Background(), "10.0.0.7", "trials", time.Second); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	stream.data <- []byte(`{"trial":1}`)

	msg := waitForEvent(m.events)()
	updated, cmd := m.Update(msg)
	if cmd == nil {
		t.Error("Update() should keep waiting for events")
	}

	wm := updated.(WatchModel)
	if wm.Received != 1 || len(wm.Lines()) != 1 {
		t.Fatalf("Received = %d, lines = %d, want 1 and 1", wm.Received, len(wm.Lines()))
	}
	if !strings.Contains(wm.Lines()[0], `10.0.0.7/trials {"trial":1}`) {
		t.Errorf("line = %q", wm.Lines()[0])
	}

	view := wm.View()
	for _, part := range []string{"10.0.0.7/trials", "open", "1 received"} {
		if !strings.Contains(view, part) {
			t.Errorf("View() missing %q", part)
		}
	}
}

func TestWatchModel_CloseUnsubscribes(t *testing.T) {
	manager := channel.NewManager(deviceapi.NewClient())
	m := NewWatchModel(manager,
		Target{Address: "10.0.0.7", Channel: "trials"},
		Target{Address: "10.0.0.8", Channel: "gaze"},
	)

	for _, info := range manager.List() {
		if info.Subscribers != 1 {
			t.Errorf("%s/%s has %d subscribers before Close, want 1", info.Address, info.Name, info.Subscribers)
		}
	}

	m.Close()

	for _, info := range manager.List() {
		if info.Subscribers != 0 {
			t.Errorf("%s/%s has %d subscribers after Close, want 0", info.Address, info.Name, info.Subscribers)
		}
	}
}

func TestWatchModel_PauseAndClear(t *testing.T) {
	manager := channel.NewManager(deviceapi.NewClient())
	m := NewWatchModel(manager, Target{Address: "10.0.0.7", Channel: "trials"})
	defer m.Close()

	var model tea.Model = m
	model, _ = model.Update(keyMsg("p"))
	if !model.(WatchModel).Paused {
		t.Fatal("p should pause")
	}

	model, _ = model.Update(sampleEvent(`{"trial":2}`))
	if got := model.(WatchModel); got.Received != 1 || len(got.Lines()) != 1 {
		t.Errorf("paused model should still keep events, got %d received", got.Received)
	}
	if !strings.Contains(model.View(), "PAUSED") {
		t.Error("View() should show the paused marker")
	}

	model, _ = model.Update(keyMsg("c"))
	if len(model.(WatchModel).Lines()) != 0 {
		t.Error("c should clear the scrollback")
	}
}

func TestWatchModel_MaxLines(t *testing.T) {
	manager := channel.NewManager(deviceapi.NewClient())
	m := NewWatchModel(manager, Target{Address: "10.0.0.7", Channel: "trials"})
	defer m.Close()
	m.MaxLines = 2

	var model tea.Model = m
	for _, data := range []string{`1`, `2`, `3`} {
		model, _ = model.Update(sampleEvent(data))
	}

	lines := model.(WatchModel).Lines()
	if len(lines) != 2 || !strings.HasSuffix(lines[0], " 2") || !strings.HasSuffix(lines[1], " 3") {
		t.Errorf("lines = %q, want the last two events", lines)
	}
}

func TestWatchModel_Quit(t *testing.T) {
	m := NewWatchModel(channel.NewManager(deviceapi.NewClient()))

	_, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
}

func TestWatchModel_WindowSize(t *testing.T) {
	m := NewWatchModel(channel.NewManager(deviceapi.NewClient()), Target{Address: "10.0.0.7", Channel: "trials"})

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	wm := updated.(WatchModel)
	if wm.Viewport.Width != 116 {
		t.Errorf("viewport width = %d, want 116", wm.Viewport.Width)
	}
	if wm.Viewport.Height <= 0 || wm.Viewport.Height >= 40 {
		t.Errorf("viewport height = %d", wm.Viewport.Height)
	}
}

func TestScanModel_Completes(t *testing.T) {
	coord := discovery.NewCoordinator(deviceapi.NewClient(), nil)
	records := []device.Record{{Address: "10.0.0.7", Status: device.StatusOnline, Device: &device.Details{Hostname: "rig-1"}}}

	m := NewScanModel(context.Background(), coord, []string{"10.0.0.7", "10.0.0.8"}, func() []device.Record { return records })
	if !strings.Contains(m.View(), "PROBING DEVICES") {
		t.Error("View() should show the progress screen while scanning")
	}

	updated, _ := m.Update(scanCompleteMsg{detected: 1})
	sm := updated.(ScanModel)
	if sm.Scanning {
		t.Fatal("model should stop scanning")
	}
	if len(sm.Records()) != 1 {
		t.Errorf("Records() = %d, want 1", len(sm.Records()))
	}
	if sm.Detected() != 1 || sm.Fraction() != 1 {
		t.Errorf("Detected() = %d, Fraction() = %v", sm.Detected(), sm.Fraction())
	}

	view := sm.View()
	for _, part := range []string{"1 device detected", "rig-1"} {
		if !strings.Contains(view, part) {
			t.Errorf("View() missing %q", part)
		}
	}
}

func TestScanModel_NoDevices(t *testing.T) {
	m := NewScanModel(context.Background(), discovery.NewCoordinator(nil, nil), nil, nil)

	updated, _ := m.Update(scanCompleteMsg{})
	if !strings.Contains(updated.View(), "No devices detected") {
		t.Error("View() should report that nothing was found")
	}
}

func TestScanModel_QuitCancelsScan(t *testing.T) {
	m := NewScanModel(context.Background(), discovery.NewCoordinator(nil, nil), []string{"10.0.0.7"}, nil)

	updated, cmd := m.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	sm := updated.(ScanModel)
	if !sm.Cancelled {
		t.Error("quitting mid-scan should mark the scan cancelled")
	}
	if sm.ctx.Err() == nil {
		t.Error("quitting should cancel the probe context")
	}
}

func TestScanModel_RunsProbes(t *testing.T) {
	// Nothing listens on port 1, so the probe is refused at once.
	client := deviceapi.NewClient()
	client.Port = 1
	client.SetTimeout(300 * time.Millisecond)
	coord := discovery.NewCoordinator(client, nil)
	m := NewScanModel(context.Background(), coord, []string{"127.0.0.1"}, nil)

	msg := m.scan()()
	done, ok := msg.(scanCompleteMsg)
	if !ok {
		t.Fatalf("scan() returned %T", msg)
	}
	if done.detected != 0 {
		t.Errorf("detected = %d, want 0", done.detected)
	}
	if probed, total := coord.Progress(); probed != 1 || total != 1 {
		t.Errorf("Progress() = %d/%d, want 1/1", probed, total)
	}

	updated, cmd := m.Update(progressTickMsg(time.Now()))
	if cmd == nil {
		t.Error("progress should keep ticking while scanning")
	}
	if got := updated.(ScanModel).Fraction(); got != 1 {
		t.Errorf("Fraction() = %v, want 1", got)
	}
}
