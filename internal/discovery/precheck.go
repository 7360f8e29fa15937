package discovery

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cogmote/puremote/internal/deviceapi"
	"github.com/cogmote/puremote/internal/logging"
)

// DefaultPrecheckTimeout bounds each TCP dial of a port sweep
const DefaultPrecheckTimeout = 2 * time.Second

// precheckLimit caps concurrent dials. macOS runs out of descriptors well
// before a full /16 sweep completes.
func precheckLimit() int {
	if runtime.GOOS == "darwin" {
		return 256 * 8
	}
	return 256 * 256
}

// PortChecker sweeps candidates for an open agent port before the slower
// HTTP probe.
type PortChecker struct {
	Port    int
	Timeout time.Duration
	Limit   int

	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewPortChecker creates a checker for the default agent port.
func NewPortChecker() *PortChecker {
	var d net.Dialer
	return &PortChecker{
		Port:    deviceapi.DefaultPort,
		Timeout: DefaultPrecheckTimeout,
		Limit:   precheckLimit(),
		dial:    d.DialContext,
	}
}

// ReachablePorts returns the addresses that accepted a TCP connection on the
// agent port, in input order.
func (p *PortChecker) ReachablePorts(ctx context.Context, addresses []string) []string {
	open := make([]bool, len(addresses))

	var g errgroup.Group
	if p.Limit > 0 {
		g.SetLimit(p.Limit)
	}
	for i, address := range addresses {
		g.Go(func() error {
			open[i] = p.check(ctx, address)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0)
	for i, ok := range open {
		if ok {
			out = append(out, addresses[i])
		}
	}
	logging.Debug("Port sweep finished", zap.Int("candidates", len(addresses)), zap.Int("open", len(out)))
	return out
}

func (p *PortChecker) check(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(p.Port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ReachablePorts sweeps addresses with a default PortChecker.
func ReachablePorts(ctx context.Context, addresses []string) []string {
	return NewPortChecker().ReachablePorts(ctx, addresses)
}
