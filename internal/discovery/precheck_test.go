package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestPortChecker_ReachablePorts(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p := NewPortChecker()
	p.Port = ln.Addr().(*net.TCPAddr).Port
	p.Timeout = 500 * time.Millisecond

	got := p.ReachablePorts(context.Background(), []string{"127.0.0.2", "127.0.0.1", "127.0.0.3", "127.0.0.1"})
	if len(got) != 2 || got[0] != "127.0.0.1" || got[1] != "127.0.0.1" {
		t.Errorf("ReachablePorts() = %v, want [127.0.0.1 127.0.0.1]", got)
	}
}

func TestPortChecker_DialAddress(t *testing.T) {
	var dialed []string
	p := &PortChecker{
		Port:    9012,
		Timeout: time.Second,
		Limit:   1,
		dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialed = append(dialed, address)
			return nil, errors.New("refused")
		},
	}

	got := p.ReachablePorts(context.Background(), []string{"10.0.0.1", "fe80::1"})
	if len(got) != 0 {
		t.Errorf("ReachablePorts() = %v, want none", got)
	}

	want := []string{"10.0.0.1:" + strconv.Itoa(9012), "[fe80::1]:9012"}
	if len(dialed) != 2 || dialed[0] != want[0] || dialed[1] != want[1] {
		t.Errorf("dialed %v, want %v", dialed, want)
	}
}

func TestPrecheckLimit(t *testing.T) {
	if precheckLimit() < 256*8 {
		t.Errorf("precheckLimit() = %d, too small", precheckLimit())
	}
}
