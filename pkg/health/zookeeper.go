package health

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Defaults for probing a ZooKeeper ensemble member.
const (
	DefaultZooKeeperAddr = "localhost:2181"
	DefaultTimeout       = time.Second
	DefaultCommand       = "stat\n"
	NotServingMarker     = "ZooKeeper instance is not currently serving requests"
	DefaultMaxRead       = 5 * 1024
)

// Tester decides whether the backing service is healthy.
type Tester interface {
	Test(ctx context.Context) bool
}

// TesterFunc adapts a function to Tester.
type TesterFunc func(ctx context.Context) bool

func (f TesterFunc) Test(ctx context.Context) bool {
	return f(ctx)
}

// ZooKeeperTester sends a four-letter command and reports healthy unless the
// reply carries the not-serving marker.
type ZooKeeperTester struct {
	Addr    string
	Timeout time.Duration
	Command string
	Marker  string
	MaxRead int
}

// NewZooKeeperTester creates a tester for addr with the default protocol.
func NewZooKeeperTester(addr string) *ZooKeeperTester {
	return &ZooKeeperTester{
		Addr:    addr,
		Timeout: DefaultTimeout,
		Command: DefaultCommand,
		Marker:  NotServingMarker,
		MaxRead: DefaultMaxRead,
	}
}

// Test reports false on any connection or protocol error.
func (z *ZooKeeperTester) Test(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, z.Timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: z.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", z.Addr)
	if err != nil {
		slog.Warn("zk_probe_dial_failed", "addr", z.Addr, "error", err)
		return false
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, z.Command); err != nil {
		slog.Warn("zk_probe_write_failed", "addr", z.Addr, "error", err)
		return false
	}

	buf := make([]byte, z.MaxRead)
	n, err := conn.Read(buf)
	if err != nil && !(err == io.EOF && n > 0) {
		slog.Warn("zk_probe_read_failed", "addr", z.Addr, "error", err)
		return false
	}

	reply := string(buf[:n])
	slog.Debug("zk_probe_reply", "addr", z.Addr, "reply", reply)
	return !strings.Contains(reply, z.Marker)
}
