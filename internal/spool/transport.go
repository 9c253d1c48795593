package spool

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// RawPort is the vendor raw-print port (AppSocket/JetDirect).
const RawPort = 9100

// Transport streams a finished document to a printer.
type Transport interface {
	Send(ctx context.Context, address string, r io.Reader) (int64, error)
}

// RawTransport writes documents verbatim over a plain TCP connection.
type RawTransport struct {
	Port         int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRawTransport returns a transport for port with the given timeouts.
func NewRawTransport(port int, dialTimeout, writeTimeout time.Duration) *RawTransport {
	if port == 0 {
		port = RawPort
	}
	return &RawTransport{Port: port, DialTimeout: dialTimeout, WriteTimeout: writeTimeout}
}

// Send dials address, copies r to the connection and closes it. Delivery
// succeeds only when the close completes cleanly. There is no retry.
func (t *RawTransport) Send(ctx context.Context, address string, r io.Reader) (n int64, err error) {
	target := net.JoinHostPort(address, strconv.Itoa(t.Port))
	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", target, err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = conn.Close()
		}
	}()

	if t.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout)); err != nil {
			return 0, fmt.Errorf("set deadline %s: %w", target, err)
		}
	}
	// Abort the copy when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	n, err = io.Copy(conn, r)
	if err != nil {
		return n, fmt.Errorf("write %s after %d bytes: %w", target, n, err)
	}

	closed = true
	if err := conn.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", target, err)
	}
	return n, nil
}
