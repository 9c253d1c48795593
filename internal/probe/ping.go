// Package probe performs single, time-bounded protocol checks against a
// device. Probes never return Go errors or block past their timeout: every
// failure is encoded in the result value.
package probe

import (
	"context"
	"errors"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Reachability is the outcome of one ICMP echo probe.
type Reachability struct {
	Reachable bool
	RTT       time.Duration
	Err       error
}

// Pinger checks ICMP reachability of an address.
type Pinger interface {
	Ping(ctx context.Context, address string) Reachability
}

// ErrNoReply is reported when every echo request went unanswered.
var ErrNoReply = errors.New("no echo reply")

// ICMPPinger pings targets using ICMP via pro-bing.
type ICMPPinger struct {
	timeout time.Duration
	count   int
}

// NewICMPPinger creates an ICMPPinger sending count echo requests and
// waiting at most timeout for all of them.
func NewICMPPinger(timeout time.Duration, count int) *ICMPPinger {
	if count <= 0 {
		count = 1
	}
	return &ICMPPinger{timeout: timeout, count: count}
}

// Ping sends echo requests to address and reports whether any came back.
func (p *ICMPPinger) Ping(ctx context.Context, address string) Reachability {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		return Reachability{Err: err}
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return Reachability{Err: runErr}
		}
		stats := pinger.Statistics()
		if stats.PacketsRecv == 0 {
			return Reachability{Err: ErrNoReply}
		}
		return Reachability{Reachable: true, RTT: stats.AvgRtt}
	case <-ctx.Done():
		pinger.Stop()
		return Reachability{Err: ctx.Err()}
	}
}
