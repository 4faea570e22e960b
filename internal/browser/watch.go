package browser

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	watchInterval = 2 * time.Second
	watchProbe    = 3 * time.Second
	watchFailures = 2
)

// doneSignal is a close-once channel shared by context handles
type doneSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newDoneSignal() *doneSignal {
	return &doneSignal{ch: make(chan struct{})}
}

func (d *doneSignal) fire() {
	d.once.Do(func() { close(d.ch) })
}

func (d *doneSignal) fired() bool {
	select {
	case <-d.ch:
		return true
	default:
		return false
	}
}

// watch pings until consecutive failures reach the threshold, then fires
// done. It returns when done fires for any reason.
func watch(done *doneSignal, ping func(ctx context.Context) error) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-done.ch:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), watchProbe)
		err := ping(ctx)
		cancel()

		if err == nil {
			failures = 0
			continue
		}
		failures++
		if failures >= watchFailures {
			done.fire()
			return
		}
	}
}

// FreePort returns the first port at or above base that accepts a listener
func FreePort(base int) (int, error) {
	if base <= 0 {
		base = 9222
	}
	for port := base; port < base+1000 && port < 65536; port++ {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free debug port above %d", base)
}
