// Package netscan answers whether something accepts connections at an endpoint.
// It is used as readiness probe, health check and pre-spawn bind check of the
// supervised servers.
package netscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/gekkophp/gekko/internal/model"
)

var (
	ErrNotListening = errors.New("not listening")
	ErrExited       = errors.New("process exited before listening")
)

const dialTimeout = 500 * time.Millisecond

// Opened dials the endpoint once. It returns nil when a connection was
// accepted and ErrNotListening otherwise.
func Opened(ctx context.Context, ep model.Endpoint) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, ep.Network, ep.Address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotListening, ep)
	}
	return conn.Close()
}

// WaitListening polls ep every interval until it accepts a connection. It gives
// up after timeout, when ctx is canceled or when exited is closed.
func WaitListening(ctx context.Context, ep model.Endpoint, interval, timeout time.Duration, exited <-chan struct{}) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := Opened(ctx, ep)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-exited:
			return ErrExited
		case <-ticker.C:
		}
	}
}

// CheckFree fails with model.AddressInUseError when the endpoint is already
// bound by another listener.
func CheckFree(ctx context.Context, ep model.Endpoint) error {
	if ep.Network == "unix" {
		if Opened(ctx, ep) == nil {
			return &model.AddressInUseError{Address: ep.String()}
		}
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, ep.Network, ep.Address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return &model.AddressInUseError{Address: ep.String(), Err: err}
		}
		return fmt.Errorf("binding %s: %w", ep, err)
	}
	return ln.Close()
}

// Watch probes ep every interval until ctx is done and calls onChange each
// time the endpoint goes from accepting to refusing connections or back.
// The endpoint is assumed healthy when Watch starts.
func Watch(ctx context.Context, ep model.Endpoint, interval time.Duration, onChange func(healthy bool, err error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := Opened(ctx, ep)
		if ctx.Err() != nil {
			return
		}
		if now := err == nil; now != healthy {
			healthy = now
			onChange(healthy, err)
		}
	}
}
