// Package device discovers recorder devices on serial ports and sets, reads
// and resets their real-time clocks.
//
// Every exchange runs in its own session: open the port, wait for it to
// settle, talk, and close it on every exit path.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	appLog "reccal/internal/log"
)

// Options holds the link timings.
type Options struct {
	// ReadTimeout bounds each line read.
	ReadTimeout time.Duration
	// SettleDelay is waited after open, before the first byte is exchanged.
	SettleDelay time.Duration
	// SyncAttempts caps set-clock retransmissions.
	SyncAttempts int
	// SyncTimeout is the wall-clock budget of one Sync.
	SyncTimeout time.Duration
}

// Device is a port that answered the handshake.
type Device struct {
	Port        string
	Description string
}

// Reading is the result of GetTime. When the reply does not parse, Valid is
// false and Raw holds the decoded text; the caller decides what that means.
type Reading struct {
	Time  time.Time
	Raw   string
	Valid bool
}

// Client runs protocol sessions against ports found by an Enumerator.
type Client struct {
	opts   Options
	ports  Enumerator
	opener Opener

	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient constructs a Client. Zero read timeout, attempts or sync budget
// fall back to the recorder's defaults (2s, 10, 30s). A zero SettleDelay
// means no wait.
func NewClient(ports Enumerator, opener Opener, opts Options) *Client {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.SyncAttempts <= 0 {
		opts.SyncAttempts = 10
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		ports:  ports,
		opener: opener,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// session opens dev, waits for it to settle, runs fn and always closes the
// port. Failures come back as *ProtocolError.
func (c *Client) session(dev Device, op string, fn func(p Port) error) error {
	p, err := c.opener.Open(dev.Port)
	if err != nil {
		return &ProtocolError{Port: dev.Port, Description: dev.Description, Op: op, Err: err}
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			appLog.Error("device: close failed", cerr, "port", dev.Port, "op", op)
		}
	}()

	if c.opts.SettleDelay > 0 {
		c.sleep(c.opts.SettleDelay)
	}

	if err := fn(p); err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return err
		}
		return &ProtocolError{Port: dev.Port, Description: dev.Description, Op: op, Err: err}
	}
	return nil
}

// Probe checks that the device on dev announces itself with the handshake
// line within the read timeout.
func (c *Client) Probe(dev Device) error {
	return c.session(dev, "probe", func(p Port) error {
		raw, err := readLine(p, c.opts.ReadTimeout)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		line, err := decode(raw)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrHandshake, err)
		}
		if line != handshakeMarker {
			return fmt.Errorf("%w: got %q", ErrHandshake, line)
		}
		return nil
	})
}

// Discover probes every port in turn and returns the ones that identified
// themselves, sorted by description. A failing port is logged and skipped.
// Finding nothing is reported as ErrNoDevice.
func (c *Client) Discover(ctx context.Context) ([]Device, error) {
	infos, err := c.ports.Ports()
	if err != nil {
		return nil, &ProtocolError{Op: "enumerate", Err: err}
	}

	found := make([]Device, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		dev := Device{Port: info.Name, Description: info.Description}
		if err := c.Probe(dev); err != nil {
			appLog.Info("device: port rejected", "port", dev.Port, "description", dev.Description, "reason", err.Error())
			continue
		}
		appLog.Info("device: identified", "port", dev.Port, "description", dev.Description)
		found = append(found, dev)
	}

	if len(found) == 0 {
		return nil, &ProtocolError{Op: "discover", Err: ErrNoDevice}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Description != found[j].Description {
			return found[i].Description < found[j].Description
		}
		return found[i].Port < found[j].Port
	})
	return found, nil
}

// Sync pushes the current local time to dev and waits for the device to
// echo a parseable time, re-sending the command after every unparseable or
// missing reply. Retries are bounded by SyncAttempts and SyncTimeout; ctx
// cancels them early.
func (c *Client) Sync(ctx context.Context, dev Device) (time.Time, error) {
	var confirmed time.Time
	deadline := c.now().Add(c.opts.SyncTimeout)

	err := c.session(dev, "sync", func(p Port) error {
		if err := p.ResetInputBuffer(); err != nil {
			return err
		}
		for attempt := 1; attempt <= c.opts.SyncAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if c.now().After(deadline) {
				break
			}

			if _, err := p.Write(setClockCommand(c.now())); err != nil {
				return fmt.Errorf("write set-clock: %w", err)
			}
			raw, err := readLine(p, c.opts.ReadTimeout)
			if err != nil && !errors.Is(err, ErrReadTimeout) {
				return err
			}
			if err == nil {
				if t, ok := ParseClock(raw); ok {
					confirmed = t
					return nil
				}
			}
			appLog.Debug("device: no usable echo, resending", "port", dev.Port, "attempt", attempt, "reply", raw)
		}
		return ErrSyncExhausted
	})
	if err != nil {
		return time.Time{}, err
	}
	appLog.Info("device: clock set", "port", dev.Port, "description", dev.Description, "device_time", confirmed.Format(time.DateTime))
	return confirmed, nil
}

// GetTime asks dev for its clock.
func (c *Client) GetTime(dev Device) (Reading, error) {
	var r Reading
	err := c.session(dev, "get-time", func(p Port) error {
		if err := p.ResetInputBuffer(); err != nil {
			return err
		}
		if _, err := p.Write([]byte{cmdGetClock}); err != nil {
			return fmt.Errorf("write get-clock: %w", err)
		}
		raw, err := readLine(p, c.opts.ReadTimeout)
		if err != nil {
			return err
		}
		r.Raw, err = decode(raw)
		if err != nil {
			return err
		}
		r.Time, r.Valid = ParseClock(r.Raw)
		return nil
	})
	return r, err
}

// Reset restarts dev. The device sends no reply.
func (c *Client) Reset(dev Device) error {
	return c.session(dev, "reset", func(p Port) error {
		if _, err := p.Write([]byte{cmdReset}); err != nil {
			return fmt.Errorf("write reset: %w", err)
		}
		return nil
	})
}

// Result is the outcome for one device of SyncAll.
type Result struct {
	Device Device
	Time   time.Time
	Err    error
}

// Report collects per-device results.
type Report struct {
	Results []Result
}

// Failed returns the number of devices that did not complete.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err joins every per-device error, or returns nil if all succeeded.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// SyncAll syncs and then resets each device. One device failing does not
// stop the others.
func (c *Client) SyncAll(ctx context.Context, devices []Device) Report {
	report := Report{Results: make([]Result, 0, len(devices))}
	for _, dev := range devices {
		res := Result{Device: dev}
		res.Time, res.Err = c.Sync(ctx, dev)
		if res.Err == nil {
			res.Err = c.Reset(dev)
		}
		if res.Err != nil {
			appLog.Error("device: sync failed", res.Err, "port", dev.Port, "description", dev.Description)
		}
		report.Results = append(report.Results, res)
	}
	return report
}
