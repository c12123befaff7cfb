package drives

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	appLog "reccal/internal/log"
)

const refreshTimeout = 5 * time.Second

// Monitor keeps a periodically refreshed snapshot of the mounted drives.
// Readers get copies; the snapshot only changes on refresh.
type Monitor struct {
	lister Lister
	spec   string

	snapshot atomic.Pointer[[]Drive]

	mu   sync.Mutex
	cron *cron.Cron
	// onChange, if set, is called after a refresh that changed the list.
	onChange func([]Drive)
}

// NewMonitor creates a monitor that refreshes on the cron spec (for example
// "@every 1s"). It does not start polling until Start.
func NewMonitor(lister Lister, spec string, onChange func([]Drive)) *Monitor {
	m := &Monitor{lister: lister, spec: spec, onChange: onChange}
	empty := []Drive{}
	m.snapshot.Store(&empty)
	return m
}

// Snapshot returns a copy of the last successfully listed drives.
func (m *Monitor) Snapshot() []Drive {
	return slices.Clone(*m.snapshot.Load())
}

// Refresh lists drives now. On failure the previous snapshot is kept.
func (m *Monitor) Refresh(ctx context.Context) error {
	drives, err := m.lister.List(ctx)
	if err != nil {
		return err
	}
	prev := m.snapshot.Swap(&drives)
	if m.onChange != nil && !slices.Equal(*prev, drives) {
		m.onChange(slices.Clone(drives))
	}
	return nil
}

// Start performs a first refresh and schedules the rest.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	if err := m.refreshLogged(); err != nil {
		appLog.Error("drives: initial refresh failed", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(m.spec, func() { _ = m.refreshLogged() }); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	appLog.Info("drives: monitor started", "poll", m.spec)
	return nil
}

// Stop halts polling and waits for a running refresh to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

func (m *Monitor) refreshLogged() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if err := m.Refresh(ctx); err != nil {
		appLog.Error("drives: refresh failed", err)
		return err
	}
	return nil
}
