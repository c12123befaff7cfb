package device

import (
	"errors"
	"io"
	"sync"
	"time"
)

// fakePort simulates a recorder. On every open the device emits its
// handshake; each write is answered by respond.
type fakePort struct {
	mu        sync.Mutex
	handshake string
	respond   func(cmd []byte) string

	pending []byte
	timeout time.Duration
	writes  [][]byte
	opens   int
	closes  int
	open    bool
}

func (p *fakePort) reopen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = []byte(p.handshake)
	p.opens++
	p.open = true
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(p.pending) == 0 {
		wait := p.timeout
		p.mu.Unlock()
		// Emulate the driver's read timeout without waiting the full amount.
		time.Sleep(min(wait, 2*time.Millisecond))
		return 0, nil
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return 0, io.ErrClosedPipe
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if p.respond != nil {
		p.pending = append(p.pending, p.respond(b)...)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.closes++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	return nil
}

type fakeBus struct {
	infos []PortInfo
	ports map[string]*fakePort
	fail  map[string]error
}

func newFakeBus() *fakeBus {
	return &fakeBus{ports: make(map[string]*fakePort), fail: make(map[string]error)}
}

func (b *fakeBus) add(name, desc string, p *fakePort) {
	b.infos = append(b.infos, PortInfo{Name: name, Description: desc})
	if p != nil {
		b.ports[name] = p
	}
}

func (b *fakeBus) Ports() ([]PortInfo, error) {
	return b.infos, nil
}

func (b *fakeBus) Open(name string) (Port, error) {
	if err, ok := b.fail[name]; ok {
		return nil, err
	}
	p, ok := b.ports[name]
	if !ok {
		return nil, errors.New("no such port")
	}
	p.reopen()
	return p, nil
}

type brokenEnumerator struct{}

func (brokenEnumerator) Ports() ([]PortInfo, error) {
	return nil, errors.New("enumeration unavailable")
}
