package hostenv

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	PITChannel0Port uint16 = 0x40
	PITControlPort  uint16 = 0x43

	// PITInputFrequency is the 8254's fixed oscillator rate; a driver
	// divides it down to the desired tick rate before arming channel 0.
	PITInputFrequency = 1193182
	pitInputFrequency = PITInputFrequency
)

// PIT models the 8254 programmable interval timer's channel 0 in mode 2
// (rate generator), the only mode spec C7 requires: a periodic pulse on
// IRQ0 at a configured frequency. Adapted from the teacher's fuller
// multi-mode PIT (internal/devices/amd64/chipset/pit.go); modes 0/1/3/4/5
// and channels 1/2 (refresh, PC speaker) are dropped as out of scope for a
// "periodic tick source" per spec S1.
type PIT struct {
	mu sync.Mutex

	irq     IRQLine
	reload  uint16
	running bool
	ticks   uint64

	limiter *rate.Limiter // non-nil only in interactive (wall-clock-paced) mode
}

// PITOption customizes a PIT, mirroring the teacher's functional-options
// pattern for test doubles.
type PITOption func(*PIT)

// WithWallClockPacing paces simulated ticks to real time via a
// golang.org/x/time/rate.Limiter instead of firing as fast as the host
// loop can call Tick; used by cmd/codexrun's interactive mode, bypassed by
// tests so scheduler-fairness properties run instantly.
func WithWallClockPacing(hz int) PITOption {
	return func(p *PIT) {
		if hz > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(hz), 1)
		}
	}
}

func NewPIT(irq IRQLine, opts ...PITOption) *PIT {
	p := &PIT{irq: irq}
	if p.irq == nil {
		p.irq = IRQLineFunc(nil)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProgramFrequency arms channel 0 at approximately hz ticks/second,
// driving WriteIOPort the same low-byte-then-high-byte sequence a real
// timer driver issues against port 0x40 (spec §4.4 boot-time PIT setup).
func (p *PIT) ProgramFrequency(hz int) error {
	reload := uint16(PITInputFrequency / hz)
	if err := p.WriteIOPort(PITChannel0Port, []byte{byte(reload)}); err != nil {
		return err
	}
	return p.WriteIOPort(PITChannel0Port, []byte{byte(reload >> 8)})
}

func (p *PIT) IOPorts() []uint16 { return []uint16{PITChannel0Port, PITControlPort} }

func (p *PIT) ReadIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port == PITChannel0Port && len(data) == 1 {
		data[0] = byte(p.reload)
	}
	return nil
}

// WriteIOPort accepts a little-endian reload value written low-byte then
// high-byte to channel 0 (the access mode the kernel's C7 driver always
// uses) and arms the channel once both bytes land.
func (p *PIT) WriteIOPort(port uint16, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port != PITChannel0Port || len(data) != 1 {
		return nil
	}
	p.reload = (p.reload >> 8) | (uint16(data[0]) << 8)
	p.running = true
	return nil
}

// Frequency reports the configured rate derived from the current reload
// value, satisfying the §6 "ticks_per_second()" host interface as an
// accessor instead of a compile-time constant (see SPEC_FULL §4).
func (p *PIT) Frequency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reload == 0 {
		return pitInputFrequency / 65536
	}
	return pitInputFrequency / int(p.reload)
}

// Tick fires one IRQ0 pulse, pacing itself against the wall clock when
// WithWallClockPacing was configured. The caller (the kernel's simulation
// loop) invokes this at the rate internal/kernel/task expects ticks.
func (p *PIT) Tick() {
	p.mu.Lock()
	limiter := p.limiter
	running := p.running
	p.mu.Unlock()

	if !running {
		return
	}
	if limiter != nil {
		_ = limiter.Wait(context.Background())
	}

	p.mu.Lock()
	p.ticks++
	p.mu.Unlock()

	p.irq.SetLevel(true)
	p.irq.SetLevel(false)
}

// Ticks returns the number of IRQ0 pulses fired so far, for diagnostics.
func (p *PIT) Ticks() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticks
}

