// Package poller drives the fixed-cadence poll loop: one cycle requests
// every configured register block over the serial transport, decodes the
// collected registers into a Reading, and hands it to the caller. A
// cycle is all-or-nothing; partial data never leaves this package.
package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pescampus/campus_energy_meter/pkg/energy"
	"github.com/pescampus/campus_energy_meter/pkg/framecodec"
	"github.com/pescampus/campus_energy_meter/pkg/registermap"
	"github.com/pescampus/campus_energy_meter/pkg/types"
	"github.com/pescampus/campus_energy_meter/pkg/valuedecoder"
)

var (
	ErrInvalidResponse = errors.New("invalid or empty response")
	ErrRegisterMissing = errors.New("register missing from poll cycle")
)

// Block is one contiguous read request. Quantity is always even:
// registers pair up into 32-bit values.
type Block struct {
	Start    uint16
	Quantity uint16
}

// Register describes where one field lives and how to decode it.
type Register struct {
	Addr      uint16
	WordOrder string
	Scale     float64
}

// Field keys understood by the decoder. Every configured register must
// use one of these so the decoded value has a home in the Reading.
const (
	FieldVoltage     = "voltage_v1"
	FieldCurrent     = "current_a1"
	FieldActivePower = "active_power_w1"
	FieldPowerFactor = "power_factor_pf1"
	FieldFrequency   = "frequency_hz"
	FieldEnergyTotal = "energy_kwh"
)

type Config struct {
	MeterID         int
	UnitID          byte
	Interval        time.Duration
	ResponseTimeout time.Duration
	// SettleDelay gives slow USB adapters a moment between the request
	// going out and the first response byte. CH340 clones need this.
	SettleDelay time.Duration
	Blocks      []Block
	Registers   map[string]Register
}

type Poller struct {
	cfg  Config
	conn Connection

	mu     sync.RWMutex
	latest *types.Reading

	debug bool
}

// Connection is the transport lifecycle the poller depends on. Satisfied
// by *connection.Manager.
type Connection interface {
	Ensure(ctx context.Context) (io.ReadWriteCloser, error)
	MarkReading()
	MarkIdle()
	Drop(reason error)
}

func New(cfg Config, conn Connection, debug bool) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.ResponseTimeout <= 0 {
		return nil, errors.New("poller: response timeout must be > 0")
	}
	if len(cfg.Blocks) == 0 {
		return nil, errors.New("poller: at least one read block required")
	}
	for _, b := range cfg.Blocks {
		if b.Quantity == 0 || b.Quantity%2 != 0 {
			return nil, fmt.Errorf("poller: block at %d has odd quantity %d", b.Start, b.Quantity)
		}
	}
	if len(cfg.Registers) == 0 {
		return nil, errors.New("poller: at least one register required")
	}
	for name := range cfg.Registers {
		switch name {
		case FieldVoltage, FieldCurrent, FieldActivePower, FieldPowerFactor, FieldFrequency, FieldEnergyTotal:
		default:
			return nil, fmt.Errorf("poller: unknown register field %q", name)
		}
	}
	return &Poller{cfg: cfg, conn: conn, debug: debug}, nil
}

// PollCycle runs exactly one cycle against rw: request every block,
// absorb the payloads, decode every configured register. Any failure
// aborts the cycle with no Reading.
func (p *Poller) PollCycle(rw io.ReadWriter) (types.Reading, error) {
	start := time.Now()
	regs := registermap.New()

	for _, blk := range p.cfg.Blocks {
		frame := framecodec.BuildPollFrame(p.cfg.UnitID, blk.Start, blk.Quantity, framecodec.FuncReadHolding)
		if _, err := rw.Write(frame); err != nil {
			return types.Reading{}, fmt.Errorf("write request for block %d: %w", blk.Start, err)
		}
		if p.cfg.SettleDelay > 0 {
			time.Sleep(p.cfg.SettleDelay)
		}

		raw := framecodec.AccumulateResponse(rw, p.cfg.ResponseTimeout)
		if p.debug {
			log.Printf("[DEBUG] Frame (%d, qty=%d): % x", blk.Start, blk.Quantity, raw)
		}
		if !framecodec.ValidateResponse(raw, p.cfg.UnitID, framecodec.FuncReadHolding) {
			return types.Reading{}, fmt.Errorf("%w for block at %d", ErrInvalidResponse, blk.Start)
		}
		regs.Absorb(blk.Start, raw[3:len(raw)-2])
	}

	reading := types.Reading{Timestamp: start, MeterID: p.cfg.MeterID}
	for name, spec := range p.cfg.Registers {
		raw4 := regs.FourBytes(spec.Addr)
		if len(raw4) != 4 {
			return types.Reading{}, fmt.Errorf("%w: %s at address %d", ErrRegisterMissing, name, spec.Addr)
		}
		val, err := valuedecoder.DecodeFloat(raw4, spec.WordOrder, spec.Scale)
		if err != nil {
			return types.Reading{}, fmt.Errorf("decode %s: %w", name, err)
		}
		setField(&reading, name, energy.RoundPlaces(val, 3))
	}

	reading.EnergyWhInterval = energy.IntervalEnergyWh(reading.ActivePowerW, p.cfg.Interval)
	return reading, nil
}

func setField(r *types.Reading, name string, v float64) {
	switch name {
	case FieldVoltage:
		r.VoltageV = v
	case FieldCurrent:
		r.CurrentA = v
	case FieldActivePower:
		r.ActivePowerW = v
	case FieldPowerFactor:
		r.PowerFactor = v
	case FieldFrequency:
		r.FrequencyHz = v
	case FieldEnergyTotal:
		r.EnergyKwhTotal = v
	}
}

// Run polls at the configured cadence until ctx is cancelled, handing
// each complete Reading to handleReading by value. Time spent inside a
// cycle is subtracted from the wait so cadence drift does not
// accumulate. Failed cycles drop the transport and are retried on the
// next tick.
func (p *Poller) Run(ctx context.Context, handleReading func(types.Reading)) {
	for {
		if ctx.Err() != nil {
			return
		}

		port, err := p.conn.Ensure(ctx)
		if err != nil {
			return
		}

		cycleStart := time.Now()
		p.conn.MarkReading()
		reading, err := p.PollCycle(port)
		if err != nil {
			log.Printf("Poll cycle failed: %v", err)
			p.conn.Drop(err)
		} else {
			p.conn.MarkIdle()
			p.setLatest(reading)
			handleReading(reading)
		}

		if err := waitRemainder(ctx, p.cfg.Interval, time.Since(cycleStart)); err != nil {
			return
		}
	}
}

func (p *Poller) setLatest(r types.Reading) {
	p.mu.Lock()
	p.latest = &r
	p.mu.Unlock()
}

// Latest returns the most recent complete Reading, if any cycle has
// succeeded yet.
func (p *Poller) Latest() (types.Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return types.Reading{}, false
	}
	return *p.latest, true
}

func waitRemainder(ctx context.Context, interval, elapsed time.Duration) error {
	remaining := interval - elapsed
	if remaining <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(remaining)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
