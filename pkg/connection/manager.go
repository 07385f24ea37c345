// Package connection owns the serial link to the meter: device
// discovery, opening the port, and reconnection with exponential
// backoff. The poll loop never touches the port lifecycle directly.
package connection

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/jacobsa/go-serial/serial"
)

type State int

const (
	StateSearching State = iota
	StateConnected
	StateReading
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateConnected:
		return "connected"
	case StateReading:
		return "reading"
	case StateBackingOff:
		return "backing-off"
	}
	return "unknown"
}

var ErrDeviceNotFound = errors.New("no serial device found")

// DefaultPortPatterns match the USB serial adapters seen in the field.
var DefaultPortPatterns = []string{"/dev/ttyUSB*", "/dev/tty.usbserial*"}

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second
)

type Manager struct {
	patterns []string
	baudrate uint

	port  io.ReadWriteCloser
	state State
	delay time.Duration

	// Seams for tests; production uses the defaults set by NewManager.
	findPort func() (string, error)
	openPort func(path string) (io.ReadWriteCloser, error)
}

func NewManager(patterns []string, baudrate uint) *Manager {
	if len(patterns) == 0 {
		patterns = DefaultPortPatterns
	}
	m := &Manager{
		patterns: patterns,
		baudrate: baudrate,
		state:    StateSearching,
		delay:    initialBackoff,
	}
	m.findPort = m.globPorts
	m.openPort = m.openSerial
	return m
}

func (m *Manager) State() State { return m.state }

// Delay is the wait applied before the next reconnection attempt.
func (m *Manager) Delay() time.Duration { return m.delay }

// globPorts scans the configured patterns and returns the first match
// in lexicographic order. Enumeration order across platforms is only
// guaranteed by the sort.
func (m *Manager) globPorts() (string, error) {
	var found []string
	for _, pattern := range m.patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		found = append(found, matches...)
	}
	if len(found) == 0 {
		return "", ErrDeviceNotFound
	}
	sort.Strings(found)
	return found[0], nil
}

func (m *Manager) openSerial(path string) (io.ReadWriteCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName: path,
		BaudRate: m.baudrate,
		DataBits: 8,
		StopBits: 1,
		// Return whatever bytes are buffered after a short idle gap so
		// response accumulation can poll without blocking.
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	})
}

// Ensure returns a live transport, searching and retrying with backoff
// until one opens or ctx is cancelled. A missing device waits twice the
// current delay without consuming a backoff step; a failed open waits
// the current delay and then doubles it, capped at 60s. The delay
// resets on any successful open.
func (m *Manager) Ensure(ctx context.Context) (io.ReadWriteCloser, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.port != nil {
			return m.port, nil
		}

		m.state = StateSearching
		log.Println("Searching for serial device...")

		path, err := m.findPort()
		if err != nil {
			wait := 2 * m.delay
			log.Printf("No device found. Retrying in %v...", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		port, err := m.openPort(path)
		if err != nil {
			m.state = StateBackingOff
			log.Printf("Failed to connect to %s: %v. Retrying in %v...", path, err, m.delay)
			if serr := sleepCtx(ctx, m.delay); serr != nil {
				return nil, serr
			}
			m.RecordFailure()
			continue
		}

		m.port = port
		m.state = StateConnected
		m.delay = initialBackoff
		log.Printf("Connection established with %s at %d baud", path, m.baudrate)
		return m.port, nil
	}
}

// RecordFailure doubles the reconnection delay up to the cap.
func (m *Manager) RecordFailure() {
	m.delay *= 2
	if m.delay > maxBackoff {
		m.delay = maxBackoff
	}
}

// MarkReading flags the transport as mid-cycle.
func (m *Manager) MarkReading() {
	if m.port != nil {
		m.state = StateReading
	}
}

// MarkIdle returns a mid-cycle transport to the connected state.
func (m *Manager) MarkIdle() {
	if m.port != nil {
		m.state = StateConnected
	}
}

// Drop closes and forgets the transport after a mid-cycle failure. The
// next Ensure call re-enters the search; the reconnection delay is left
// alone because the device was reachable until a moment ago.
func (m *Manager) Drop(reason error) {
	if m.port == nil {
		return
	}
	log.Printf("Communication lost: %v. Closing port and preparing to reconnect.", reason)
	m.port.Close()
	m.port = nil
	m.state = StateSearching
}

// Close releases the transport on shutdown.
func (m *Manager) Close() {
	if m.port != nil {
		m.port.Close()
		m.port = nil
	}
	m.state = StateSearching
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
