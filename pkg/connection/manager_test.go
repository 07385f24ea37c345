package connection

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

type fakePort struct{ closed bool }

func (f *fakePort) Read(p []byte) (int, error)  { return 0, io.EOF }
func (f *fakePort) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakePort) Close() error                { f.closed = true; return nil }

func TestBackoffDoublesAndCaps(t *testing.T) {
	m := NewManager(nil, 9600)

	if m.Delay() != 2*time.Second {
		t.Fatalf("initial delay = %v, want 2s", m.Delay())
	}
	// After n consecutive failures the delay is min(2^(n+1), 60) seconds.
	want := []time.Duration{4, 8, 16, 32, 60, 60, 60}
	for n, w := range want {
		m.RecordFailure()
		if m.Delay() != w*time.Second {
			t.Fatalf("after %d failures delay = %v, want %vs", n+1, m.Delay(), w)
		}
	}
}

func TestBackoffResetsOnSuccessfulConnect(t *testing.T) {
	m := NewManager(nil, 9600)
	for i := 0; i < 4; i++ {
		m.RecordFailure()
	}

	port := &fakePort{}
	m.findPort = func() (string, error) { return "/dev/ttyUSB0", nil }
	m.openPort = func(string) (io.ReadWriteCloser, error) { return port, nil }

	got, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != port {
		t.Fatal("Ensure returned a different transport")
	}
	if m.Delay() != 2*time.Second {
		t.Fatalf("delay after success = %v, want 2s", m.Delay())
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v, want connected", m.State())
	}
}

func TestEnsureRetriesFailedOpenWithBackoff(t *testing.T) {
	m := NewManager(nil, 9600)
	m.delay = time.Millisecond // keep the test fast

	attempts := 0
	m.findPort = func() (string, error) { return "/dev/ttyUSB0", nil }
	m.openPort = func(string) (io.ReadWriteCloser, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("busy")
		}
		return &fakePort{}, nil
	}

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestEnsureHonorsCancellationWhileSearching(t *testing.T) {
	m := NewManager(nil, 9600)
	m.findPort = func() (string, error) { return "", ErrDeviceNotFound }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := m.Ensure(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("cancellation not honored promptly")
	}
}

func TestDropClosesAndForgetsPort(t *testing.T) {
	m := NewManager(nil, 9600)
	port := &fakePort{}
	m.findPort = func() (string, error) { return "/dev/ttyUSB0", nil }
	m.openPort = func(string) (io.ReadWriteCloser, error) { return port, nil }

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.MarkReading()
	if m.State() != StateReading {
		t.Fatalf("state = %v, want reading", m.State())
	}

	m.Drop(errors.New("timeout"))
	if !port.closed {
		t.Fatal("port not closed")
	}
	if m.State() != StateSearching {
		t.Fatalf("state = %v, want searching", m.State())
	}
	// Delay is untouched by a mid-cycle drop.
	if m.Delay() != 2*time.Second {
		t.Fatalf("delay = %v, want 2s", m.Delay())
	}
}
