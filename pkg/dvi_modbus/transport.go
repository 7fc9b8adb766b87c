package dvi_modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// Transport carries one request frame to the device and returns the next
// frame it answers with.
type Transport interface {
	Open() error
	Close() error
	Transact(ctx context.Context, adu []byte) ([]byte, error)
}

// PortOpener opens the raw byte stream of a transport.
type PortOpener func() (io.ReadWriteCloser, error)

type SerialTransport struct {
	open PortOpener

	mu     sync.Mutex
	port   io.ReadWriteCloser
	framer *Framer
	next   func() ([]byte, error, bool)
	stop   func()
	// set after a timeout or malformed frame, the line may still carry the
	// rest of that answer
	stale bool
}

var _ modbus.Transporter = (*SerialTransport)(nil)

func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	serialCfg := &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	return NewTransport(func() (io.ReadWriteCloser, error) {
		return serial.Open(serialCfg)
	})
}

func NewTransport(open PortOpener) *SerialTransport {
	return &SerialTransport{open: open}
}

func (t *SerialTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port != nil {
		return nil
	}
	port, err := t.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	t.port = port
	t.framer = NewFramer(port)
	t.next, t.stop = iter.Pull2(t.framer.Frames())
	t.stale = false
	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *SerialTransport) closeLocked() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.stop()
	t.port, t.framer, t.next, t.stop = nil, nil, nil, nil
	return err
}

// Transact writes adu and waits for the next frame. Cancelling ctx closes the
// port, which interrupts a pending read. Input left over from a failed
// exchange is discarded before the request goes out.
func (t *SerialTransport) Transact(ctx context.Context, adu []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port := t.port
	release := context.AfterFunc(ctx, func() {
		port.Close()
	})
	defer release()

	if t.stale {
		t.framer.Discard()
		t.stale = false
		if ctx.Err() != nil {
			t.closeLocked()
			return nil, ctx.Err()
		}
	}
	if _, err := port.Write(adu); err != nil {
		t.closeLocked()
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	frame, err, ok := t.next()
	if ctx.Err() != nil {
		t.closeLocked()
		return nil, ctx.Err()
	}
	if !ok {
		t.closeLocked()
		return nil, fmt.Errorf("%w: frame stream ended", ErrConnection)
	}
	if err != nil {
		if IsLinkFailure(err) {
			t.closeLocked()
		} else {
			t.stale = true
		}
	}
	return frame, err
}

func (t *SerialTransport) Send(aduRequest []byte) ([]byte, error) {
	return t.Transact(context.Background(), aduRequest)
}

// WaitForDevice blocks until the device node at path exists. next yields the
// delay before each retry and false once the caller should give up.
func WaitForDevice(ctx context.Context, path string, next func() (time.Duration, bool)) error {
	for {
		_, err := os.Stat(path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %w", ErrConnection, err)
		}
		delay, ok := next()
		if !ok {
			return fmt.Errorf("%w: device %s did not appear", ErrConnection, path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
