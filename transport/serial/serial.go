// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package serial exposes the RTU byte channel a station scheduler
// drives: open/close of the physical line, inter-frame silence timing,
// and frame-shaped reads. Adapted from the teacher's
// transport/rtu.serialPort and rtuSerialTransporter, generalized from
// a single upstream/downstream client into the byte-channel primitive
// the scheduler builds both master polls and slave responses on top of.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aoba-io/aoba/config"
	gxserial "github.com/grid-x/serial"
)

// OpenErrorKind classifies why a port failed to open.
type OpenErrorKind int

const (
	OpenErrorOther OpenErrorKind = iota
	OpenErrorNotFound
	OpenErrorBusy
	OpenErrorPermission
)

type OpenError struct {
	Kind OpenErrorKind
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serial: open %s: %v", e.Name, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

func classifyOpenError(name string, err error) *OpenError {
	kind := OpenErrorOther
	switch {
	case os.IsNotExist(err):
		kind = OpenErrorNotFound
	case os.IsPermission(err):
		kind = OpenErrorPermission
	case strings.Contains(err.Error(), "busy"),
		strings.Contains(err.Error(), "temporarily unavailable"),
		strings.Contains(err.Error(), "resource temporarily unavailable"):
		kind = OpenErrorBusy
	}
	return &OpenError{Kind: kind, Name: name, Err: err}
}

// ErrReadTimeout is returned by ReadFrame when no bytes at all arrive
// before the deadline. A partial frame followed by silence is not an
// error: it is returned as data.
var ErrReadTimeout = errors.New("serial: read timeout")

// pollSlice bounds how long a single underlying Read blocks, so
// ReadFrame can re-check its silence gap and overall deadline often
// enough to be responsive. It is independent of the configured baud;
// it only paces how often we look for a quiet line.
const pollSlice = 20 * time.Millisecond

// CharTime returns the nominal 8N1 character time for baud. Per RTU
// convention, baud rates above 19200 use the fixed 1.75 ms floor
// instead of the formula's shrinking value.
func CharTime(baud uint32) time.Duration {
	if baud == 0 || baud > 19200 {
		return 1750 * time.Microsecond
	}
	return time.Duration(float64(11) / float64(baud) * float64(time.Second))
}

// SilenceGap is the inter-frame silence threshold: 3.5 character times.
func SilenceGap(baud uint32) time.Duration {
	return time.Duration(3.5 * float64(CharTime(baud)))
}

// Port is an open RTU serial line with inter-frame timing state.
type Port struct {
	name string
	baud uint32

	mu           sync.Mutex
	conn         io.ReadWriteCloser
	lastByteAt   time.Time
	haveActivity bool
}

// Open acquires the named serial port at the given baud/framing.
// Framing other than 8N1 degrades to 8N1 wiring (grid-x/serial has no
// notion of FramingOther; Aoba only distinguishes it at the config
// layer for display purposes).
func Open(name string, baud uint32, framing config.Framing) (*Port, error) {
	cfg := &gxserial.Config{
		Address:  name,
		BaudRate: int(baud),
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  pollSlice,
	}

	conn, err := gxserial.Open(cfg)
	if err != nil {
		return nil, classifyOpenError(name, err)
	}

	return &Port{name: name, baud: baud, conn: conn}, nil
}

// NewFromConn wraps an already-open byte channel as a Port, applying
// the same inter-frame timing rules Open would. Used to drive a
// virtual or test serial line (a net.Pipe, a pty) through the same
// scheduler code path as a real device.
func NewFromConn(name string, baud uint32, conn io.ReadWriteCloser) *Port {
	return &Port{name: name, baud: baud, conn: conn}
}

func (p *Port) Name() string { return p.name }

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// WriteFrame enforces the 3.5 character-time inter-frame guard since
// the last byte observed (written or read), then writes data and
// blocks until it is drained to the driver.
func (p *Port) WriteFrame(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return fmt.Errorf("serial: port %s is closed", p.name)
	}

	if p.haveActivity {
		gap := SilenceGap(p.baud)
		if elapsed := time.Since(p.lastByteAt); elapsed < gap {
			time.Sleep(gap - elapsed)
		}
	}

	slog.Debug("serial: write frame", "port", p.name, "bytes", len(data))
	if _, err := p.conn.Write(data); err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}

	p.lastByteAt = time.Now()
	p.haveActivity = true
	return nil
}

// ReadFrame accumulates bytes until a silent gap of at least 3.5
// character-times follows the last byte read, or timeout elapses.
// If nothing at all arrives before timeout it returns ErrReadTimeout;
// otherwise it returns the buffered bytes with a nil error, once
// silence is observed, the deadline passes, or the underlying read
// fails. Partial reads below the gap threshold are never split.
// Silence is checked between reads: on a connection with read
// deadlines each read is cut off when the gap would elapse; on one
// without, a read blocks for the connection's own timeout, and bytes
// arriving within it join the same frame.
func (p *Port) ReadFrame(timeout time.Duration) ([]byte, error) {
	p.mu.Lock()
	conn := p.conn
	baud := p.baud
	p.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("serial: port %s is closed", p.name)
	}

	gap := SilenceGap(baud)
	deadline := time.Now().Add(timeout)

	var buf []byte
	chunk := make([]byte, 256)
	var lastByte time.Time

	for {
		now := time.Now()
		if len(buf) > 0 && now.Sub(lastByte) >= gap {
			p.noteActivity(lastByte)
			return buf, nil
		}
		if now.After(deadline) {
			if len(buf) > 0 {
				p.noteActivity(lastByte)
				return buf, nil
			}
			return nil, ErrReadTimeout
		}

		if dl, ok := conn.(deadliner); ok {
			slice := pollSlice
			if remaining := time.Until(deadline); remaining < slice {
				slice = remaining
			}
			if len(buf) > 0 {
				if untilGap := gap - time.Since(lastByte); untilGap < slice {
					slice = untilGap
				}
			}
			_ = dl.SetReadDeadline(time.Now().Add(slice))
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			lastByte = time.Now()
			continue
		}
		if err != nil && !isTimeoutErr(err) {
			if len(buf) > 0 {
				p.noteActivity(lastByte)
				return buf, nil
			}
			return nil, fmt.Errorf("serial: read: %w", err)
		}
	}
}

func (p *Port) noteActivity(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastByteAt = t
	p.haveActivity = true
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
