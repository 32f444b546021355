// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"net"
	"testing"
	"time"
)

func pipePort(baud uint32) (*Port, net.Conn) {
	a, b := net.Pipe()
	return NewFromConn("pipe", baud, a), b
}

func TestCharTimeAndSilenceGap(t *testing.T) {
	if got := CharTime(9600); got <= 0 {
		t.Fatalf("CharTime(9600) = %v, want > 0", got)
	}
	if got := CharTime(115200); got != 1750*time.Microsecond {
		t.Fatalf("CharTime(115200) = %v, want 1.75ms floor", got)
	}
	gap := SilenceGap(9600)
	wantApprox := time.Duration(3.5 * float64(CharTime(9600)))
	if gap != wantApprox {
		t.Fatalf("SilenceGap(9600) = %v, want %v", gap, wantApprox)
	}
}

func TestReadFrameTimeoutEmpty(t *testing.T) {
	p, b := pipePort(9600)
	defer b.Close()

	_, err := p.ReadFrame(30 * time.Millisecond)
	if err != ErrReadTimeout {
		t.Fatalf("err = %v, want ErrReadTimeout", err)
	}
}

func TestReadFrameAccumulatesUntilSilence(t *testing.T) {
	// 1200 baud: SilenceGap is about 32 ms, so the 5 ms pause below
	// stays inside one frame.
	p, b := pipePort(1200)
	defer b.Close()

	done := make(chan []byte, 1)
	go func() {
		buf, err := p.ReadFrame(500 * time.Millisecond)
		if err != nil {
			t.Errorf("ReadFrame: %v", err)
		}
		done <- buf
	}()

	b.Write([]byte{0x01, 0x03})
	time.Sleep(5 * time.Millisecond)
	b.Write([]byte{0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B})

	select {
	case got := <-done:
		want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
		if len(got) != len(want) {
			t.Fatalf("got %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("ReadFrame did not return")
	}
}

func TestWriteFrameEnforcesInterFrameGap(t *testing.T) {
	p, b := pipePort(19200)
	go func() {
		buf := make([]byte, 16)
		b.Read(buf)
		b.Read(buf)
	}()

	if err := p.WriteFrame([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("first WriteFrame: %v", err)
	}
	start := time.Now()
	if err := p.WriteFrame([]byte{0x03, 0x04}); err != nil {
		t.Fatalf("second WriteFrame: %v", err)
	}
	if elapsed := time.Since(start); elapsed < SilenceGap(19200) {
		t.Fatalf("second WriteFrame returned after %v, want >= %v gap", elapsed, SilenceGap(19200))
	}
}
