// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeProvider serves a fixed spectrum and a settable sequence number.
type fakeProvider struct {
	mu  sync.Mutex
	db  []float32
	seq uint64
	ok  bool
	err error
}

func (f *fakeProvider) LatestDecibelsInto(dst []float32) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	copy(dst, f.db)
	return f.seq, f.ok, nil
}

func (f *fakeProvider) Bins() int                    { return len(f.db) }
func (f *fakeProvider) BinFrequency(bin int) float64 { return float64(bin) }
func (f *fakeProvider) SampleRate() float64          { return 16000 }
func (f *fakeProvider) FrameSize() int               { return 2 * len(f.db) }

func (f *fakeProvider) advance() {
	f.mu.Lock()
	f.seq++
	f.ok = true
	f.mu.Unlock()
}

type captureSender struct {
	packets [][]byte
	err     error
}

func (c *captureSender) Send(b []byte) error {
	if c.err != nil {
		return c.err
	}
	c.packets = append(c.packets, append([]byte(nil), b...))
	return nil
}

func TestEncodeDecodePacket(t *testing.T) {
	db := []float32{-120, -6.02, 0, float32(math.Inf(-1))}
	buf := make([]byte, HeaderSize+4*len(db))
	EncodePacket(buf, 7, 1_700_000_000_123, db)

	// Header bytes are fixed big endian.
	if buf[3] != 7 || buf[13] != byte(len(db)) {
		t.Fatalf("header = % x", buf[:HeaderSize])
	}

	pkt, err := DecodePacket(buf)
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Seq != 7 || pkt.Timestamp != 1_700_000_000_123 {
		t.Fatalf("decoded header %+v", pkt)
	}
	for i := range db {
		if pkt.Decibels[i] != db[i] {
			t.Errorf("bin %d = %v, want %v", i, pkt.Decibels[i], db[i])
		}
	}
}

func TestDecodePacketRejectsBadLength(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"Empty", nil},
		{"Short header", make([]byte, HeaderSize-1)},
		{"Count mismatch", append(make([]byte, 12), 0, 2, 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacket(tt.data); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewPublisherValidation(t *testing.T) {
	p := &fakeProvider{db: make([]float32, 4)}
	if _, err := NewPublisher(time.Millisecond, nil, p); err == nil {
		t.Error("nil sender accepted")
	}
	if _, err := NewPublisher(time.Millisecond, &captureSender{}, nil); err == nil {
		t.Error("nil provider accepted")
	}
	big := &fakeProvider{db: make([]float32, MaxBins+1)}
	if _, err := NewPublisher(time.Millisecond, &captureSender{}, big); err == nil {
		t.Error("oversized spectrum accepted")
	}
	pub, err := NewPublisher(0, &captureSender{}, p)
	if err != nil || pub.interval != DefaultInterval {
		t.Errorf("zero interval: %v, %v", pub, err)
	}
}

func TestPublishOnlyNewFrames(t *testing.T) {
	provider := &fakeProvider{db: []float32{-10, -20, -30}}
	sender := &captureSender{}
	pub, err := NewPublisher(time.Millisecond, sender, provider)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Unix(100, 0)
	if pub.publish(now) {
		t.Fatal("published before the first frame")
	}

	provider.advance()
	if !pub.publish(now) {
		t.Fatal("new frame not published")
	}
	if pub.publish(now) {
		t.Fatal("same frame published twice")
	}
	provider.advance()
	if !pub.publish(now.Add(time.Second)) {
		t.Fatal("second frame not published")
	}

	if len(sender.packets) != 2 || pub.Sent() != 2 {
		t.Fatalf("sent %d packets", len(sender.packets))
	}
	last, err := DecodePacket(sender.packets[1])
	if err != nil {
		t.Fatal(err)
	}
	if last.Seq != 2 || last.Timestamp != now.Add(time.Second).UnixNano() || last.Decibels[2] != -30 {
		t.Fatalf("last packet %+v", last)
	}
}

func TestPublishCountsFailures(t *testing.T) {
	provider := &fakeProvider{db: make([]float32, 2), err: errors.New("bad length")}
	sender := &captureSender{}
	pub, _ := NewPublisher(time.Millisecond, sender, provider)

	pub.publish(time.Now())
	provider.err = nil
	provider.advance()
	sender.err = errors.New("network unreachable")
	pub.publish(time.Now())

	if pub.Errors() != 2 || pub.Sent() != 0 {
		t.Fatalf("errors=%d sent=%d", pub.Errors(), pub.Sent())
	}

	// A failed send is retried on the next tick.
	sender.err = nil
	if !pub.publish(time.Now()) {
		t.Fatal("frame not retried after a failed send")
	}
}

func TestPublisherOverUDP(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	sender, err := NewSender(listener.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	provider := &fakeProvider{db: []float32{-1, -2, -3, -4}}
	provider.advance()
	pub, err := NewPublisher(2*time.Millisecond, sender, provider)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	buf := make([]byte, 1500)
	_ = listener.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := listener.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	pkt, err := DecodePacket(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if pkt.Seq != 1 || len(pkt.Decibels) != 4 || pkt.Decibels[3] != -4 {
		t.Fatalf("received %+v", pkt)
	}
}

func TestSenderClosed(t *testing.T) {
	s, err := NewSender("127.0.0.1:9")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrSenderClosed) {
		t.Fatalf("Send after Close = %v", err)
	}
}

func TestPublishAllocations(t *testing.T) {
	provider := &fakeProvider{db: make([]float32, 2048)}
	pub, _ := NewPublisher(time.Millisecond, discard{}, provider)

	allocs := testing.AllocsPerRun(100, func() {
		provider.seq++
		provider.ok = true
		pub.publish(time.Unix(1, 0))
	})
	if allocs > 0 {
		t.Errorf("publish allocated %.1f times", allocs)
	}
}

type discard struct{}

func (discard) Send([]byte) error { return nil }
