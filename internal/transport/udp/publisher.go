// SPDX-License-Identifier: MIT
// Package udp publishes the latest decibel spectrum as fixed-layout
// datagrams at a steady rate, independent of the frame rate.
package udp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"spectra/internal/analysis"
)

// DefaultInterval is about 60 packets per second.
const DefaultInterval = 16 * time.Millisecond

// HeaderSize is the fixed part of a packet.
const HeaderSize = 4 + 8 + 2

// MaxBins is the largest spectrum a packet can carry.
const MaxBins = math.MaxUint16

/*
Packet layout, big endian:

	+-----------------+-----------------+---------------+--------------------+
	| sequence uint32 | timestamp int64 | count uint16  | count x float32 dB |
	+-----------------+-----------------+---------------+--------------------+

The timestamp is nanoseconds since the Unix epoch at send time. The sequence
increments once per packet sent.
*/

// PacketSender is the datagram transport used by the Publisher.
// *Sender implements it.
type PacketSender interface {
	Send(data []byte) error
}

// Publisher polls a SpectrumProvider on a ticker and sends each new
// spectrum as one packet. Ticks with no new frame send nothing.
type Publisher struct {
	sender   PacketSender
	provider analysis.SpectrumProvider
	interval time.Duration

	seq     uint32
	lastSeq uint64
	hasLast bool

	db     []float32
	packet []byte

	sent     atomic.Uint64
	failures atomic.Uint64
}

// NewPublisher validates its collaborators and pre-allocates the packet.
// A non-positive interval selects DefaultInterval.
func NewPublisher(interval time.Duration, sender PacketSender, provider analysis.SpectrumProvider) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("udp publisher: sender cannot be nil")
	}
	if provider == nil {
		return nil, errors.New("udp publisher: spectrum provider cannot be nil")
	}
	bins := provider.Bins()
	if bins > MaxBins {
		return nil, fmt.Errorf("udp publisher: %d bins exceed packet limit %d", bins, MaxBins)
	}
	if interval <= 0 {
		logger.Warnf("invalid interval %s, defaulting to %s", interval, DefaultInterval)
		interval = DefaultInterval
	}
	logger.Infof("publisher ready (interval %s, %d bins, %d byte packets)", interval, bins, HeaderSize+4*bins)

	return &Publisher{
		sender:   sender,
		provider: provider,
		interval: interval,
		db:       make([]float32, bins),
		packet:   make([]byte, HeaderSize+4*bins),
	}, nil
}

// Run publishes until ctx is cancelled and returns nil.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	logger.Debugf("publisher started")
	for {
		select {
		case <-ctx.Done():
			logger.Debugf("publisher stopped after %d packets", p.sent.Load())
			return nil
		case now := <-ticker.C:
			p.publish(now)
		}
	}
}

// publish sends the latest spectrum if it is newer than the last one sent.
// It reports whether a packet went out.
func (p *Publisher) publish(now time.Time) bool {
	frameSeq, ok, err := p.provider.LatestDecibelsInto(p.db)
	if err != nil {
		p.failures.Add(1)
		logger.Errorf("fetch spectrum: %v", err)
		return false
	}
	if !ok || (p.hasLast && frameSeq == p.lastSeq) {
		return false
	}

	p.seq++
	EncodePacket(p.packet, p.seq, now.UnixNano(), p.db)
	if err := p.sender.Send(p.packet); err != nil {
		p.failures.Add(1)
		logger.Warnf("packet %d: %v", p.seq, err)
		return false
	}
	p.lastSeq, p.hasLast = frameSeq, true
	p.sent.Add(1)
	return true
}

// Sent returns the number of packets sent.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// Errors returns the number of failed fetches and sends.
func (p *Publisher) Errors() uint64 { return p.failures.Load() }

// EncodePacket writes a packet into dst, which must hold
// HeaderSize+4*len(db) bytes.
func EncodePacket(dst []byte, seq uint32, timestamp int64, db []float32) {
	binary.BigEndian.PutUint32(dst[0:4], seq)
	binary.BigEndian.PutUint64(dst[4:12], uint64(timestamp))
	binary.BigEndian.PutUint16(dst[12:14], uint16(len(db)))
	off := HeaderSize
	for _, v := range db {
		binary.BigEndian.PutUint32(dst[off:], math.Float32bits(v))
		off += 4
	}
}

// Packet is a decoded datagram.
type Packet struct {
	Seq       uint32
	Timestamp int64
	Decibels  []float32
}

// DecodePacket parses a datagram produced by EncodePacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	n := int(binary.BigEndian.Uint16(b[12:14]))
	if len(b) != HeaderSize+4*n {
		return Packet{}, fmt.Errorf("packet length %d does not match count %d", len(b), n)
	}
	pkt := Packet{
		Seq:       binary.BigEndian.Uint32(b[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:12])),
		Decibels:  make([]float32, n),
	}
	for i := range pkt.Decibels {
		pkt.Decibels[i] = math.Float32frombits(binary.BigEndian.Uint32(b[HeaderSize+4*i:]))
	}
	return pkt, nil
}
