package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/metrics"
	"github.com/zsiec/fcbus/internal/queue"
)

// RTPConfig configures an RTPSource.
type RTPConfig struct {
	PayloadType uint8 // 0 accepts any payload type
	Queue       queue.Config
}

// RTPStats holds receiver counters.
type RTPStats struct {
	SSRC           uint32      `json:"ssrc"`
	ByeSSRC        uint32      `json:"bye_ssrc,omitempty"`
	Packets        uint64      `json:"packets"`
	Frames         uint64      `json:"frames"`
	DroppedFrames  uint64      `json:"dropped_frames"`
	InvalidPackets uint64      `json:"invalid_packets"`
	Queue          queue.Stats `json:"queue"`
}

// RTPSource assembles frames from RTP packets: payloads are concatenated in sequence
// order and the packet with the marker bit closes the frame. A sequence gap drops the
// frame it falls in. Only the first SSRC seen is accepted. An RTCP BYE for that
// SSRC ends the stream; once the queued frames are consumed Next fails.
type RTPSource struct {
	conn     net.PacketConn
	rtcpConn net.PacketConn
	cfg      RTPConfig
	queue    *queue.FrameQueue
	logger   logger.Logger

	// Receiver state, owned by the read loop
	ssrc       uint32
	haveSSRC   atomic.Bool
	lastSeq    uint16
	haveSeq    bool
	assembling []byte
	discarding bool

	packets atomic.Uint64
	frames  atomic.Uint64
	dropped atomic.Uint64
	invalid atomic.Uint64
	ended   chan struct{}
	endOnce sync.Once
	byeSSRC atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRTPSource starts receiving on conn. rtcpConn may be nil. The source owns both
// connections and closes them in Close.
func NewRTPSource(conn, rtcpConn net.PacketConn, cfg RTPConfig, log logger.Logger) (*RTPSource, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}

	q, err := queue.New("rtp-"+sanitize(conn.LocalAddr().String()), cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP frame queue: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &RTPSource{
		conn:     conn,
		rtcpConn: rtcpConn,
		cfg:      cfg,
		queue:    q,
		logger: log.WithFields(map[string]interface{}{
			"component": "rtp_source",
			"addr":      conn.LocalAddr().String(),
		}),
		ended:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.readPackets()
	if rtcpConn != nil {
		s.wg.Add(1)
		go s.readControl()
	}

	s.logger.Info("RTP frame source listening")
	return s, nil
}

// ListenRTP opens UDP sockets on addr and, when rtcpAddr is not empty, on rtcpAddr.
func ListenRTP(addr, rtcpAddr string, cfg RTPConfig, log logger.Logger) (*RTPSource, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for RTP on %s: %w", addr, err)
	}

	var rtcpConn net.PacketConn
	if rtcpAddr != "" {
		rtcpConn, err = net.ListenPacket("udp", rtcpAddr)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to listen for RTCP on %s: %w", rtcpAddr, err)
		}
	}

	src, err := NewRTPSource(conn, rtcpConn, cfg, log)
	if err != nil {
		conn.Close()
		if rtcpConn != nil {
			rtcpConn.Close()
		}
		return nil, err
	}
	return src, nil
}

// Next implements frame.Source.
func (s *RTPSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if data, ok := s.queue.TryDequeue(); ok {
			return data, nil
		}

		select {
		case <-s.ended:
			if s.queue.Depth() > 0 {
				// Spilled frames are still on their way to memory
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, errors.NewSourceError("RTP stream ended")
		default:
		}

		waitCtx, cancel := context.WithCancel(ctx)
		stop := make(chan struct{})
		go func() {
			select {
			case <-s.ended:
				cancel()
			case <-stop:
			}
		}()
		data, err := s.queue.Dequeue(waitCtx)
		close(stop)
		cancel()

		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, errors.WrapSourceError(ctx.Err(), "waiting for RTP frame")
		}
		if stderrors.Is(err, queue.ErrQueueClosed) {
			return nil, errors.NewSourceError("RTP source closed")
		}
		// Woken by the end of stream, go round again
	}
}

// Name implements frame.Named.
func (s *RTPSource) Name() string {
	return "rtp"
}

func (s *RTPSource) readPackets() {
	defer s.wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Error("Failed to read RTP packet")
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			s.invalid.Add(1)
			s.logger.WithError(err).Debug("Failed to parse RTP packet")
			continue
		}
		s.handlePacket(packet)
	}
}

func (s *RTPSource) handlePacket(p *rtp.Packet) {
	if s.cfg.PayloadType != 0 && p.PayloadType != s.cfg.PayloadType {
		s.invalid.Add(1)
		return
	}
	if !s.haveSSRC.Load() {
		s.ssrc = p.SSRC
		s.haveSSRC.Store(true)
		s.logger.WithField("ssrc", p.SSRC).Info("RTP stream locked")
	} else if p.SSRC != s.ssrc {
		s.invalid.Add(1)
		return
	}
	s.packets.Add(1)

	if s.haveSeq && p.SequenceNumber != s.lastSeq+1 && !s.discarding {
		s.dropFrame(fmt.Sprintf("sequence gap %d -> %d", s.lastSeq, p.SequenceNumber))
	}
	s.lastSeq = p.SequenceNumber
	s.haveSeq = true

	if s.discarding {
		// Resynchronise on the next frame boundary
		if p.Marker {
			s.discarding = false
		}
		return
	}

	s.assembling = append(s.assembling, p.Payload...)
	if !p.Marker {
		return
	}

	frame := s.assembling
	s.assembling = nil

	if err := s.queue.Enqueue(frame); err != nil {
		s.dropped.Add(1)
		metrics.IncrementSourceError("rtp")
		s.logger.WithError(err).Warn("RTP frame dropped")
		return
	}
	s.frames.Add(1)
}

// dropFrame discards the frame in progress and everything up to the next marker.
func (s *RTPSource) dropFrame(reason string) {
	s.dropped.Add(1)
	s.assembling = nil
	s.discarding = true
	s.logger.WithField("reason", reason).Warn("RTP frame dropped after packet loss")
}

func (s *RTPSource) readControl() {
	defer s.wg.Done()

	buf := make([]byte, 1500)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.rtcpConn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := s.rtcpConn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.WithError(err).Debug("Failed to read RTCP packet")
			continue
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.logger.WithError(err).Debug("Failed to parse RTCP packet")
			continue
		}
		for _, p := range packets {
			bye, ok := p.(*rtcp.Goodbye)
			if !ok {
				continue
			}
			for _, src := range bye.Sources {
				if !s.haveSSRC.Load() || src == s.ssrcSnapshot() {
					s.byeSSRC.Store(src)
					s.end(bye.Reason)
				}
			}
		}
	}
}

// ssrcSnapshot returns the locked SSRC. It is only read after haveSSRC is set, which
// happens after the write.
func (s *RTPSource) ssrcSnapshot() uint32 {
	return s.ssrc
}

func (s *RTPSource) end(reason string) {
	s.endOnce.Do(func() {
		s.logger.WithField("reason", reason).Info("RTP stream ended by BYE")
		close(s.ended)
	})
}

// Stats returns receiver counters.
func (s *RTPSource) Stats() RTPStats {
	st := RTPStats{
		Packets:        s.packets.Load(),
		Frames:         s.frames.Load(),
		DroppedFrames:  s.dropped.Load(),
		ByeSSRC:        s.byeSSRC.Load(),
		InvalidPackets: s.invalid.Load(),
		Queue:          s.queue.Stats(),
	}
	if s.haveSSRC.Load() {
		st.SSRC = s.ssrcSnapshot()
	}
	return st
}

// Close stops the receiver and releases its sockets and queue.
func (s *RTPSource) Close() error {
	s.cancel()
	s.conn.Close()
	if s.rtcpConn != nil {
		s.rtcpConn.Close()
	}
	s.wg.Wait()
	return s.queue.Close()
}

// RTPSender packetizes frames into RTP. It is the counterpart of RTPSource for tests
// and for feeding a remote bench.
type RTPSender struct {
	conn        net.Conn
	ssrc        uint32
	payloadType uint8
	mtu         int
	seq         uint16
	timestamp   uint32
}

// NewRTPSender sends on conn with payloads of at most mtu bytes.
func NewRTPSender(conn net.Conn, ssrc uint32, payloadType uint8, mtu int) *RTPSender {
	if mtu <= 0 {
		mtu = 1200
	}
	return &RTPSender{
		conn:        conn,
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
	}
}

// Send writes frame as one or more packets, the last one carrying the marker bit.
func (s *RTPSender) Send(frame []byte) error {
	s.timestamp += 90
	for off := 0; ; off += s.mtu {
		end := off + s.mtu
		if end > len(frame) {
			end = len(frame)
		}
		p := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         end == len(frame),
				PayloadType:    s.payloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: frame[off:end],
		}
		s.seq++

		raw, err := p.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("failed to send RTP packet: %w", err)
		}
		if end == len(frame) {
			return nil
		}
	}
}

// Bye sends an RTCP BYE for the sender's SSRC on conn.
func (s *RTPSender) Bye(conn net.Conn, reason string) error {
	raw, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{
		Sources: []uint32{s.ssrc},
		Reason:  reason,
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal RTCP BYE: %w", err)
	}
	if _, err := conn.Write(raw); err != nil {
		return fmt.Errorf("failed to send RTCP BYE: %w", err)
	}
	return nil
}

// sanitize makes an address usable in a file name.
func sanitize(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
