package source

import (
	"bufio"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	gosrt "github.com/datarhei/gosrt"

	"github.com/zsiec/fcbus/internal/errors"
)

// MaxStreamFrame bounds one frame read from a stream.
const MaxStreamFrame = 1 << 20

// srtPayloadSize is the SRT live-mode payload size.
const srtPayloadSize = 1316

// StreamSource reads frames from a byte stream, each one a uint32 big-endian length
// followed by that many bytes.
type StreamSource struct {
	name string
	rc   io.ReadCloser
	br   *bufio.Reader

	mu sync.Mutex
}

// NewStreamSource reads frames from rc. The source owns rc.
func NewStreamSource(name string, rc io.ReadCloser) *StreamSource {
	return &StreamSource{
		name: name,
		rc:   rc,
		br:   bufio.NewReaderSize(rc, 64*1024),
	}
}

// Next implements frame.Source. A read that has started is not interrupted by ctx;
// closing the source unblocks it.
func (s *StreamSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapSourceError(err, "waiting for stream frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var length uint32
	if err := binary.Read(s.br, binary.BigEndian, &length); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, errors.NewSourceError(fmt.Sprintf("stream %s ended", s.name))
		}
		return nil, errors.WrapSourceError(err, fmt.Sprintf("failed to read frame length from %s", s.name))
	}
	if length > MaxStreamFrame {
		return nil, errors.NewSourceError(fmt.Sprintf("frame of %d bytes on %s exceeds %d", length, s.name, MaxStreamFrame))
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(s.br, data); err != nil {
		return nil, errors.WrapSourceError(err, fmt.Sprintf("truncated frame on %s", s.name))
	}
	return data, nil
}

// Name implements frame.Named.
func (s *StreamSource) Name() string {
	return s.name
}

// Close closes the underlying stream.
func (s *StreamSource) Close() error {
	return s.rc.Close()
}

// FrameWriter writes length-prefixed frames in writes of at most chunk bytes.
type FrameWriter struct {
	w     io.Writer
	chunk int
	buf   []byte
}

// NewFrameWriter wraps w. A chunk of 0 writes each frame in one call.
func NewFrameWriter(w io.Writer, chunk int) *FrameWriter {
	return &FrameWriter{w: w, chunk: chunk}
}

// WriteFrame writes one frame.
func (f *FrameWriter) WriteFrame(frame []byte) error {
	if len(frame) > MaxStreamFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(frame), MaxStreamFrame)
	}

	f.buf = binary.BigEndian.AppendUint32(f.buf[:0], uint32(len(frame)))
	f.buf = append(f.buf, frame...)

	for data := f.buf; len(data) > 0; {
		n := len(data)
		if f.chunk > 0 && n > f.chunk {
			n = f.chunk
		}
		if _, err := f.w.Write(data[:n]); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// SRTOptions configures an SRT caller.
type SRTOptions struct {
	StreamID   string
	Passphrase string
}

// DialSRT connects to an SRT listener and reads frames from it.
func DialSRT(addr string, opts SRTOptions) (*StreamSource, error) {
	conn, err := dialSRT(addr, opts)
	if err != nil {
		return nil, err
	}
	return NewStreamSource("srt://"+addr, conn), nil
}

// DialSRTWriter connects to an SRT listener for sending frames.
func DialSRTWriter(addr string, opts SRTOptions) (*FrameWriter, io.Closer, error) {
	conn, err := dialSRT(addr, opts)
	if err != nil {
		return nil, nil, err
	}
	return NewFrameWriter(conn, srtPayloadSize), conn, nil
}

func dialSRT(addr string, opts SRTOptions) (gosrt.Conn, error) {
	cfg := gosrt.DefaultConfig()
	cfg.StreamId = opts.StreamID
	if opts.Passphrase != "" {
		cfg.Passphrase = opts.Passphrase
	}

	conn, err := gosrt.Dial("srt", addr, cfg)
	if err != nil {
		return nil, errors.WrapSourceError(err, fmt.Sprintf("failed to connect to srt://%s", addr))
	}
	return conn, nil
}
