// Package queue buffers whole frames between an asynchronous receiver and the
// synchronous fetch of the streamer, spilling to disk when memory fills up.
package queue

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited indicates the enqueue was rejected by the rate limiter
	ErrRateLimited = errors.New("rate limited")

	// ErrQueueClosed indicates the queue is closed
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull indicates memory is full and no spill directory is configured
	ErrQueueFull = errors.New("queue full")

	// ErrCorruptedData indicates corrupted data in the spill file
	ErrCorruptedData = errors.New("corrupted data in spill file")
)

// maxFrameSize bounds one spilled frame
const maxFrameSize = 10 * 1024 * 1024

// Config configures a FrameQueue.
type Config struct {
	MemSize  int        // Frames held in memory
	SpillDir string     // Directory for the overflow file; empty disables spilling
	Rate     rate.Limit // Max enqueues per second; 0 means unlimited
	Burst    int
}

// FrameQueue is a FIFO of frames held in memory with a length-prefixed overflow file.
// Once anything has spilled, later frames spill too until the backlog drains, so order
// is preserved.
type FrameQueue struct {
	name string

	// In-memory channel queue
	memQueue chan []byte
	memSize  int

	// Disk overflow
	spillPath  string
	diskFile   *os.File
	diskWriter *bufio.Writer
	readFile   *os.File
	readOffset int64
	diskMu     sync.Mutex

	// Counters
	depth     atomic.Int64 // frames anywhere in the queue
	memCount  atomic.Int64 // frames in memQueue
	spilled   atomic.Int64 // frames on disk or held by the pump
	diskBytes atomic.Int64

	rateLimiter *rate.Limiter

	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// New creates a frame queue.
func New(name string, cfg Config) (*FrameQueue, error) {
	if cfg.MemSize <= 0 {
		cfg.MemSize = 64
	}

	q := &FrameQueue{
		name:     name,
		memQueue: make(chan []byte, cfg.MemSize),
		memSize:  cfg.MemSize,
		closeCh:  make(chan struct{}),
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		q.rateLimiter = rate.NewLimiter(cfg.Rate, burst)
	}

	if cfg.SpillDir != "" {
		if err := q.openSpill(cfg.SpillDir); err != nil {
			return nil, err
		}
		// The pump is stopped through closeCh and awaited in Close
		q.wg.Add(1)
		go q.diskToMemoryPump()
	}

	return q, nil
}

func (q *FrameQueue) openSpill(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create spill directory: %w", err)
	}

	q.spillPath = filepath.Join(dir, q.name+".spill")
	file, err := os.OpenFile(q.spillPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}
	readFile, err := os.OpenFile(q.spillPath, os.O_RDONLY, 0644)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to open spill file for reading: %w", err)
	}

	q.diskFile = file
	q.diskWriter = bufio.NewWriterSize(file, 64*1024)
	q.readFile = readFile
	return nil
}

// Enqueue appends a copy of frame.
func (q *FrameQueue) Enqueue(frame []byte) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	if q.rateLimiter != nil && !q.rateLimiter.Allow() {
		return ErrRateLimited
	}

	data := make([]byte, len(frame))
	copy(data, frame)

	if q.spilled.Load() == 0 {
		select {
		case q.memQueue <- data:
			q.depth.Add(1)
			q.memCount.Add(1)
			return nil
		default:
		}
	}

	if q.diskFile == nil {
		return ErrQueueFull
	}
	return q.writeToDisk(data)
}

// writeToDisk appends one length-prefixed frame to the spill file
func (q *FrameQueue) writeToDisk(data []byte) error {
	q.diskMu.Lock()
	defer q.diskMu.Unlock()

	if err := binary.Write(q.diskWriter, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if _, err := q.diskWriter.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	// Flush so the pump sees the whole record
	if err := q.diskWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	q.spilled.Add(1)
	q.depth.Add(1)
	q.diskBytes.Add(int64(len(data) + 4))
	return nil
}

// Dequeue removes the oldest frame, blocking until one is available, ctx ends, or the
// queue is closed.
func (q *FrameQueue) Dequeue(ctx context.Context) ([]byte, error) {
	select {
	case data := <-q.memQueue:
		q.taken()
		return data, nil
	default:
	}
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}

	select {
	case data := <-q.memQueue:
		q.taken()
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closeCh:
		select {
		case data := <-q.memQueue:
			q.taken()
			return data, nil
		default:
			return nil, ErrQueueClosed
		}
	}
}

// TryDequeue removes the oldest frame if one is in memory.
func (q *FrameQueue) TryDequeue() ([]byte, bool) {
	select {
	case data := <-q.memQueue:
		q.taken()
		return data, true
	default:
		return nil, false
	}
}

func (q *FrameQueue) taken() {
	q.depth.Add(-1)
	q.memCount.Add(-1)
}

// diskToMemoryPump moves spilled frames into memory as space frees up.
func (q *FrameQueue) diskToMemoryPump() {
	defer q.wg.Done()

	for {
		select {
		case <-q.closeCh:
			return
		default:
		}

		if q.diskBytes.Load() == 0 {
			// Nothing spilled, wait
			timer := time.NewTimer(10 * time.Millisecond)
			select {
			case <-q.closeCh:
				timer.Stop()
				return
			case <-timer.C:
				continue
			}
		}

		data, err := q.readFromDisk()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				// Other error, wait and retry
				time.Sleep(10 * time.Millisecond)
				continue
			}
			timer := time.NewTimer(50 * time.Millisecond)
			select {
			case <-q.closeCh:
				timer.Stop()
				return
			case <-timer.C:
				continue
			}
		}

		// Blocks until memory has room
		select {
		case q.memQueue <- data:
			q.memCount.Add(1)
			q.spilled.Add(-1)
		case <-q.closeCh:
			return
		}
	}
}

// readFromDisk reads the next spilled frame
func (q *FrameQueue) readFromDisk() ([]byte, error) {
	q.diskMu.Lock()
	defer q.diskMu.Unlock()

	info, err := q.diskFile.Stat()
	if err != nil {
		return nil, err
	}
	if q.readOffset >= info.Size() {
		return nil, io.EOF
	}

	if _, err := q.readFile.Seek(q.readOffset, io.SeekStart); err != nil {
		return nil, err
	}

	var length uint32
	if err := binary.Read(q.readFile, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxFrameSize {
		return nil, ErrCorruptedData
	}
	if q.readOffset+4+int64(length) > info.Size() {
		// Record not fully written yet
		return nil, io.EOF
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(q.readFile, data); err != nil {
		return nil, err
	}

	q.readOffset += int64(4 + length)
	q.diskBytes.Add(-int64(4 + length))
	return data, nil
}

// Depth returns the number of queued frames.
func (q *FrameQueue) Depth() int64 {
	return q.depth.Load()
}

// Pressure returns memory occupancy in [0,1], plus spilled bytes per 100MB beyond that.
func (q *FrameQueue) Pressure() float64 {
	memPressure := float64(q.memCount.Load()) / float64(q.memSize)
	if b := q.diskBytes.Load(); b > 0 {
		return memPressure + float64(b)/float64(100*1024*1024)
	}
	return memPressure
}

// Close stops the pump and removes the spill file. Queued frames are dropped.
func (q *FrameQueue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return errors.New("queue already closed")
	}

	close(q.closeCh)
	q.wg.Wait()

	if q.diskFile == nil {
		return nil
	}

	var errs []error
	q.diskMu.Lock()
	if err := q.diskFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close spill file: %w", err))
	}
	if err := q.readFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close spill reader: %w", err))
	}
	q.diskMu.Unlock()

	if err := os.Remove(q.spillPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove spill file: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// Stats returns queue statistics
func (q *FrameQueue) Stats() Stats {
	return Stats{
		Name:        q.name,
		Depth:       q.depth.Load(),
		MemoryItems: q.memCount.Load(),
		Spilled:     q.spilled.Load(),
		DiskBytes:   q.diskBytes.Load(),
		Pressure:    q.Pressure(),
	}
}

// Stats holds queue statistics
type Stats struct {
	Name        string  `json:"name"`
	Depth       int64   `json:"depth"`
	MemoryItems int64   `json:"memory_items"`
	Spilled     int64   `json:"spilled"`
	DiskBytes   int64   `json:"disk_bytes"`
	Pressure    float64 `json:"pressure"`
}
