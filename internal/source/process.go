package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/logger"
)

// maxLineSize bounds one protocol line; a 64KiB frame encodes to about 400KiB.
const maxLineSize = 1 << 20

// driverRequest is one line sent to a driver process.
type driverRequest struct {
	Handler string `json:"handler"`
	Request string `json:"request"`
}

// driverError is the line a driver sends back when a handler fails.
type driverError struct {
	Error string `json:"error"`
}

// ProcessConfig describes an external driver executable.
type ProcessConfig struct {
	Path        string
	Args        []string
	Env         []string // appended to the current environment
	StopTimeout time.Duration
}

// ProcessClient talks to an external driver process over its stdin and stdout, one
// JSON request line out and one response line back per frame.
type ProcessClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  *bufio.Scanner
	stop   time.Duration
	logger logger.Logger

	mu     sync.Mutex
	broken error
	done   chan struct{}
}

// StartProcess launches the driver. The process is killed when ctx ends.
func StartProcess(ctx context.Context, cfg ProcessConfig, log logger.Logger) (*ProcessClient, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	log = log.WithFields(map[string]interface{}{
		"component": "driver_process",
		"path":      cfg.Path,
	})

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("driver stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("driver stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("driver stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WrapSourceError(err, fmt.Sprintf("failed to start driver %s", cfg.Path))
	}

	stop := cfg.StopTimeout
	if stop <= 0 {
		stop = 5 * time.Second
	}

	lines := bufio.NewScanner(stdout)
	lines.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	p := &ProcessClient{
		cmd:    cmd,
		stdin:  stdin,
		lines:  lines,
		stop:   stop,
		logger: log,
		done:   make(chan struct{}),
	}

	// Driver diagnostics go to the log
	go func() {
		defer close(p.done)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug(sc.Text())
		}
	}()

	log.WithField("pid", cmd.Process.Pid).Info("Driver process started")
	return p, nil
}

// Request implements Client. A failed or cancelled exchange leaves the protocol out
// of step, so every later request fails too.
func (p *ProcessClient) Request(ctx context.Context, handler, request string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken != nil {
		return "", p.broken
	}

	line, err := json.Marshal(driverRequest{Handler: handler, Request: request})
	if err != nil {
		return "", fmt.Errorf("encode driver request: %w", err)
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if _, err := p.stdin.Write(append(line, '\n')); err != nil {
			ch <- result{err: fmt.Errorf("write to driver: %w", err)}
			return
		}
		if !p.lines.Scan() {
			err := p.lines.Err()
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			ch <- result{err: fmt.Errorf("read from driver: %w", err)}
			return
		}
		ch <- result{line: p.lines.Text()}
	}()

	select {
	case <-ctx.Done():
		p.broken = errors.WrapSourceError(ctx.Err(), "driver request abandoned")
		return "", p.broken
	case r := <-ch:
		if r.err != nil {
			p.broken = errors.WrapSourceError(r.err, "driver process failed")
			return "", p.broken
		}
		if strings.HasPrefix(r.line, `{"error"`) {
			var de driverError
			if json.Unmarshal([]byte(r.line), &de) == nil && de.Error != "" {
				return "", errors.NewSourceError(fmt.Sprintf("driver handler %s: %s", handler, de.Error))
			}
		}
		return r.line, nil
	}
}

// Close ends the driver's input and waits for it to exit, killing it after the stop timeout.
func (p *ProcessClient) Close() error {
	_ = p.stdin.Close()

	waitCh := make(chan error, 1)
	go func() {
		<-p.done
		waitCh <- p.cmd.Wait()
	}()

	select {
	case err := <-waitCh:
		p.logger.Info("Driver process exited")
		return err
	case <-time.After(p.stop):
		p.logger.Warn("Driver process did not exit, killing it")
		_ = p.cmd.Process.Kill()
		return <-waitCh
	}
}

// ServeDriver answers driver protocol requests read from r with client, writing one
// response line per request to w. It returns when r is exhausted or ctx ends.
func ServeDriver(ctx context.Context, r io.Reader, w io.Writer, client Client) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	out := bufio.NewWriter(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req driverRequest
		var resp string
		if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
			resp = errorLine(fmt.Errorf("malformed request: %w", err))
		} else if answer, err := client.Request(ctx, req.Handler, req.Request); err != nil {
			resp = errorLine(err)
		} else {
			resp = answer
		}

		if _, err := out.WriteString(resp + "\n"); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return sc.Err()
}

func errorLine(err error) string {
	b, _ := json.Marshal(driverError{Error: err.Error()})
	return string(b)
}
