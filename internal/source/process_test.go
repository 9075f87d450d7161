package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/fcbus/internal/errors"
)

const helperEnv = "FCBUS_TEST_DRIVER"

// TestHelperDriverProcess is not a real test: it is the driver executable started by
// the process tests.
func TestHelperDriverProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	switch mode {
	case "serve":
		_ = ServeDriver(context.Background(), os.Stdin, os.Stdout, NewDefaultLocalClient())
	case "exit":
		sc := bufio.NewScanner(os.Stdin)
		sc.Scan()
		os.Exit(3)
	case "hang":
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
		}
	}
	os.Exit(0)
}

func startHelper(t *testing.T, mode string) *ProcessClient {
	t.Helper()

	p, err := StartProcess(context.Background(), ProcessConfig{
		Path:        os.Args[0],
		Args:        []string{"-test.run=^TestHelperDriverProcess$"},
		Env:         []string{helperEnv + "=" + mode},
		StopTimeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestProcessClient_Serve(t *testing.T) {
	p := startHelper(t, "serve")
	defer p.Close()

	src := NewDriverSource(p, HandlerDot3IncrLen, "")
	for i := 0; i < 3; i++ {
		frame, err := src.Next(context.Background())
		require.NoError(t, err)
		assert.Len(t, frame, 64+i)
	}
}

func TestProcessClient_HandlerErrorIsNotSticky(t *testing.T) {
	p := startHelper(t, "serve")
	defer p.Close()

	_, err := p.Request(context.Background(), "no_such_handler", "")
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
	assert.Contains(t, err.Error(), "no_such_handler")

	resp, err := p.Request(context.Background(), HandlerIncrLen, "")
	require.NoError(t, err)
	frame, err := DecodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, frame)
}

func TestProcessClient_ExitIsSticky(t *testing.T) {
	p := startHelper(t, "exit")

	_, err := p.Request(context.Background(), HandlerIncrLen, "")
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))

	_, err2 := p.Request(context.Background(), HandlerIncrLen, "")
	assert.Equal(t, err, err2, "a broken driver stays broken")

	assert.Error(t, p.Close(), "exit status 3 is reported")
}

func TestProcessClient_ContextAbandonsRequest(t *testing.T) {
	p := startHelper(t, "hang")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Request(ctx, HandlerIncrLen, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	_, err = p.Request(context.Background(), HandlerIncrLen, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartProcess_MissingExecutable(t *testing.T) {
	_, err := StartProcess(context.Background(), ProcessConfig{Path: "/nonexistent/fcbus-driver"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsSourceError(err))
}

func TestServeDriver(t *testing.T) {
	in := strings.Join([]string{
		`{"handler": "incr_len", "request": ""}`,
		`not json`,
		`{"handler": "unknown", "request": ""}`,
		`{"handler": "incr_len", "request": ""}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, ServeDriver(context.Background(), strings.NewReader(in), &out, NewDefaultLocalClient()))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	frame, err := DecodeResponse(lines[0])
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, frame)

	for _, line := range lines[1:3] {
		var de driverError
		require.NoError(t, json.Unmarshal([]byte(line), &de))
		assert.NotEmpty(t, de.Error)
	}

	frame, err = DecodeResponse(lines[3])
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, frame)
}
