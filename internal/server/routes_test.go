package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/errors"
	"github.com/zsiec/fcbus/internal/frame"
	"github.com/zsiec/fcbus/internal/harness"
	"github.com/zsiec/fcbus/internal/source"
	"github.com/zsiec/fcbus/pkg/version"
)

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestHandleVersion(t *testing.T) {
	rr := serve(t, newTestServer(t, nil), "GET", "/version")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var info version.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.Equal(t, "fcbus", info.Name)
}

func TestBusRoutesAbsentWithoutBench(t *testing.T) {
	rr := serve(t, newTestServer(t, nil), "GET", "/api/v1/bus")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleBus(t *testing.T) {
	rr := serve(t, newTestServer(t, newTestBench(t)), "GET", "/api/v1/bus")
	require.Equal(t, http.StatusOK, rr.Code)

	var snap harness.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "test-run", snap.RunID)
	assert.Equal(t, "32b", snap.Width)
	assert.Zero(t, snap.Cycles)
}

func TestHandleStep(t *testing.T) {
	server := newTestServer(t, newTestBench(t))

	rr := serve(t, server, "POST", "/api/v1/bus/step")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp StepResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Steps)
	assert.Equal(t, uint64(1), resp.Snapshot.Cycles)

	rr = serve(t, server, "POST", "/api/v1/bus/step?n=20")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, uint64(21), resp.Snapshot.Cycles)
	assert.Greater(t, resp.Snapshot.Frames, uint64(0))
	assert.True(t, resp.Snapshot.Pass)
}

func TestHandleStep_InvalidCount(t *testing.T) {
	server := newTestServer(t, newTestBench(t))

	for _, n := range []string{"0", "-3", "abc", "100001"} {
		rr := serve(t, server, "POST", "/api/v1/bus/step?n="+n)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "n=%s", n)
		assert.Contains(t, rr.Body.String(), string(errors.ErrorTypeValidation))
	}
}

func TestHandleStep_WrongMethod(t *testing.T) {
	rr := serve(t, newTestServer(t, newTestBench(t)), "GET", "/api/v1/bus/step")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleStep_ConflictWhileRunning(t *testing.T) {
	src := source.NewDriverSource(source.NewDefaultLocalClient(), source.HandlerIncrLen, "")
	bench := harness.New(src, harness.Config{
		Class:   bus.MustClass(8),
		ClockHz: 1000,
		Paced:   true,
	}, nil)
	defer bench.Close()
	server := newTestServer(t, bench)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = bench.Run(ctx)
		close(done)
	}()
	require.Eventually(t, bench.Running, time.Second, time.Millisecond)

	rr := serve(t, server, "POST", "/api/v1/bus/step")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), string(errors.ErrorTypeConflict))

	cancel()
	<-done
}

func TestHandleStep_SourceFailure(t *testing.T) {
	bench := harness.New(frame.NewReplay([]byte{1}), harness.Config{Class: bus.MustClass(1)}, nil)
	defer bench.Close()
	server := newTestServer(t, bench)

	rr := serve(t, server, "POST", "/api/v1/bus/step?n=10")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), string(errors.ErrorTypeSource))

	rr = serve(t, server, "GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleBeats(t *testing.T) {
	bench := harness.New(frame.NewReplay([]byte{0xAB, 0xCD, 0xEF}, []byte{1}), harness.Config{
		Class: bus.MustClass(2),
	}, nil)
	defer bench.Close()
	server := newTestServer(t, bench)

	rr := serve(t, server, "GET", "/api/v1/bus/beats")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = serve(t, server, "POST", "/api/v1/bus/step?n=3")
	require.Equal(t, http.StatusOK, rr.Code)

	history := bench.History()
	require.Len(t, history, 2)

	rr = serve(t, server, "GET", "/api/v1/bus/beats")
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Equal(t, history[0].String()+"\n"+history[1].String(), rr.Body.String())
	assert.Contains(t, rr.Body.String(), "dat[15:0] = 0xabcd")

	rr = serve(t, server, "GET", "/api/v1/bus/beats?format=json")
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var beats []bus.Beat
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &beats))
	require.Len(t, beats, 2)
	assert.True(t, beats[0].SOF)
	assert.True(t, beats[1].EOF)
	assert.Equal(t, []byte{0xEF}, beats[1].Bytes())
}

func TestNotFound(t *testing.T) {
	rr := serve(t, newTestServer(t, nil), "GET", "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), string(errors.ErrorTypeNotFound))
}
