// Package source supplies frames to the streamer: the driver request/response protocol
// and its clients, built-in frame generators, and network receivers.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zsiec/fcbus/internal/errors"
)

// Client sends one request to a named handler of a frame driver and returns its
// JSON response.
type Client interface {
	Request(ctx context.Context, handler, request string) (string, error)
}

// HandlerFunc answers a driver request.
type HandlerFunc func(ctx context.Context, request string) (string, error)

// response is the driver's answer to a frame request.
type response struct {
	FrameLen json.RawMessage `json:"frame_len"`
	Frame    []string        `json:"frame"`
}

// DecodeResponse parses a driver response of the form
// {"frame_len": N, "frame": ["XX", ...]} into N frame bytes. Bytes beyond frame_len
// are ignored. Any parse failure is a source error.
func DecodeResponse(data string) ([]byte, error) {
	var resp response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, errors.WrapSourceError(err, "malformed driver response")
	}
	if len(resp.FrameLen) == 0 {
		return nil, errors.NewSourceError("driver response has no frame_len")
	}

	raw := strings.Trim(string(resp.FrameLen), `"`)
	n, err := strconv.ParseUint(raw, 10, 31)
	if err != nil {
		return nil, errors.WrapSourceError(err, fmt.Sprintf("frame_len %s is not an unsigned integer", resp.FrameLen))
	}
	if uint64(len(resp.Frame)) < n {
		return nil, errors.NewSourceError(fmt.Sprintf("driver response has %d bytes, frame_len is %d", len(resp.Frame), n)).
			WithDetails(map[string]interface{}{"frame_len": n, "bytes": len(resp.Frame)})
	}

	frame := make([]byte, n)
	for i := range frame {
		s := strings.TrimPrefix(strings.TrimPrefix(resp.Frame[i], "0x"), "0X")
		v, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return nil, errors.WrapSourceError(err, fmt.Sprintf("frame byte %d (%q) is not a hex byte", i, resp.Frame[i]))
		}
		frame[i] = byte(v)
	}
	return frame, nil
}

// EncodeResponse renders frame in the driver response format.
func EncodeResponse(frame []byte) string {
	var sb strings.Builder
	sb.Grow(32 + 5*len(frame))
	fmt.Fprintf(&sb, `{"frame_len": %d, "frame": [`, len(frame))
	for i, b := range frame {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, `"%02X"`, b)
	}
	sb.WriteString("]}")
	return sb.String()
}

// DriverSource is a frame.Source that asks a driver client for every frame.
type DriverSource struct {
	client  Client
	handler string
	request string
}

// NewDriverSource creates a source calling handler on client with a fixed request payload.
func NewDriverSource(client Client, handler, request string) *DriverSource {
	return &DriverSource{
		client:  client,
		handler: handler,
		request: request,
	}
}

// Next implements frame.Source.
func (d *DriverSource) Next(ctx context.Context) ([]byte, error) {
	resp, err := d.client.Request(ctx, d.handler, d.request)
	if err != nil {
		if errors.IsSourceError(err) {
			return nil, err
		}
		return nil, errors.WrapSourceError(err, fmt.Sprintf("driver request to %s failed", d.handler))
	}
	return DecodeResponse(resp)
}

// Name implements frame.Named.
func (d *DriverSource) Name() string {
	return d.handler
}
