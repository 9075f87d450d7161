package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/fcbus/internal/errors"
)

// LocalClient is an in-process driver: requests are dispatched to registered handlers.
type LocalClient struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewLocalClient creates a client with no handlers.
func NewLocalClient() *LocalClient {
	return &LocalClient{handlers: make(map[string]HandlerFunc)}
}

// NewDefaultLocalClient creates a client with the built-in generators registered.
func NewDefaultLocalClient() *LocalClient {
	c := NewLocalClient()
	c.Register(HandlerDot3IncrLen, NewDot3IncrLen().Handle)
	c.Register(HandlerIncrLen, NewIncrLen(1).Handle)
	return c
}

// Register adds or replaces a handler.
func (c *LocalClient) Register(name string, h HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// Handlers returns the registered handler names in sorted order.
func (c *LocalClient) Handlers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Request implements Client.
func (c *LocalClient) Request(ctx context.Context, handler, request string) (string, error) {
	c.mu.RLock()
	h, ok := c.handlers[handler]
	c.mu.RUnlock()

	if !ok {
		return "", errors.NewSourceError(fmt.Sprintf("no driver handler named %q", handler))
	}
	return h(ctx, request)
}
