package shutdown

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// Component names as they appear in shutdown logs.
const (
	NameAPIServer    = "api-server"
	NameEventStreams = "event-streams"
	NameCleanup      = "cleanup"
	NameStore        = "store"
)

// APIServerComponent stops the execution API. In-flight executions finish
// under the shutdown deadline; once it passes, connections are dropped.
type APIServerComponent struct {
	server *http.Server
}

// NewAPIServerComponent creates the API server shutdown component.
func NewAPIServerComponent(server *http.Server) *APIServerComponent {
	return &APIServerComponent{server: server}
}

// Name returns the component name.
func (c *APIServerComponent) Name() string {
	return NameAPIServer
}

// Shutdown stops accepting requests and waits for running ones.
func (c *APIServerComponent) Shutdown(ctx context.Context) error {
	c.server.SetKeepAlivesEnabled(false)
	err := c.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if cerr := c.server.Close(); cerr != nil {
			return errors.Join(err, cerr)
		}
	}
	return err
}

// StreamCloser ends every open execution event stream.
type StreamCloser interface {
	Close()
}

// EventStreamComponent closes websocket event streams. The API server
// cannot wait on them because their connections are hijacked.
type EventStreamComponent struct {
	streams StreamCloser
}

// NewEventStreamComponent creates the event stream shutdown component.
func NewEventStreamComponent(streams StreamCloser) *EventStreamComponent {
	return &EventStreamComponent{streams: streams}
}

// Name returns the component name.
func (c *EventStreamComponent) Name() string {
	return NameEventStreams
}

// Shutdown closes all subscriptions.
func (c *EventStreamComponent) Shutdown(ctx context.Context) error {
	c.streams.Close()
	return nil
}

// Drainer finishes queued work before returning.
type Drainer interface {
	Shutdown(ctx context.Context) error
}

// CleanupDrainComponent runs pending action deletions now instead of
// leaving the actions deployed.
type CleanupDrainComponent struct {
	drainer Drainer
}

// NewCleanupDrainComponent creates the cleanup drain shutdown component.
func NewCleanupDrainComponent(d Drainer) *CleanupDrainComponent {
	return &CleanupDrainComponent{drainer: d}
}

// Name returns the component name.
func (c *CleanupDrainComponent) Name() string {
	return NameCleanup
}

// Shutdown drains pending deletions under the shutdown deadline.
func (c *CleanupDrainComponent) Shutdown(ctx context.Context) error {
	return c.drainer.Shutdown(ctx)
}

// StoreComponent closes the function and execution store.
type StoreComponent struct {
	store io.Closer
}

// NewStoreComponent creates the store shutdown component.
func NewStoreComponent(store io.Closer) *StoreComponent {
	return &StoreComponent{store: store}
}

// Name returns the component name.
func (c *StoreComponent) Name() string {
	return NameStore
}

// Shutdown closes the store.
func (c *StoreComponent) Shutdown(ctx context.Context) error {
	return c.store.Close()
}
