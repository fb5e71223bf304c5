package transfer

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/errors"
)

// DefaultMaxPayload is the largest buffer accepted by Send unless configured.
const DefaultMaxPayload = 64 << 20

// Notifier is told when a payload is waiting. The guest implements it and
// answers by retrieving the payload.
type Notifier interface {
	NotifyByteArrayAvailable(ctx context.Context, id int64) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, id int64) error

func (f NotifierFunc) NotifyByteArrayAvailable(ctx context.Context, id int64) error {
	return f(ctx, id)
}

// Payload is a buffer waiting in the slot.
type Payload struct {
	Data []byte
	ID   int64
}

// Channel is a single-slot relay for raw buffers travelling host to guest.
type Channel struct {
	notify  Notifier
	logger  *zap.Logger
	pending *Payload
	maxSize int
	mu      sync.Mutex
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for slot diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxPayload sets the largest buffer Send accepts.
func WithMaxPayload(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// New creates a channel that reports sends to notify.
func New(notify Notifier, opts ...Option) *Channel {
	c := &Channel{
		notify:  notify,
		logger:  zap.NewNop(),
		maxSize: DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send stores data in the slot and notifies the guest that payload id is
// available. An unconsumed payload is replaced.
func (c *Channel) Send(ctx context.Context, id int64, data []byte) error {
	if len(data) > c.maxSize {
		return errors.New(errors.PhaseTransfer, errors.KindInvalidInput).
			Value(len(data)).
			Detail("payload of %d bytes exceeds the %d byte limit", len(data), c.maxSize).
			Build()
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	if c.pending != nil {
		c.logger.Warn("replacing unconsumed byte payload",
			zap.Int64("previous_id", c.pending.ID),
			zap.Int64("id", id))
	}
	c.pending = &Payload{ID: id, Data: buf}
	c.mu.Unlock()

	c.logger.Debug("byte payload queued", zap.Int64("id", id), zap.Int("size", len(buf)))

	if c.notify == nil {
		return nil
	}
	return c.notify.NotifyByteArrayAvailable(ctx, id)
}

// Retrieve returns the waiting buffer and clears the slot. An empty slot
// fails with NoPendingPayload.
func (c *Channel) Retrieve() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil, errors.NoPendingPayload()
	}
	p := c.pending
	c.pending = nil
	return p.Data, nil
}

// Pending reports whether a payload is waiting, and its id.
func (c *Channel) Pending() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return 0, false
	}
	return c.pending.ID, true
}
