package bus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Bus is the in-process message bus connecting the pipeline stages. All
// topics share one GoChannel pub/sub so events published by one stage are
// delivered to the handlers registered for the next.
type Bus struct {
	pubSub *gochannel.GoChannel
	router *message.Router
	logger *zap.Logger
}

// New creates the bus and its router. Handlers are registered with Handle
// before Run is called. bufferSize bounds how many events a stage may fall
// behind before publishers block.
func New(logger *zap.Logger, bufferSize int) (*Bus, error) {
	wmLogger := zapAdapter{logger: logger}

	if bufferSize <= 0 {
		bufferSize = 16
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(bufferSize),
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create message router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	return &Bus{pubSub: pubSub, router: router, logger: logger}, nil
}

// Publish encodes the payload and publishes it on topic.
func (b *Bus) Publish(topic string, payload interface{}) error {
	msg, err := Marshal(payload)
	if err != nil {
		return err
	}
	if err := b.pubSub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Handle registers a no-publisher handler for a topic.
func (b *Bus) Handle(name, topic string, fn message.NoPublishHandlerFunc) {
	b.router.AddNoPublisherHandler(name, topic, b.pubSub, fn)
}

// Run starts the router and blocks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running returns a channel closed once the router is up. Useful in tests
// to publish only after handlers are subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close shuts down the router and the underlying pub/sub.
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close router: %w", err)
	}
	return b.pubSub.Close()
}

// zapAdapter bridges watermill's logging interface onto zap.
type zapAdapter struct {
	logger *zap.Logger
}

func (a zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

func (a zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Info(msg, zapFields(fields)...)
}

func (a zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debug(msg, zapFields(fields)...)
}

func (a zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{logger: a.logger.With(zapFields(fields)...)}
}

func zapFields(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
