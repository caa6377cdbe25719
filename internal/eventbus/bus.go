// Package eventbus dispatches typed domain messages to registered handler
// kinds on a bounded worker pool.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Auros/VRAtlas.API-sub000/internal/domain"
	"github.com/Auros/VRAtlas.API-sub000/internal/logger"
	"github.com/Auros/VRAtlas.API-sub000/internal/store"
)

var (
	// ErrBufferFull is returned when the buffer stayed full for the emit timeout.
	ErrBufferFull = errors.New("eventbus: buffer full")

	// ErrClosed is returned by Publish once the bus has shut down.
	ErrClosed = errors.New("eventbus: closed")
)

const (
	DefaultBufferSize   = 1024
	DefaultWorkers      = 4
	DefaultEmitTimeout  = 5 * time.Second
	DefaultDrainTimeout = 30 * time.Second
)

// MetricsSink records bus metrics. All methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	BufferSaturationUpdate(saturation float64)
	EmitError()
	HandlerCompleted(message, handler, outcome string, duration time.Duration)
}

// PanicError wraps a value recovered from a handler.
type PanicError struct {
	Panic any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic caught: %v", e.Panic)
}

type Option func(*Bus)

func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithEmitTimeout sets how long Publish waits for buffer space.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.emitTimeout = d
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.drainTimeout = d
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(b *Bus) {
		b.metrics = sink
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// Bus is an in-process publish/subscribe bus. Publish never runs handlers
// inline and never reports handler errors.
type Bus struct {
	registry *Registry
	opener   store.Opener
	logger   zerolog.Logger
	metrics  MetricsSink // optional, nil = disabled

	bufferSize   int
	workers      int
	emitTimeout  time.Duration
	drainTimeout time.Duration

	ch        chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

func New(registry *Registry, opener store.Opener, opts ...Option) *Bus {
	b := &Bus{
		registry:     registry,
		opener:       opener,
		logger:       zerolog.Nop(),
		bufferSize:   DefaultBufferSize,
		workers:      DefaultWorkers,
		emitTimeout:  DefaultEmitTimeout,
		drainTimeout: DefaultDrainTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "eventbus").Logger()
	b.ch = make(chan domain.Message, b.bufferSize)

	if b.metrics != nil {
		b.metrics.BufferCapacitySet(b.bufferSize)
	}
	return b
}

// Publish enqueues msg for asynchronous dispatch. Messages without any
// registered handler kind are discarded.
func (b *Bus) Publish(ctx context.Context, msg domain.Message) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	if len(b.registry.lookup(msg.MessageType())) == 0 {
		b.logger.Debug().Str("message", msg.MessageType()).Msg("no handlers registered, discarded")
		return nil
	}

	// Buffer space wins over a finished caller context.
	select {
	case b.ch <- msg:
		b.updateBufferMetrics()
		return nil
	default:
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- msg:
		b.updateBufferMetrics()
		return nil
	case <-timer.C:
		b.logger.Warn().Str("message", msg.MessageType()).Msg("buffer full, message dropped")
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) updateBufferMetrics() {
	if b.metrics == nil {
		return
	}
	size := len(b.ch)
	b.metrics.BufferSizeUpdate(size)
	b.metrics.BufferSaturationUpdate(float64(size) / float64(b.bufferSize))
}

// Run starts the workers and blocks until ctx is cancelled. ctx only stops
// the workers' loops: dispatches run on a context that outlives it until the
// drain timeout has elapsed, so in-flight handlers and buffered messages
// finish under the same deadline. Publish then returns ErrClosed.
func (b *Bus) Run(ctx context.Context) error {
	dispatchCtx, cancelDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDispatch()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(b.drainTimeout, cancelDispatch)
	})
	defer stop()

	var g errgroup.Group
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			b.work(ctx, dispatchCtx)
			return nil
		})
	}
	_ = g.Wait()

	b.drain(dispatchCtx)
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

func (b *Bus) work(ctx, dispatchCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.ch:
			b.updateBufferMetrics()
			_ = b.Dispatch(dispatchCtx, msg)
		}
	}
}

// drain dispatches what is left in the buffer, including messages
// published by handlers during the drain.
func (b *Bus) drain(ctx context.Context) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			b.logger.Warn().Int("processed", count).Int("remaining", len(b.ch)).Msg("drain timeout")
			return
		case msg := <-b.ch:
			_ = b.Dispatch(ctx, msg)
			count++
		default:
			if count > 0 {
				b.logger.Info().Int("processed", count).Msg("drain complete")
			}
			return
		}
	}
}

// Dispatch runs every handler kind registered for msg, in registration
// order, inside one unit of work. The first failure or panic aborts the
// remaining kinds of this dispatch and is returned after being logged.
func (b *Bus) Dispatch(ctx context.Context, msg domain.Message) error {
	kinds := b.registry.lookup(msg.MessageType())
	if len(kinds) == 0 {
		return nil
	}

	uow, err := OpenUnitOfWork(ctx, b.opener, b.logger, b)
	if err != nil {
		logger.Critical(&b.logger).Err(err).Str("message", msg.MessageType()).Msg("dispatch aborted")
		return err
	}
	defer func() {
		if err := uow.Close(); err != nil {
			uow.Logger.Warn().Err(err).Msg("close session")
		}
	}()
	uow.Logger = uow.Logger.With().Str("message", msg.MessageType()).Logger()

	for _, k := range kinds {
		start := time.Now()
		err := invoke(ctx, k, uow, msg)
		duration := time.Since(start)

		if err != nil {
			outcome := "error"
			var panicErr *PanicError
			if errors.As(err, &panicErr) {
				outcome = "panic"
			}
			b.recordHandler(msg, k.name, outcome, duration)

			logger.Critical(&uow.Logger).
				Err(err).
				Str("handler", k.name).
				Msg("handler failed, remaining handlers skipped")
			return fmt.Errorf("handler %s: %w", k.name, err)
		}
		b.recordHandler(msg, k.name, "success", duration)
	}
	return nil
}

func (b *Bus) recordHandler(msg domain.Message, handler, outcome string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.HandlerCompleted(msg.MessageType(), handler, outcome, d)
	}
}

func invoke(ctx context.Context, k kind, uow *UnitOfWork, msg domain.Message) error {
	return Recover(func() error { return k.invoke(ctx, uow, msg) })
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, 64<<10)
			stack = stack[:runtime.Stack(stack, false)]
			err = &PanicError{Panic: r, Stack: stack}
		}
	}()
	return fn()
}
