// Package chat drives streamed exchanges with the assistant backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/text"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fwojciec/margin/chat"

// SessionSource supplies the current session snapshot. *auth.Manager
// satisfies it.
type SessionSource interface {
	Session() margin.Session
}

// Conversation owns one MessageLog and runs at most one exchange against it
// at a time.
type Conversation struct {
	sessions   SessionSource
	service    margin.ChatService
	log        *margin.MessageLog
	logger     *zap.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	keepBlanks bool

	exchanges metric.Int64Counter
	chunks    metric.Int64Counter
	bytes     metric.Int64Counter

	mu        sync.Mutex
	status    margin.StreamStatus
	reserved  bool // an exchange is starting but Sending is not yet published
	observers map[int]func(margin.StreamStatus)
	nextID    int
}

// Option configures a [Conversation].
type Option func(*Conversation)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conversation) { c.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Conversation) { c.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Conversation) { c.meter = mp.Meter(instrumentationName) }
}

// WithMessageLog makes the conversation continue an existing log, for
// example one restored from a transcript. The log must have no open message.
func WithMessageLog(l *margin.MessageLog) Option {
	return func(c *Conversation) { c.log = l }
}

// KeepBlankFragments applies whitespace-only fragments to the log instead of
// dropping them.
func KeepBlankFragments() Option {
	return func(c *Conversation) { c.keepBlanks = true }
}

// New creates an idle Conversation with an empty log.
func New(sessions SessionSource, service margin.ChatService, opts ...Option) *Conversation {
	c := &Conversation{
		sessions:  sessions,
		service:   service,
		log:       margin.NewMessageLog(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		observers: make(map[int]func(margin.StreamStatus)),
	}
	for _, o := range opts {
		o(c)
	}
	// Instrument creation only fails on invalid names; the returned
	// instruments are usable no-ops in that case.
	c.exchanges, _ = c.meter.Int64Counter("margin.chat.exchanges",
		metric.WithDescription("Chat exchanges by outcome."))
	c.chunks, _ = c.meter.Int64Counter("margin.chat.chunks",
		metric.WithDescription("Response body chunks received."))
	c.bytes, _ = c.meter.Int64Counter("margin.chat.bytes",
		metric.WithDescription("Response body bytes received."),
		metric.WithUnit("By"))
	return c
}

// Log returns the conversation's message log.
func (c *Conversation) Log() *margin.MessageLog { return c.log }

// Messages returns a snapshot of the conversation.
func (c *Conversation) Messages() []margin.Message { return c.log.Messages() }

// Status returns the current stream status.
func (c *Conversation) Status() margin.StreamStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Subscribe registers fn to receive every stream status transition.
func (c *Conversation) Subscribe(fn func(margin.StreamStatus)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Recover returns a failed conversation to Idle. A partial assistant message
// left by the failed exchange is sealed as interrupted so a new turn can be
// opened. It is a no-op in any other state.
func (c *Conversation) Recover() {
	if c.Status().State != margin.StreamStateFailed {
		return
	}
	// Log observers run on this goroutine, so the log is touched without mu
	// held. Send refuses to start while Failed, so nothing can reopen the
	// log in between.
	c.log.InterruptLast()

	c.mu.Lock()
	if c.status.State != margin.StreamStateFailed {
		c.mu.Unlock()
		return
	}
	c.status = margin.StreamStatus{State: margin.StreamStateIdle}
	c.unlockAndNotify()
}

// Send runs one exchange: it records the user message, issues the request
// with the current session's grant, and streams the reply into the log.
// It returns when the exchange reaches Idle or Failed.
//
// Send fails without contacting the network when the session may not access
// chat (ErrNotReady wrapping ErrUnauthorized) or when another exchange is in
// flight or unrecovered (ErrNotReady).
func (c *Conversation) Send(ctx context.Context, msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("empty message: %w", margin.ErrValidation)
	}

	session := c.sessions.Session()
	if !margin.CanAccess(session) {
		return fmt.Errorf("send while %s: %w: %w", session.State, margin.ErrNotReady, margin.ErrUnauthorized)
	}

	c.mu.Lock()
	switch {
	case c.reserved:
		c.mu.Unlock()
		return fmt.Errorf("send while %s: %w: %w", margin.StreamStateSending, margin.ErrNotReady, margin.ErrAlreadyInProgress)
	case c.status.State == margin.StreamStateIdle:
	case c.status.State == margin.StreamStateFailed:
		c.mu.Unlock()
		return fmt.Errorf("send after failure: %w", margin.ErrNotReady)
	default:
		state := c.status.State
		c.mu.Unlock()
		return fmt.Errorf("send while %s: %w: %w", state, margin.ErrNotReady, margin.ErrAlreadyInProgress)
	}
	c.reserved = true
	c.mu.Unlock()

	// The user message is in the log before anyone sees Sending.
	err := c.log.AppendNew(margin.AuthorUser, msg)
	if err == nil {
		c.log.CompleteLast()
	}
	c.mu.Lock()
	c.reserved = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("send: %w", err)
	}
	c.status = margin.StreamStatus{State: margin.StreamStateSending}
	c.unlockAndNotify()

	ctx, span := c.tracer.Start(ctx, "chat.send",
		trace.WithAttributes(attribute.String("session.state", session.State.String())))
	defer span.End()

	stream, err := c.service.Chat(ctx, margin.ChatRequest{Message: msg, Grant: session.Grant})
	if err != nil {
		return c.fail(ctx, span, c.classify(ctx, err, false))
	}
	defer stream.Close()

	if err := c.log.AppendNew(margin.AuthorAssistant, ""); err != nil {
		return c.fail(ctx, span, err)
	}
	c.setState(margin.StreamStateStreaming)

	dec := text.NewDecoder()
	var received int
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return c.fail(ctx, span, c.classify(ctx, err, true))
		}
		if ctx.Err() != nil {
			return c.fail(ctx, span, c.classify(ctx, ctx.Err(), true))
		}
		if len(chunk) == 0 {
			continue
		}
		received += len(chunk)
		c.chunks.Add(ctx, 1)
		c.bytes.Add(ctx, int64(len(chunk)))
		c.apply(dec.Push(chunk))
	}
	c.apply(dec.Finish())
	c.log.CompleteLast()
	c.setState(margin.StreamStateIdle)

	c.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	span.SetAttributes(attribute.Int("chat.response_bytes", received))
	c.logger.Debug("exchange complete", zap.Int("bytes", received))
	return nil
}

func (c *Conversation) apply(fragment string) {
	if fragment == "" {
		return
	}
	if !c.keepBlanks && strings.TrimSpace(fragment) == "" {
		return
	}
	// The open assistant message belongs to this exchange alone, so the
	// append cannot fail here.
	_ = c.log.AppendToLast(fragment)
}

// classify maps a request or read error to the taxonomy. A done context
// always wins so a cancelled exchange is never reported as a network fault.
func (c *Conversation) classify(ctx context.Context, err error, streaming bool) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", margin.ErrCancelled, ctx.Err())
	}
	var rejected *margin.RequestRejectedError
	if errors.As(err, &rejected) {
		return err
	}
	if streaming {
		return fmt.Errorf("%w: %w", margin.ErrStreamInterrupted, err)
	}
	if errors.Is(err, margin.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", margin.ErrNetwork, err)
}

func (c *Conversation) fail(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	outcome := "failed"
	if errors.Is(err, margin.ErrCancelled) {
		outcome = "cancelled"
	}
	c.exchanges.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	c.logger.Warn("exchange failed", zap.Error(err))

	c.mu.Lock()
	c.status = margin.StreamStatus{State: margin.StreamStateFailed, Err: err}
	c.unlockAndNotify()
	return err
}

func (c *Conversation) setState(s margin.StreamState) {
	c.mu.Lock()
	c.status = margin.StreamStatus{State: s}
	c.unlockAndNotify()
}

// unlockAndNotify must be called with mu held.
func (c *Conversation) unlockAndNotify() {
	status := c.status
	fns := make([]func(margin.StreamStatus), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(status)
	}
}
