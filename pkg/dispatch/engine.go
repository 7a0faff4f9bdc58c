// Package dispatch turns inbound chat text into exactly one reply (or one
// progress indicator plus an upload) per message.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mehranbot/pkg/bus"
	"mehranbot/pkg/cache"
	"mehranbot/pkg/failure"
	"mehranbot/pkg/logger"
	"mehranbot/pkg/media"
	"mehranbot/pkg/price"
	"mehranbot/pkg/router"
)

const (
	DefaultWorkers           = 8
	defaultLookupConcurrency = 4
	replyTimeout             = 15 * time.Second

	unknownCommandText = "Sorry, I didn't understand that command. Try /help."
)

// LLM answers free-text prompts.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// MediaPipeline downloads and re-uploads remote media.
type MediaPipeline interface {
	FetchAndDeliver(ctx context.Context, req media.Request, progress media.Progress, deliver media.DeliverFunc) media.Outcome
}

// Deps are the engine's collaborators. Nil LLM or Media disable the
// matching commands with an "unavailable" reply.
type Deps struct {
	Prices price.Fetcher
	LLM    LLM
	Media  MediaPipeline
	Cache  *cache.Cache[float64]
	Log    *slog.Logger
	Bus    *bus.MessageBus
}

// Options tune routing and fan-out.
type Options struct {
	Prefix            string
	Trigger           rune
	LookupConcurrency int
}

// Engine routes messages to commands, lookups or the plain-text echo.
type Engine struct {
	deps     Deps
	opts     Options
	cache    *cache.Cache[float64]
	registry *Registry
	router   *router.Router
	log      *slog.Logger
	inFlight atomic.Int64
}

// New builds an engine with the built-in command set and seals its registry.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Prices == nil {
		return nil, errors.New("dispatch: price fetcher is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = router.DefaultPrefix
	}
	if opts.Trigger == 0 {
		opts.Trigger = router.DefaultTrigger
	}
	if opts.LookupConcurrency <= 0 {
		opts.LookupConcurrency = defaultLookupConcurrency
	}

	lookupCache := deps.Cache
	if lookupCache == nil {
		var err error
		lookupCache, err = cache.New[float64](cache.Options{})
		if err != nil {
			return nil, fmt.Errorf("dispatch: build lookup cache: %w", err)
		}
	}

	e := &Engine{
		deps:     deps,
		opts:     opts,
		cache:    lookupCache,
		registry: NewRegistry(),
		log:      logger.Component(deps.Log, "dispatch.engine"),
	}

	for _, cmd := range e.builtinCommands() {
		if err := e.registry.Register(cmd); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
	}
	e.registry.Seal()
	e.router = router.New(opts.Prefix, opts.Trigger, e.registry.Known)

	return e, nil
}

// Registry exposes the sealed command set.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CacheStats reports lookup cache hits and misses.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// InFlight returns the number of messages currently being handled.
func (e *Engine) InFlight() int64 {
	return e.inFlight.Load()
}

// Run consumes the bus inbound queue with a fixed pool of workers until ctx
// ends or the bus closes.
func (e *Engine) Run(ctx context.Context, workers int) error {
	if e.deps.Bus == nil {
		return errors.New("dispatch: message bus is required to run workers")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	e.log.Info("Dispatch workers starting", "workers", workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Go(func() {
			for {
				env, ok := e.deps.Bus.ConsumeInbound(ctx)
				if !ok {
					return
				}
				e.OnMessage(ctx, env.Message, env.Reply)
			}
		})
	}
	wg.Wait()

	e.log.Info("Dispatch workers stopped")
	return nil
}

// OnMessage handles one inbound message. It never panics and never returns
// an error: every failure becomes at most one reply.
func (e *Engine) OnMessage(ctx context.Context, msg bus.InboundMessage, replier bus.Replier) {
	if replier == nil || strings.TrimSpace(msg.Content) == "" {
		return
	}

	classification := e.router.ClassifyFor(msg.Content, msg.Metadata[bus.MetaBotName])
	if classification.Kind == router.KindIgnored {
		e.log.Debug("Ignoring command for another bot", "chat_id", msg.ChatID, "addressee", classification.Addressee)
		return
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	requestID := uuid.NewString()
	startedAt := time.Now()

	req := &Request{
		ID:      requestID,
		Message: msg,
		Args:    classification.Args,
		Rest:    classification.Rest,
		replier: replier,
		log: e.log.With(
			logger.KeyRequestID, requestID,
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"route", classification.Kind.String(),
		),
	}
	if classification.Kind == router.KindCommand {
		req.Command, _ = e.registry.Lookup(classification.Name)
	}

	route := routeLabel(classification, req.Command)
	e.publish(ctx, bus.EventMessageReceived, req, map[string]string{
		bus.PayloadRoute:   classification.Kind.String(),
		bus.PayloadCommand: route,
	}, nil)
	req.log.Debug("Message received", "sender_id", msg.SenderID, "command", route)

	err := e.guard(ctx, req, func(ctx context.Context) error {
		return e.route(ctx, classification, req)
	})

	payload := map[string]string{
		bus.PayloadRoute:    classification.Kind.String(),
		bus.PayloadCommand:  route,
		bus.PayloadDuration: strconv.FormatInt(time.Since(startedAt).Milliseconds(), 10),
	}
	if err != nil {
		e.reportFailure(ctx, req, err)
		payload[bus.PayloadKind] = string(failure.KindOf(err))
		e.publish(ctx, bus.EventCommandFailed, req, payload, err)
		return
	}

	e.publish(ctx, bus.EventCommandCompleted, req, payload, nil)
}

func (e *Engine) route(ctx context.Context, classification router.Classification, req *Request) error {
	switch classification.Kind {
	case router.KindCommand:
		cmd := req.Command
		if cmd == nil {
			return req.Reply(ctx, unknownCommandText)
		}
		if missingArgs(cmd, req) {
			return failure.New(failure.KindUserInput, "missing arguments")
		}
		return cmd.Handler(ctx, req)
	case router.KindUnknownCommand:
		req.log.Debug("Unknown command", "name", classification.Name)
		return req.Reply(ctx, unknownCommandText)
	case router.KindLookups:
		return req.Reply(ctx, e.resolveLookups(ctx, req, classification.Keys))
	default:
		return req.Reply(ctx, "You wrote: "+req.Message.Content)
	}
}

func missingArgs(cmd *Command, req *Request) bool {
	if cmd.FreeText {
		return cmd.MinArgs > 0 && req.Rest == ""
	}
	return len(req.Args) < cmd.MinArgs
}

// guard is the failure boundary: panics become internal errors.
func (e *Engine) guard(ctx context.Context, req *Request, fn func(context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			req.log.Error("Handler panicked", "panic", recovered, "stack", string(debug.Stack()))
			err = failure.Wrap(failure.KindInternal, fmt.Errorf("panic: %v", recovered), "handler panicked")
		}
	}()

	return fn(ctx)
}

func (e *Engine) reportFailure(ctx context.Context, req *Request, err error) {
	var notified *notifiedError
	if errors.As(err, &notified) {
		req.log.Info("Command failed after notifying user", "kind", failure.KindOf(err), "error", notified.err)
		return
	}

	kind := failure.KindOf(err)
	text := failure.UserMessage(err)
	switch kind {
	case failure.KindUserInput:
		if req.Command != nil && req.Command.Usage != "" {
			text = req.Command.Usage
		}
		req.log.Debug("Rejected command input", "error", err)
	case failure.KindInternal:
		req.log.Error("Command failed", "kind", kind, "error", err)
	default:
		req.log.Warn("Command failed", "kind", kind, "error", err)
	}

	if sendErr := req.Reply(ctx, text); sendErr != nil {
		req.log.Error("Failed to send failure reply", "error", sendErr)
	}
}

func (e *Engine) publish(ctx context.Context, eventType bus.EventType, req *Request, payload map[string]string, err error) {
	if e.deps.Bus == nil {
		return
	}

	event := bus.Event{
		Type:       eventType,
		Channel:    req.Message.Channel,
		ChatID:     req.Message.ChatID,
		SessionKey: req.Message.SessionKey,
		RequestID:  req.ID,
		Payload:    payload,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.deps.Bus.PublishEvent(context.WithoutCancel(ctx), event)
}

// routeLabel names the route for events and metrics. Aliases collapse to
// the canonical command name.
func routeLabel(classification router.Classification, cmd *Command) string {
	if cmd != nil {
		return cmd.Name
	}
	return classification.Kind.String()
}

// Request is the per-message context handed to command handlers.
type Request struct {
	ID      string
	Message bus.InboundMessage
	Command *Command
	Args    []string
	Rest    string

	replier bus.Replier
	log     *slog.Logger
}

// Reply sends a text reply. Delivery continues briefly past cancellation so
// a user is not left without an answer during shutdown.
func (r *Request) Reply(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
	defer cancel()

	_, err := r.replier.Send(ctx, bus.OutboundMessage{
		Channel:    r.Message.Channel,
		ChatID:     r.Message.ChatID,
		SessionKey: r.Message.SessionKey,
		Content:    text,
	})
	if err != nil {
		return failure.Wrap(failure.KindExternalUnavailable, err, "send reply")
	}
	return nil
}

// notifiedError marks a failure the handler already showed to the user.
type notifiedError struct {
	err error
}

func (e *notifiedError) Error() string { return e.err.Error() }
func (e *notifiedError) Unwrap() error { return e.err }
