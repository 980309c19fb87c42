// Package eventloop implements the generic, single-writer message pipeline
// described by the companion agent's concurrency model: sources fan
// messages into a loop, handlers observe each message and may emit further
// messages or spawn asynchronous continuations, and state is mutated
// exactly once per message, after every handler has observed it.
package eventloop

import (
	"context"
	"sync"
	"time"

	"macagent/internal/logging"
)

// Message is the tagged-union member carried through the loop. Kind exists
// so handlers and diagnostics can introspect a message's concrete type
// without importing every producer package; handlers that need the actual
// payload recover it with a type assertion (the "try-get" pattern spec'd
// for the handler/message union).
type Message interface {
	Kind() string
}

// Applier lets a message variant fold itself into the owning state exactly
// once, after every registered handler has observed it. Implemented by
// concrete message types in the packages that produce them (console,
// rcon, demo, steamapi, ...); this package never needs to know the
// concrete state type beyond the generic parameter S.
type Applier[S any] interface {
	Apply(*S)
}

// Source is a non-blocking, pollable producer of messages. Poll must
// return immediately with whatever is currently available (possibly
// nothing) rather than blocking for more.
type Source interface {
	Name() string
	Poll() []Message
}

// Action is what a handler emits for an observed message: either a
// follow-up Message to be re-queued for the next cycle, or a Future that
// runs asynchronously and re-enters the loop as a fresh message once it
// completes. Exactly one of Message/Future should be set.
type Action struct {
	Message Message
	Future  func(context.Context) Message
}

// Handler observes every message delivered to the loop, in registration
// order relative to other handlers, and may react with zero or more
// Actions. Handlers never mutate state directly; Apply does that once,
// after all handlers have run for a given message.
type Handler[S any] interface {
	Handle(state *S, msg Message) []Action
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc[S any] func(state *S, msg Message) []Action

// Handle implements Handler.
func (f HandlerFunc[S]) Handle(state *S, msg Message) []Action { return f(state, msg) }

const (
	spawnedBuffer = 256
	requeueBuffer = 1024
	idleSleep     = 50 * time.Millisecond
)

// Loop is the generic, single-writer scheduler. It owns *S and mutates it
// only on the goroutine that calls Run/ExecuteCycle.
type Loop[S any] struct {
	state *S
	log   *logging.Logger

	mu       sync.Mutex
	sources  []Source
	handlers []Handler[S]

	requeue chan Message
	spawned chan Message
}

// New constructs a loop owning state. log may be nil, in which case the
// global logger is used.
func New[S any](state *S, log *logging.Logger) *Loop[S] {
	if log == nil {
		log = logging.L()
	}
	return &Loop[S]{
		state:   state,
		log:     log,
		requeue: make(chan Message, requeueBuffer),
		spawned: make(chan Message, spawnedBuffer),
	}
}

// AddSource registers a pollable source. Not safe to call concurrently
// with Run/ExecuteCycle.
func (l *Loop[S]) AddSource(s Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, s)
}

// AddHandler registers a handler. Handlers run in registration order for
// every message. Not safe to call concurrently with Run/ExecuteCycle.
func (l *Loop[S]) AddHandler(h Handler[S]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// State exposes the owned state for read access outside the loop
// goroutine. Callers outside the loop must treat it as read-only; the
// web API component instead routes mutations through WebRequest messages.
func (l *Loop[S]) State() *S { return l.state }

// Enqueue injects a message directly into the re-queue, bypassing
// sources. Used by composition code (component M) to seed the loop.
func (l *Loop[S]) Enqueue(msg Message) {
	if msg == nil {
		return
	}
	l.requeue <- msg
}

// ExecuteCycle performs exactly one pass of the loop: drain the re-queue,
// poll every source exhaustively, poll finished spawned tasks, then
// dispatch every message in batch order to every handler before applying
// its state update. It reports whether any work was done, so Run knows
// whether to sleep.
func (l *Loop[S]) ExecuteCycle(ctx context.Context) bool {
	batch := l.drainRequeue()

	l.mu.Lock()
	sources := append([]Source(nil), l.sources...)
	handlers := append([]Handler[S](nil), l.handlers...)
	l.mu.Unlock()

	for _, src := range sources {
		for {
			msgs := src.Poll()
			if len(msgs) == 0 {
				break
			}
			batch = append(batch, msgs...)
		}
	}

	batch = append(batch, l.drainSpawned()...)

	if len(batch) == 0 {
		return false
	}

	for _, msg := range batch {
		var actions []Action
		for _, h := range handlers {
			out := h.Handle(l.state, msg)
			actions = append(actions, out...)
		}

		if applier, ok := any(msg).(Applier[S]); ok {
			applier.Apply(l.state)
		}

		for _, act := range actions {
			l.enqueueAction(ctx, act)
		}
	}

	return true
}

// Run drives ExecuteCycle until ctx is cancelled, sleeping idleSleep
// between cycles only when the previous cycle produced no work.
func (l *Loop[S]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !l.ExecuteCycle(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}

func (l *Loop[S]) drainRequeue() []Message {
	var batch []Message
	for {
		select {
		case msg := <-l.requeue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

func (l *Loop[S]) drainSpawned() []Message {
	var batch []Message
	for {
		select {
		case msg := <-l.spawned:
			if msg != nil {
				batch = append(batch, msg)
			}
		default:
			return batch
		}
	}
}

func (l *Loop[S]) enqueueAction(ctx context.Context, act Action) {
	if act.Message != nil {
		select {
		case l.requeue <- act.Message:
		default:
			l.log.Warn("eventloop requeue full, dropping message", logging.String("kind", act.Message.Kind()))
		}
		return
	}
	if act.Future == nil {
		return
	}
	go l.runFuture(ctx, act.Future)
}

func (l *Loop[S]) runFuture(ctx context.Context, future func(context.Context) Message) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("eventloop spawned task panicked", logging.String("recover", toString(r)))
		}
	}()
	msg := future(ctx)
	if msg == nil {
		return
	}
	select {
	case l.spawned <- msg:
	default:
		l.log.Warn("eventloop spawned-result channel full, dropping message", logging.String("kind", msg.Kind()))
	}
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}
