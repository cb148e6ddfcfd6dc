// Package runtime hosts account handlers and executes their invocations and
// the promises they schedule. Every invocation is atomic: state writes and
// attached-value transfers are committed only when the handler returns
// without error. Promises scheduled by an invocation are dispatched after it
// commits and run asynchronously; join members run concurrently and a
// continuation observes their results in creation order. Events raised while
// an invocation runs are held back and reach the sink only once it commits.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"poolescrow/core/events"
	"poolescrow/core/promise"
	"poolescrow/crypto"
)

const tracerName = "poolescrow/core/runtime"

var (
	// ErrUnknownTarget is returned when no handler is registered for the
	// invoked account.
	ErrUnknownTarget = errors.New("runtime: unknown target account")
	// ErrNoInvocation is returned when Schedule is called outside a running
	// invocation.
	ErrNoInvocation = errors.New("runtime: schedule outside invocation")
	// ErrTargetRegistered is returned when a second handler claims an account.
	ErrTargetRegistered = errors.New("runtime: target already registered")
)

// Invocation is one call delivered to a handler.
type Invocation struct {
	Caller   [20]byte
	Target   [20]byte
	Method   string
	Args     []byte
	Attached *uint256.Int
	Gas      promise.Gas
	// Results carries the settled results of the promise a continuation
	// waited on. It is empty for direct calls.
	Results []promise.Result
}

// Handler executes invocations addressed to one account.
type Handler interface {
	Handle(ctx context.Context, inv Invocation) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv Invocation) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, inv Invocation) ([]byte, error) {
	return f(ctx, inv)
}

// Recoverer is implemented by handlers that keep bookkeeping for the
// continuations they schedule. When such a continuation fails and is rolled
// back, Recover runs as its own atomic invocation on the creator's handler.
type Recoverer interface {
	Recover(ctx context.Context, inv Invocation, cause error) error
}

// Store is the transactional state shared by all handlers.
type Store interface {
	Commit() error
	Discard()
}

// Bank moves attached value from caller to target before a handler runs.
type Bank interface {
	Transfer(ctx context.Context, from, to [20]byte, amount *uint256.Int) error
}

// Runtime serialises invocations over a shared store. It is safe for
// concurrent use.
type Runtime struct {
	mu    sync.Mutex
	store Store
	bank  Bank

	hmu      sync.RWMutex
	handlers map[[20]byte]Handler

	emu       sync.Mutex
	sink      events.Emitter
	buffering bool
	buffered  []events.Event

	logger   *slog.Logger
	tracerMu sync.RWMutex
	tracerTP trace.TracerProvider
	nowFn    func() int64
	wg       sync.WaitGroup
}

// New constructs a runtime over store. Attached values are moved with bank.
func New(store Store, bank Bank) *Runtime {
	return &Runtime{
		store:    store,
		bank:     bank,
		handlers: make(map[[20]byte]Handler),
		sink:     events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetLogger configures the structured logger. Nil restores slog.Default.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// SetEmitter configures where committed events are delivered. Passing nil
// resets it to a no-op.
func (r *Runtime) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	r.emu.Lock()
	r.sink = emitter
	r.emu.Unlock()
}

// SetTracerProvider configures the provider invocation spans are started
// from. Nil falls back to the global provider at call time.
func (r *Runtime) SetTracerProvider(tp trace.TracerProvider) {
	r.tracerMu.Lock()
	r.tracerTP = tp
	r.tracerMu.Unlock()
}

func (r *Runtime) tracer() trace.Tracer {
	r.tracerMu.RLock()
	tp := r.tracerTP
	r.tracerMu.RUnlock()
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// Emit implements events.Emitter. Components that raise events during an
// invocation emit through the runtime; the events are delivered after the
// invocation commits and dropped when it is discarded. Events raised outside
// an invocation are delivered immediately.
func (r *Runtime) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	r.emu.Lock()
	if r.buffering {
		r.buffered = append(r.buffered, evt)
		r.emu.Unlock()
		return
	}
	sink := r.sink
	r.emu.Unlock()
	sink.Emit(evt)
}

// hold starts buffering events. The caller holds r.mu.
func (r *Runtime) hold() {
	r.emu.Lock()
	r.buffering = true
	r.buffered = nil
	r.emu.Unlock()
}

// release stops buffering and delivers the held events when deliver is set.
// The caller holds r.mu, which keeps delivery in commit order.
func (r *Runtime) release(deliver bool) {
	r.emu.Lock()
	held := r.buffered
	sink := r.sink
	r.buffering = false
	r.buffered = nil
	r.emu.Unlock()
	if !deliver {
		return
	}
	for _, evt := range held {
		sink.Emit(evt)
	}
}

// SetNowFunc overrides the block clock. Tests use it to move time forward.
func (r *Runtime) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	r.nowFn = now
}

// Now returns the current block timestamp in unix seconds.
func (r *Runtime) Now() int64 { return r.nowFn() }

// Register binds handler to the account.
func (r *Runtime) Register(account [20]byte, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("runtime: nil handler for %s", crypto.AccountAddress(account))
	}
	r.hmu.Lock()
	defer r.hmu.Unlock()
	if _, exists := r.handlers[account]; exists {
		return fmt.Errorf("%w: %s", ErrTargetRegistered, crypto.AccountAddress(account))
	}
	r.handlers[account] = handler
	return nil
}

func (r *Runtime) handler(account [20]byte) (Handler, bool) {
	r.hmu.RLock()
	defer r.hmu.RUnlock()
	h, ok := r.handlers[account]
	return h, ok
}

// Call executes call on behalf of caller and returns the handler output.
// Promises scheduled by the handler start running once the call committed.
func (r *Runtime) Call(ctx context.Context, caller [20]byte, call promise.Call) ([]byte, error) {
	return r.invoke(ctx, Invocation{
		Caller:   caller,
		Target:   call.Target,
		Method:   call.Method,
		Args:     call.Args,
		Attached: call.Attached,
		Gas:      call.Gas,
	})
}

// View runs a read-only call. Any writes the handler makes are discarded and
// promises it schedules are dropped.
func (r *Runtime) View(ctx context.Context, target [20]byte, method string, args []byte) ([]byte, error) {
	h, ok := r.handler(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, crypto.AccountAddress(target))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold()
	defer r.release(false)
	defer r.store.Discard()
	ctx = withFrame(ctx, &frame{target: target})
	return h.Handle(ctx, Invocation{Target: target, Method: method, Args: args, Attached: new(uint256.Int)})
}

// Read runs fn while holding the writer lock so it observes only committed
// state. Writes made by fn are discarded.
func (r *Runtime) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold()
	defer r.release(false)
	defer r.store.Discard()
	return fn(ctx)
}

// Schedule queues p for execution after the current invocation commits. The
// promise runs on behalf of the invoked account.
func (r *Runtime) Schedule(ctx context.Context, p *promise.Promise) error {
	f, ok := frameFrom(ctx)
	if !ok {
		return ErrNoInvocation
	}
	if err := p.Validate(); err != nil {
		return err
	}
	f.scheduled = append(f.scheduled, p)
	return nil
}

// Drain blocks until every dispatched promise has settled or ctx is done.
func (r *Runtime) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) invoke(ctx context.Context, inv Invocation) (out []byte, err error) {
	ctx, span := r.tracer().Start(ctx, "runtime.invoke", trace.WithAttributes(
		attribute.String("escrow.target", crypto.AccountAddress(inv.Target).String()),
		attribute.String("escrow.method", inv.Method),
		attribute.Int("escrow.results", len(inv.Results)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h, ok := r.handler(inv.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, crypto.AccountAddress(inv.Target))
	}
	if inv.Attached == nil {
		inv.Attached = new(uint256.Int)
	}
	f := &frame{target: inv.Target}
	out, err = r.atomic(withFrame(ctx, f), func(ctx context.Context) ([]byte, error) {
		return r.execute(ctx, h, inv)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("escrow.scheduled", len(f.scheduled)))

	for _, p := range f.scheduled {
		r.dispatch(ctx, inv.Target, p)
	}
	return out, nil
}

// atomic runs fn under the writer lock. State and held events are committed
// together when fn succeeds and discarded together otherwise.
func (r *Runtime) atomic(ctx context.Context, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hold()
	out, err := fn(ctx)
	if err == nil {
		err = r.store.Commit()
	}
	if err != nil {
		r.store.Discard()
		r.release(false)
		return nil, err
	}
	r.release(true)
	return out, nil
}

func (r *Runtime) execute(ctx context.Context, h Handler, inv Invocation) ([]byte, error) {
	if r.bank != nil && !inv.Attached.IsZero() {
		if err := r.bank.Transfer(ctx, inv.Caller, inv.Target, inv.Attached); err != nil {
			return nil, fmt.Errorf("runtime: attach value: %w", err)
		}
	}
	return h.Handle(ctx, inv)
}

func (r *Runtime) dispatch(ctx context.Context, creator [20]byte, p *promise.Promise) {
	ctx = context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.resolve(ctx, creator, p)
	}()
}

// resolve runs p and returns the results a continuation of p receives.
func (r *Runtime) resolve(ctx context.Context, creator [20]byte, p *promise.Promise) []promise.Result {
	if p.IsJoin() {
		members := p.Joined()
		settled := make([][]promise.Result, len(members))
		var g errgroup.Group
		for i, member := range members {
			i, member := i, member
			g.Go(func() error {
				settled[i] = r.resolve(ctx, creator, member)
				return nil
			})
		}
		_ = g.Wait()
		var out []promise.Result
		for _, results := range settled {
			out = append(out, results...)
		}
		return out
	}
	var inputs []promise.Result
	if parent := p.Parent(); parent != nil {
		inputs = r.resolve(ctx, creator, parent)
	}
	call, _ := p.Call()
	return []promise.Result{r.settle(ctx, creator, call, inputs, p.Parent() != nil)}
}

func (r *Runtime) settle(ctx context.Context, creator [20]byte, call promise.Call, inputs []promise.Result, continuation bool) promise.Result {
	inv := Invocation{
		Caller:   creator,
		Target:   call.Target,
		Method:   call.Method,
		Args:     call.Args,
		Attached: call.Attached,
		Gas:      call.Gas,
		Results:  inputs,
	}
	out, err := r.invoke(ctx, inv)
	if err != nil {
		r.logger.WarnContext(ctx, "promise call failed",
			slog.String("caller", crypto.AccountAddress(creator).String()),
			slog.String("target", crypto.AccountAddress(call.Target).String()),
			slog.String("method", call.Method),
			slog.Any("error", err))
		if continuation {
			r.reconcile(ctx, creator, inv, err)
		}
		return promise.Failed()
	}
	r.logger.DebugContext(ctx, "promise call settled",
		slog.String("target", crypto.AccountAddress(call.Target).String()),
		slog.String("method", call.Method))
	return promise.Successful(out)
}

// reconcile lets the creator of a failed continuation reconcile its records.
func (r *Runtime) reconcile(ctx context.Context, creator [20]byte, inv Invocation, cause error) {
	h, ok := r.handler(creator)
	if !ok {
		return
	}
	rec, ok := h.(Recoverer)
	if !ok {
		return
	}
	_, err := r.atomic(withFrame(ctx, &frame{target: creator}), func(ctx context.Context) ([]byte, error) {
		return nil, rec.Recover(ctx, inv, cause)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "continuation recovery failed",
			slog.String("account", crypto.AccountAddress(creator).String()),
			slog.String("method", inv.Method),
			slog.Any("error", err))
	}
}

type frame struct {
	target    [20]byte
	scheduled []*promise.Promise
}

type frameKey struct{}

func withFrame(ctx context.Context, f *frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(ctx context.Context) (*frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*frame)
	return f, ok && f != nil
}
