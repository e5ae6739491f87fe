package jamf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Static errors for err113 compliance.
var (
	ErrMissingArgument = errors.New("missing named argument")
	ErrArgumentType    = errors.New("named argument has unexpected type")
)

// NamedArgs holds named handler inputs.
type NamedArgs map[string]any

// Args is one dispatch argument: either a single positional value or a set
// of named inputs. Handlers check IsNamed to tell them apart.
type Args[A any] struct {
	value   A
	named   NamedArgs
	isNamed bool
}

// Positional wraps value as a positional argument.
func Positional[A any](value A) Args[A] {
	return Args[A]{value: value}
}

// Named wraps inputs as named arguments.
func Named[A any](inputs NamedArgs) Args[A] {
	return Args[A]{named: inputs, isNamed: true}
}

// PositionalArgs wraps each value as a positional argument.
func PositionalArgs[A any](values ...A) []Args[A] {
	args := make([]Args[A], 0, len(values))
	for _, value := range values {
		args = append(args, Positional(value))
	}

	return args
}

// NamedArgsList wraps each input set as named arguments.
func NamedArgsList[A any](inputs ...NamedArgs) []Args[A] {
	args := make([]Args[A], 0, len(inputs))
	for _, input := range inputs {
		args = append(args, Named[A](input))
	}

	return args
}

// IsNamed reports whether the argument carries named inputs.
func (a Args[A]) IsNamed() bool {
	return a.isNamed
}

// Value returns the positional value, the zero value for named arguments.
func (a Args[A]) Value() A {
	return a.value
}

// Named returns the named inputs, nil for positional arguments.
func (a Args[A]) Named() NamedArgs {
	return a.named
}

// Lookup returns a named input.
func (a Args[A]) Lookup(name string) (any, bool) {
	value, ok := a.named[name]

	return value, ok
}

// Arg returns the named input name converted to T.
func Arg[T, A any](args Args[A], name string) (T, error) {
	var zero T

	raw, ok := args.named[name]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrMissingArgument, name)
	}

	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrArgumentType, name, raw, zero)
	}

	return value, nil
}

// Handler processes one argument.
type Handler[A, R any] func(ctx context.Context, args Args[A]) (R, error)

// DispatchResult is the outcome of one handler invocation, tagged with the
// position of its argument.
type DispatchResult[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the invocation succeeded.
func (r DispatchResult[R]) OK() bool {
	return r.Err == nil
}

// Scheduler runs n invocations with at most limit in flight. Schedule
// returns once every started invocation has returned. Invocations not yet
// started when abort is done are skipped.
type Scheduler interface {
	Schedule(parent, abort context.Context, n, limit int, run func(ctx context.Context, index int))
	Model() string
}

// PoolScheduler runs invocations on a fixed pool of worker goroutines
// pulling indexes from one shared queue. Invocations receive the caller's
// context, so aborting a dispatch never interrupts one that already started.
type PoolScheduler struct{}

// Model implements Scheduler.
func (PoolScheduler) Model() string {
	return "pool"
}

// Schedule implements Scheduler.
func (PoolScheduler) Schedule(parent, abort context.Context, n, limit int, run func(ctx context.Context, index int)) {
	queue := make(chan int)

	var waitGroup sync.WaitGroup

	for range min(limit, n) {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			for index := range queue {
				if abort.Err() != nil {
					continue
				}

				run(parent, index)
			}
		}()
	}

feed:
	for index := range n {
		select {
		case queue <- index:
		case <-abort.Done():
			break feed
		}
	}

	close(queue)
	waitGroup.Wait()
}

// TaskScheduler starts one goroutine per invocation, admitted by a weighted
// semaphore. Invocations receive the abort context and are cancelled at
// their next blocking point when the dispatch aborts.
type TaskScheduler struct{}

// Model implements Scheduler.
func (TaskScheduler) Model() string {
	return "task"
}

// Schedule implements Scheduler.
func (TaskScheduler) Schedule(parent, abort context.Context, n, limit int, run func(ctx context.Context, index int)) {
	sem := semaphore.NewWeighted(int64(limit))

	var waitGroup sync.WaitGroup

	for index := range n {
		err := sem.Acquire(abort, 1)
		if err != nil {
			break
		}

		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()
			defer sem.Release(1)

			run(abort, index)
		}()
	}

	waitGroup.Wait()
}

// Dispatcher fans handler invocations out under a hard concurrency cap.
// Results are always delivered in argument order.
type Dispatcher struct {
	scheduler      Scheduler
	maxConcurrency int
	collectErrors  bool
	logger         Logger
	metrics        *Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchLogger sets the dispatcher's logger.
func WithDispatchLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatchMetrics records in-flight invocations on metrics.
func WithDispatchMetrics(metrics *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a dispatcher using scheduler, capped and configured by session.
func NewDispatcher(scheduler Scheduler, session SessionConfig, opts ...DispatcherOption) *Dispatcher {
	limit := session.MaxConcurrency
	if limit <= 0 {
		limit = DefaultSessionConfig().MaxConcurrency
	}

	dispatcher := &Dispatcher{
		scheduler:      scheduler,
		maxConcurrency: limit,
		collectErrors:  session.CollectErrors,
		logger:         NopLogger{},
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// NewPoolDispatcher creates a dispatcher backed by a worker pool.
func NewPoolDispatcher(session SessionConfig, opts ...DispatcherOption) *Dispatcher {
	return NewDispatcher(PoolScheduler{}, session, opts...)
}

// NewTaskDispatcher creates a dispatcher backed by semaphore-admitted tasks.
func NewTaskDispatcher(session SessionConfig, opts ...DispatcherOption) *Dispatcher {
	return NewDispatcher(TaskScheduler{}, session, opts...)
}

// MaxConcurrency returns the hard cap on in-flight invocations.
func (d *Dispatcher) MaxConcurrency() int {
	return d.maxConcurrency
}

// Model names the scheduling model.
func (d *Dispatcher) Model() string {
	return d.scheduler.Model()
}

// DispatchOption adjusts a single dispatch.
type DispatchOption func(*dispatchOptions)

type dispatchOptions struct {
	maxConcurrency int
	collectErrors  bool
}

// WithMaxConcurrency lowers the concurrency for one dispatch. Values above
// the session's cap are clamped to it.
func WithMaxConcurrency(n int) DispatchOption {
	return func(o *dispatchOptions) {
		if n > 0 && n < o.maxConcurrency {
			o.maxConcurrency = n
		}
	}
}

// WithCollectErrors overrides the session's error policy for one dispatch.
func WithCollectErrors(collect bool) DispatchOption {
	return func(o *dispatchOptions) {
		o.collectErrors = collect
	}
}

func (d *Dispatcher) options(opts []DispatchOption) dispatchOptions {
	options := dispatchOptions{
		maxConcurrency: d.maxConcurrency,
		collectErrors:  d.collectErrors,
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}

// Dispatch runs handler over args and returns one result per argument in
// argument order.
//
// When errors are collected, failures are recorded at their position and the
// returned error is nil. Otherwise the first failure cancels the dispatch;
// the results preceding it are returned together with a *ConcurrencyError.
func Dispatch[A, R any](
	ctx context.Context,
	d *Dispatcher,
	handler Handler[A, R],
	args []Args[A],
	opts ...DispatchOption,
) ([]DispatchResult[R], error) {
	options := d.options(opts)
	results := make([]DispatchResult[R], 0, len(args))

	var dispatchErr error

	runDispatch(ctx, d, handler, args, options, func(result DispatchResult[R]) bool {
		if result.Err != nil && !options.collectErrors {
			dispatchErr = result.Err

			return false
		}

		results = append(results, result)

		return true
	})

	return results, dispatchErr
}

// DispatchStream is the lazy form of Dispatch. Results arrive in argument
// order as soon as they are due; in fail-fast mode the last value carries
// the *ConcurrencyError. Cancel ctx to abandon the stream early.
func DispatchStream[A, R any](
	ctx context.Context,
	d *Dispatcher,
	handler Handler[A, R],
	args []Args[A],
	opts ...DispatchOption,
) <-chan DispatchResult[R] {
	options := d.options(opts)
	out := make(chan DispatchResult[R])

	go func() {
		defer close(out)

		runDispatch(ctx, d, handler, args, options, func(result DispatchResult[R]) bool {
			select {
			case out <- result:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return out
}

// runDispatch schedules the invocations and passes results to emit in
// argument order. emit returning false stops delivery.
//
//nolint:funlen,gocognit // the reorder buffer is easier to follow in one place
func runDispatch[A, R any](
	ctx context.Context,
	d *Dispatcher,
	handler Handler[A, R],
	args []Args[A],
	options dispatchOptions,
	emit func(DispatchResult[R]) bool,
) {
	total := len(args)
	if total == 0 {
		return
	}

	d.logger.Debug("ConcurrentAPIRequest", map[string]interface{}{
		"arguments":       total,
		"max_concurrency": options.maxConcurrency,
		"model":           d.scheduler.Model(),
		"collect_errors":  options.collectErrors,
	})

	abortCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered to total so invocations never block on a slow consumer.
	completed := make(chan DispatchResult[R], total)

	go func() {
		d.scheduler.Schedule(ctx, abortCtx, total, options.maxConcurrency, func(runCtx context.Context, index int) {
			d.metrics.InvocationStarted()
			defer d.metrics.InvocationFinished()

			value, err := handler(runCtx, args[index])

			// Queue the result before cancelling so the failure that triggered
			// cancellation is seen ahead of the cancellations it caused.
			completed <- DispatchResult[R]{Index: index, Value: value, Err: err}

			if err != nil && !options.collectErrors {
				cancel()
			}
		})

		close(completed)
	}()

	pending := make(map[int]DispatchResult[R], options.maxConcurrency)
	next := 0

	var failure *DispatchResult[R]

	flush := func(limit int) bool {
		for next < limit {
			result, ok := pending[next]
			if !ok {
				return true
			}

			delete(pending, next)

			if !emit(result) {
				return false
			}

			next++
		}

		return true
	}

	for result := range completed {
		if result.Err != nil && !options.collectErrors {
			if failure == nil {
				first := result
				failure = &first
			}

			continue
		}

		pending[result.Index] = result

		if failure == nil && !flush(total) {
			cancel()

			return
		}
	}

	if failure != nil {
		if !flush(failure.Index) {
			return
		}

		d.logger.Warn("ConcurrentAPIRequest", map[string]interface{}{
			"index":     failure.Index,
			"error":     failure.Err.Error(),
			"delivered": next,
		})

		emit(DispatchResult[R]{
			Index: failure.Index,
			Err: &ConcurrencyError{
				Index:     failure.Index,
				Cancelled: total - next - 1,
				Err:       failure.Err,
			},
		})

		return
	}

	// Only reachable with gaps when ctx was cancelled before every invocation started.
	if !flush(total) || next == total {
		return
	}

	cause := context.Cause(abortCtx)
	if cause == nil {
		cause = context.Canceled
	}

	if options.collectErrors {
		for ; next < total; next++ {
			result, ok := pending[next]
			if !ok {
				result = DispatchResult[R]{Index: next, Err: cause}
			}

			if !emit(result) {
				return
			}
		}

		return
	}

	emit(DispatchResult[R]{
		Index: next,
		Err:   &ConcurrencyError{Index: next, Cancelled: total - next - 1, Err: cause},
	})
}
