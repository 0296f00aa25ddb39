// Package registry discovers and invokes the callable functions a soul's
// module source defines. Descriptors are cached per content hash: souls are
// immutable, so an extraction never goes stale.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
	"github.com/soulstack/soulmesh/metrics"
	"github.com/soulstack/soulmesh/sandbox"
	"github.com/soulstack/soulmesh/schema"
)

// Options configures the registry.
type Options struct {
	// Logger receives call logs. Defaults to NoOp.
	Logger logging.Logger

	// Metrics records call outcomes. Defaults to NoOp.
	Metrics metrics.Recorder
}

// CallOptions configures a single Call.
type CallOptions struct {
	// Being exposes the being's coerced data to the function under the
	// "self" key of the trailing options table.
	Being *core.Being

	// Timeout overrides the executor's default timeout for this call.
	Timeout time.Duration
}

// WithBeing exposes the being's data to the called function.
func WithBeing(b *core.Being) func(o *CallOptions) {
	return func(o *CallOptions) {
		o.Being = b
	}
}

// WithTimeout bounds this call instead of the executor default.
func WithTimeout(timeout time.Duration) func(o *CallOptions) {
	return func(o *CallOptions) {
		o.Timeout = timeout
	}
}

// Registry extracts function descriptors from souls and dispatches calls
// through the sandbox executor. Construct explicitly with New; there is no
// package-level instance.
type Registry struct {
	executor *sandbox.Executor
	logger   logging.Logger
	metrics  metrics.Recorder

	mu    sync.RWMutex
	cache map[core.ContentHash]map[string]core.FunctionDescriptor
}

// New constructs a registry dispatching through the executor.
func New(executor *sandbox.Executor, optFns ...func(o *Options)) *Registry {
	opts := Options{
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NoOpRecorder{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpRecorder{}
	}
	return &Registry{
		executor: executor,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		cache:    make(map[core.ContentHash]map[string]core.FunctionDescriptor),
	}
}

// Extract returns the externally callable functions of the soul's module
// source, keyed by name. Private-marker names are excluded; they remain
// callable from other functions within the same source. Results are cached
// per hash.
func (r *Registry) Extract(soul *core.Soul) (map[string]core.FunctionDescriptor, error) {
	if soul == nil {
		return nil, errors.New("extract: soul is nil")
	}
	if soul.Genotype.ModuleSource == "" {
		return map[string]core.FunctionDescriptor{}, nil
	}

	r.mu.RLock()
	cached, ok := r.cache[soul.Hash]
	r.mu.RUnlock()
	if ok {
		return cloneDescriptors(cached), nil
	}

	descriptors, err := r.executor.Extract(soul.Genotype.ModuleSource)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]core.FunctionDescriptor, len(descriptors))
	for _, d := range descriptors {
		byName[d.Name] = d
	}

	r.mu.Lock()
	r.cache[soul.Hash] = byName
	r.mu.Unlock()

	r.logger.Debug("functions extracted", "hash", soul.Hash, "count", len(byName))
	return cloneDescriptors(byName), nil
}

// Call invokes the named function with positional args and a kwargs table,
// after checking that the name is externally callable and that the arguments
// satisfy the declared parameters. Argument values are coerced to their
// declared type tags before dispatch.
func (r *Registry) Call(ctx context.Context, soul *core.Soul, name string, args []any, kwargs map[string]any, optFns ...func(o *CallOptions)) *core.ExecutionResult {
	start := time.Now()
	res := r.call(ctx, soul, name, args, kwargs, optFns...)
	res.Duration = time.Since(start)
	r.metrics.RecordOperation("registry", "call", res.Duration, res.Success)
	if !res.Success && res.Error != nil {
		r.logger.Debug("function call failed", "function", name, "code", res.Error.Code)
	}
	return res
}

func (r *Registry) call(ctx context.Context, soul *core.Soul, name string, args []any, kwargs map[string]any, optFns ...func(o *CallOptions)) *core.ExecutionResult {
	opts := CallOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	descriptors, err := r.Extract(soul)
	if err != nil {
		var violation *sandbox.Violation
		if errors.As(err, &violation) {
			res := core.Failure(core.ExecCodeSandboxViolation, violation.Message)
			res.Error.Line = violation.Line
			return res
		}
		return core.Failure(core.ExecCodeExecutionError, err.Error())
	}

	descriptor, ok := descriptors[name]
	if !ok {
		return core.Failure(core.ExecCodeFunctionNotFound,
			fmt.Sprintf("function %q is not externally callable", name))
	}

	callerKwargs := len(kwargs) > 0
	if opts.Being != nil {
		merged := make(map[string]any, len(kwargs)+1)
		for k, v := range kwargs {
			merged[k] = v
		}
		merged["self"] = opts.Being.Data
		kwargs = merged
	}

	coerced, argErr := coerceArgs(args, descriptor, callerKwargs, len(kwargs) > 0)
	if argErr != "" {
		return core.Failure(core.ExecCodeValidationError, argErr)
	}

	return r.executor.Execute(ctx, soul.Genotype.ModuleSource, name, coerced, kwargs, opts.Timeout)
}

// coerceArgs validates positional arguments against the descriptor and
// coerces each to its declared type tag. A non-empty caller kwargs table
// occupies one positional slot. The options table injected for a being still
// fills a trailing parameter but does not count against the declared
// maximum, so fully positional calls keep working through a being target.
// The returned string is empty on success and a caller-facing message
// otherwise.
func coerceArgs(args []any, descriptor core.FunctionDescriptor, callerKwargs, anyKwargs bool) ([]any, string) {
	params := descriptor.Parameters
	supplied := len(args)
	if callerKwargs {
		supplied++
	}
	if supplied > len(params) && !descriptor.Variadic {
		return nil, fmt.Sprintf("%s accepts %d argument(s), got %d",
			descriptor.Name, len(params), supplied)
	}

	required := 0
	for _, p := range params {
		if p.Required {
			required++
		}
	}
	filled := len(args)
	if anyKwargs {
		filled++
	}
	if filled < required {
		return nil, fmt.Sprintf("%s requires %d argument(s), got %d",
			descriptor.Name, required, filled)
	}

	coerced := make([]any, len(args))
	for i, arg := range args {
		if i >= len(params) {
			// Variadic tail, passed through unchanged.
			coerced[i] = arg
			continue
		}
		value, err := coerceArg(arg, params[i].TypeTag)
		if err != nil {
			return nil, fmt.Sprintf("argument %q: %v", params[i].Name, err)
		}
		coerced[i] = value
	}
	return coerced, ""
}

func coerceArg(raw any, typeTag string) (any, error) {
	switch typeTag {
	case "", "any":
		return raw, nil
	case "table":
		switch raw.(type) {
		case map[string]any, []any:
			return raw, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to table", raw)
		}
	default:
		return schema.CoerceValue(raw, typeTag)
	}
}

func cloneDescriptors(m map[string]core.FunctionDescriptor) map[string]core.FunctionDescriptor {
	out := make(map[string]core.FunctionDescriptor, len(m))
	for name, d := range m {
		if d.Parameters != nil {
			params := make([]core.ParameterSpec, len(d.Parameters))
			copy(params, d.Parameters)
			d.Parameters = params
		}
		out[name] = d
	}
	return out
}
