package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/Shopify/go-lua"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/logging"
)

// neutralizedBaseFunctions are removed from the environment after the base
// library opens. Everything else dangerous lives in libraries that are
// simply never opened.
var neutralizedBaseFunctions = []string{
	"dofile", "loadfile", "load", "loadstring",
	"collectgarbage", "getmetatable", "setmetatable",
	"rawget", "rawset", "rawequal", "rawlen",
}

// Options configures an Executor.
type Options struct {
	// DeniedGlobals overrides the enumerated deny-list of global names.
	DeniedGlobals []string
	// AllowedModules overrides the enumerated require allow-list.
	AllowedModules []string
	// PrivateMarker prefixes function names excluded from the externally
	// callable set. Defaults to "_".
	PrivateMarker string
	// DefaultTimeout bounds executions whose callers pass no explicit
	// timeout. Defaults to 5s.
	DefaultTimeout time.Duration
	// MaxOutputBytes caps captured print output per execution. Defaults to
	// 64 KiB; excess is truncated.
	MaxOutputBytes int
	// Limiter optionally bounds concurrent executions.
	Limiter *core.ExecLimiter
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Executor validates and runs guest functions. It is safe for concurrent
// use; every execution gets its own Lua state.
type Executor struct {
	opts           Options
	deniedGlobals  map[string]struct{}
	allowedModules map[string]struct{}
	parser         *sitter.Parser
	parseMu        sync.Mutex
	logger         logging.Logger
}

// New constructs an Executor with the default allow/deny sets.
func New(optFns ...func(o *Options)) *Executor {
	opts := Options{
		DeniedGlobals:  DefaultDeniedGlobals,
		AllowedModules: DefaultAllowedModules,
		PrivateMarker:  "_",
		DefaultTimeout: 5 * time.Second,
		MaxOutputBytes: 64 * 1024,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	e := &Executor{
		opts:           opts,
		deniedGlobals:  make(map[string]struct{}, len(opts.DeniedGlobals)),
		allowedModules: make(map[string]struct{}, len(opts.AllowedModules)),
		parser:         newLuaParser(),
		logger:         opts.Logger,
	}
	for _, name := range opts.DeniedGlobals {
		e.deniedGlobals[name] = struct{}{}
	}
	for _, name := range opts.AllowedModules {
		e.allowedModules[name] = struct{}{}
	}
	return e
}

func (e *Executor) private(name string) bool {
	return e.opts.PrivateMarker != "" && strings.HasPrefix(name, e.opts.PrivateMarker)
}

// PrivateMarker returns the configured private-name prefix.
func (e *Executor) PrivateMarker() string { return e.opts.PrivateMarker }

// Execute validates the source, runs its top-level chunk in a fresh
// restricted state, then calls functionName with the given positional args.
// A non-empty kwargs map is appended as a trailing table argument. The
// returned result is always non-nil and never panics through from guest
// code; the only error-shaped outcomes are the structured codes on
// ExecutionResult.Error.
//
// Execution is bounded by timeout (or the executor default when zero) and
// by ctx. On expiry the caller unblocks immediately with a TIMEOUT result;
// the worker may briefly continue before its state is reclaimed, but that
// state is private to the call so no partial mutation is observable.
func (e *Executor) Execute(ctx context.Context, source, functionName string, args []any, kwargs map[string]any, timeout time.Duration) *core.ExecutionResult {
	start := time.Now()
	finish := func(res *core.ExecutionResult) *core.ExecutionResult {
		res.Duration = time.Since(start)
		e.logger.Debug("sandbox.execute", "function", functionName, "success", res.Success, "duration", res.Duration)
		return res
	}

	if err := e.Validate(source); err != nil {
		res := core.Failure(core.ExecCodeSandboxViolation, err.Error())
		if v, ok := err.(*Violation); ok {
			res.Error.Line = v.Line
		}
		return finish(res)
	}

	if timeout <= 0 {
		timeout = e.opts.DefaultTimeout
	}
	if err := e.opts.Limiter.Acquire(ctx); err != nil {
		return finish(core.Failure(core.ExecCodeTimeout, "cancelled while waiting for an execution slot"))
	}

	done := make(chan *core.ExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- core.Failure(core.ExecCodeExecutionError, fmt.Sprintf("guest panic: %v", r))
			}
			e.opts.Limiter.Release()
		}()
		done <- e.run(source, functionName, args, kwargs)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return finish(res)
	case <-ctx.Done():
		return finish(core.Failure(core.ExecCodeTimeout, "execution cancelled: "+ctx.Err().Error()))
	case <-timer.C:
		return finish(core.Failure(core.ExecCodeTimeout, fmt.Sprintf("execution exceeded %s", timeout)))
	}
}

// run performs the actual VM work on the worker goroutine.
func (e *Executor) run(source, functionName string, args []any, kwargs map[string]any) *core.ExecutionResult {
	var output bytes.Buffer
	l := e.newRestrictedState(&output)

	// Top-level statements run first; they define the chunk's functions.
	if err := lua.LoadString(l, source); err != nil {
		return withOutput(core.Failure(core.ExecCodeExecutionError, "load: "+err.Error()), &output, e.opts.MaxOutputBytes)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return withOutput(core.Failure(core.ExecCodeExecutionError, "module init: "+luaErrorMessage(err)), &output, e.opts.MaxOutputBytes)
	}

	l.Global(functionName)
	if l.TypeOf(-1) != lua.TypeFunction {
		l.Pop(1)
		return withOutput(
			core.Failure(core.ExecCodeFunctionNotFound, fmt.Sprintf("no callable %q in module source", functionName)),
			&output, e.opts.MaxOutputBytes,
		)
	}

	argCount := len(args)
	for _, arg := range args {
		pushValue(l, arg)
	}
	if len(kwargs) > 0 {
		pushValue(l, kwargs)
		argCount++
	}

	base := l.Top() - argCount - 1
	if err := l.ProtectedCall(argCount, lua.MultipleReturns, 0); err != nil {
		return withOutput(core.Failure(core.ExecCodeExecutionError, luaErrorMessage(err)), &output, e.opts.MaxOutputBytes)
	}

	resultCount := l.Top() - base
	results := make([]any, 0, resultCount)
	for i := base + 1; i <= l.Top(); i++ {
		results = append(results, pullValue(l, i))
	}
	l.SetTop(base)

	res := &core.ExecutionResult{Success: true}
	switch len(results) {
	case 0:
		res.Result = nil
	case 1:
		res.Result = results[0]
	default:
		res.Result = results
	}
	return withOutput(res, &output, e.opts.MaxOutputBytes)
}

// newRestrictedState builds a Lua state exposing only the allow-listed
// libraries, with the enumerated dangerous base functions removed and print
// redirected into the capture buffer.
func (e *Executor) newRestrictedState(output *bytes.Buffer) *lua.State {
	l := lua.NewState()

	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)

	for _, name := range neutralizedBaseFunctions {
		l.PushNil()
		l.SetGlobal(name)
	}
	// The base library publishes the environment as _G; guests have no
	// business enumerating it.
	l.PushNil()
	l.SetGlobal("_G")

	l.Register("print", func(l *lua.State) int {
		n := l.Top()
		for i := 1; i <= n; i++ {
			if i > 1 {
				output.WriteByte('\t')
			}
			output.WriteString(stringifyValue(l, i))
		}
		output.WriteByte('\n')
		return 0
	})
	return l
}

func withOutput(res *core.ExecutionResult, output *bytes.Buffer, max int) *core.ExecutionResult {
	captured := output.String()
	if max > 0 && len(captured) > max {
		captured = captured[:max]
	}
	res.Output = captured
	return res
}

// luaErrorMessage normalizes go-lua runtime errors into a single-line guest
// message.
func luaErrorMessage(err error) string {
	return strings.TrimSpace(err.Error())
}
