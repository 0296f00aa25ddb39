// Package soulmesh provides a high-level façade over the entity stores and
// the sandboxed function registry. Most applications interact with this
// package by:
//  1. Creating a SoulMesh via New() (optionally overriding the default
//     in-memory storage)
//  2. Creating souls and summoning beings through the Souls() and Beings()
//     stores
//  3. Invoking a soul's dynamic functions via Call or Functions()
//
// The façade delegates all semantics to the soul, being, relation and
// registry packages while keeping setup ergonomics concise. All defaults
// are safe for local development and testing; production deployments
// typically supply a durable storage backend and a structured logger.
package soulmesh

import (
	"context"

	"github.com/soulstack/soulmesh/being"
	"github.com/soulstack/soulmesh/core"
	"github.com/soulstack/soulmesh/hash"
	"github.com/soulstack/soulmesh/logging"
	"github.com/soulstack/soulmesh/metrics"
	"github.com/soulstack/soulmesh/registry"
	"github.com/soulstack/soulmesh/relation"
	"github.com/soulstack/soulmesh/sandbox"
	"github.com/soulstack/soulmesh/schema"
	"github.com/soulstack/soulmesh/soul"
	"github.com/soulstack/soulmesh/storage"
)

// Options configures the SoulMesh instance.
type Options struct {
	// Storage backs every store (defaults to an in-memory implementation
	// if not provided).
	Storage core.Storage

	// Coercer validates being data against soul attribute schemas.
	// Defaults to a strict coercer sharing the façade's logger.
	Coercer *schema.Coercer

	// Executor runs sandboxed functions. Defaults to a sandbox with the
	// standard deny-list and a 5s timeout.
	Executor *sandbox.Executor

	// SelfLoopTypes lists relation types permitted to connect an entity
	// to itself. Empty by default.
	SelfLoopTypes []string

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// Metrics records operation outcomes across all stores. Defaults to NoOp.
	Metrics metrics.Recorder
}

// SoulMesh is the high-level façade aggregating the stores and the
// function registry over shared storage.
type SoulMesh struct {
	opts      Options
	souls     *soul.Store
	beings    *being.Store
	relations *relation.Store
	functions *registry.Registry
}

// New creates a new SoulMesh instance with optional overrides. Any unset
// dependency is initialized with an in-memory or no-op implementation.
func New(optFns ...func(o *Options)) *SoulMesh {
	opts := Options{
		Logger:  logging.NoOpLogger{},
		Metrics: metrics.NoOpRecorder{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Storage == nil {
		opts.Storage = storage.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOpRecorder{}
	}
	if opts.Coercer == nil {
		opts.Coercer = schema.New(func(o *schema.Options) {
			o.Logger = opts.Logger
		})
	}
	if opts.Executor == nil {
		opts.Executor = sandbox.New(func(o *sandbox.Options) {
			o.Logger = opts.Logger
		})
	}

	souls := soul.New(opts.Storage, func(o *soul.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	beings := being.New(opts.Storage, func(o *being.Options) {
		o.Coercer = opts.Coercer
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	relations := relation.New(opts.Storage, func(o *relation.Options) {
		o.SelfLoopTypes = opts.SelfLoopTypes
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})
	functions := registry.New(opts.Executor, func(o *registry.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	return &SoulMesh{
		opts:      opts,
		souls:     souls,
		beings:    beings,
		relations: relations,
		functions: functions,
	}
}

// Souls returns the soul store.
func (m *SoulMesh) Souls() *soul.Store { return m.souls }

// Beings returns the being store.
func (m *SoulMesh) Beings() *being.Store { return m.beings }

// Relations returns the relationship store.
func (m *SoulMesh) Relations() *relation.Store { return m.relations }

// Functions returns the function registry.
func (m *SoulMesh) Functions() *registry.Registry { return m.functions }

// Storage returns the underlying storage backend.
func (m *SoulMesh) Storage() core.Storage { return m.opts.Storage }

// CreateSoul is a convenience passthrough to Souls().Create.
func (m *SoulMesh) CreateSoul(ctx context.Context, genotype core.Genotype, optFns ...func(o *soul.CreateOptions)) (*core.Soul, error) {
	return m.souls.Create(ctx, genotype, optFns...)
}

// Call resolves the target and invokes one of its soul's functions. The
// target may be a soul content hash, a being alias or a soul alias, checked
// in that order. When the target is a being, its data is exposed to the
// function as its self table.
func (m *SoulMesh) Call(ctx context.Context, target, name string, args []any, kwargs map[string]any, optFns ...func(o *registry.CallOptions)) (*core.ExecutionResult, error) {
	s, b, err := m.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if b != nil {
		optFns = append([]func(o *registry.CallOptions){registry.WithBeing(b)}, optFns...)
	}
	return m.functions.Call(ctx, s, name, args, kwargs, optFns...), nil
}

// Describe resolves the soul by alias or hash and returns its callable
// function descriptors.
func (m *SoulMesh) Describe(ctx context.Context, target string) (map[string]core.FunctionDescriptor, error) {
	s, _, err := m.resolveTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	return m.functions.Extract(s)
}

func (m *SoulMesh) resolveTarget(ctx context.Context, target string) (*core.Soul, *core.Being, error) {
	if hash.Valid(target) {
		s, err := m.souls.GetByHash(ctx, core.ContentHash(target))
		return s, nil, err
	}
	if b, err := m.beings.LoadByAlias(ctx, target); err == nil {
		s, err := m.souls.GetByHash(ctx, b.SoulHash)
		return s, b, err
	}
	s, err := m.souls.GetByAlias(ctx, target)
	return s, nil, err
}

// Close releases the storage backend.
func (m *SoulMesh) Close() error { return m.opts.Storage.Close() }
