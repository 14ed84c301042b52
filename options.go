// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"time"

	"github.com/sirupsen/logrus"

	"code.hybscloud.com/rchannel/internal/codec"
)

// ClassFilter is consulted once per decode with the Go type name of the
// decode target; a rejection aborts the deserialization. Type names nested
// inside the decoded value are not passed to it.
type ClassFilter = codec.ClassFilter

// DomainResolver resolves a type by name within a given source domain, the
// Go analogue of a classloader resolving a class by name.
type DomainResolver = codec.Resolver

// ArtifactResolver fetches an on-demand artifact (class bytes, resource)
// from the peer side; the core only defines this hook, it does not
// implement a cache or fetch protocol.
type ArtifactResolver interface {
	Resolve(name string) ([]byte, error)
}

// RoleChecker is evaluated before invoking any user callable dispatched
// from a peer Request; returning an error rejects the call before it runs.
type RoleChecker interface {
	CheckRole(method string) error
}

// Options configures a Channel. Zero value is not directly usable; use
// DefaultOptions() as the base and layer With* functions on top.
type Options struct {
	FrameSize int // 1..32767, default 8192

	PingInterval    time.Duration // default 4m
	PingTimeout     time.Duration // default 4m
	MaxPingTimeouts int           // default 4

	ChainCause                bool // default false
	RecordUnexportOriginTrace bool // default true
	UnexportLogSize           int  // default 1024
	TransportReadTimeoutFatal bool // default false

	ClassFilter      ClassFilter
	DomainResolver   DomainResolver
	ArtifactResolver ArtifactResolver
	RoleChecker      RoleChecker

	// MaxConcurrentCalls bounds the number of user callables executing at
	// once via a semaphore.Weighted; 0 means unbounded (spec.md §5's
	// default "unbounded cardinality" executor).
	MaxConcurrentCalls int64

	// Logger and Metrics are ambient hooks that never change protocol
	// behavior. Logger defaults to a discard logger; Metrics defaults to
	// nil (no collectors registered).
	Logger  logrus.FieldLogger
	Metrics *Metrics

	// OnPingTimeout is invoked with the final PingTimeoutError once
	// MaxPingTimeouts consecutive ping timeouts have occurred, just before
	// the channel is closed. Nil is a valid no-op handler.
	OnPingTimeout func(error)
}

// Option mutates an Options record under construction.
type Option func(*Options)

// DefaultOptions returns an Options record with every spec-mandated
// default applied.
func DefaultOptions() *Options {
	discard := logrus.New()
	discard.SetOutput(logrusDiscard{})
	return &Options{
		FrameSize:                 8192,
		PingInterval:              4 * time.Minute,
		PingTimeout:               4 * time.Minute,
		MaxPingTimeouts:           4,
		ChainCause:                false,
		RecordUnexportOriginTrace: true,
		UnexportLogSize:           1024,
		TransportReadTimeoutFatal: false,
		ClassFilter:               codec.AllowAll,
		Logger:                    discard,
	}
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

// NewOptions applies opts on top of DefaultOptions.
func NewOptions(opts ...Option) *Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithFrameSize(n int) Option {
	return func(o *Options) { o.FrameSize = n }
}

func WithPing(interval, timeout time.Duration, maxTimeouts int) Option {
	return func(o *Options) {
		o.PingInterval = interval
		o.PingTimeout = timeout
		o.MaxPingTimeouts = maxTimeouts
	}
}

func WithChainCause(b bool) Option {
	return func(o *Options) { o.ChainCause = b }
}

func WithRecordUnexportOriginTrace(b bool) Option {
	return func(o *Options) { o.RecordUnexportOriginTrace = b }
}

func WithUnexportLogSize(n int) Option {
	return func(o *Options) { o.UnexportLogSize = n }
}

func WithTransportReadTimeoutFatal(b bool) Option {
	return func(o *Options) { o.TransportReadTimeoutFatal = b }
}

func WithClassFilter(f ClassFilter) Option {
	return func(o *Options) { o.ClassFilter = f }
}

func WithDomainResolver(r DomainResolver) Option {
	return func(o *Options) { o.DomainResolver = r }
}

func WithArtifactResolver(r ArtifactResolver) Option {
	return func(o *Options) { o.ArtifactResolver = r }
}

func WithRoleChecker(r RoleChecker) Option {
	return func(o *Options) { o.RoleChecker = r }
}

func WithMaxConcurrentCalls(n int64) Option {
	return func(o *Options) { o.MaxConcurrentCalls = n }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

func WithOnPingTimeout(f func(error)) Option {
	return func(o *Options) { o.OnPingTimeout = f }
}
