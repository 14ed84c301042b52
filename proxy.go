// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"context"
	"reflect"
	"runtime"
	"sync"
)

// CapabilitySet is what an exported object must implement to be dispatched
// to by name: per spec.md §9's "dynamic dispatch → capability sets" hint,
// there is no reflective interface proxy, only a single generic
// invoke-by-name entry point consulted by the per-object dispatch table.
type CapabilitySet interface {
	Invoke(ctx context.Context, method string, args ...any) (any, error)
}

// proxyKind distinguishes user proxies (arguments/results may be user code,
// serialized through the multi-domain serializer so classes can be fetched
// from the originating side) from system proxies (remoting-internal calls,
// whose type set is known on both sides), per spec.md §4.10.
type proxyKind uint8

const (
	userProxy proxyKind = iota
	systemProxy
)

// Proxy is the local stand-in for an object exported by the peer. It holds
// its channel weakly in spirit: a runtime.AddCleanup hook registered at
// construction emits Unexport when the Proxy is collected, so callers never
// need to remember to release it explicitly.
type Proxy struct {
	channel *Channel
	oid     int64
	kind    proxyKind
}

// newProxy returns a Proxy bound to oid on ch, registering a post-mortem
// cleanup that releases the export if the Proxy is garbage-collected while
// the channel is still usable.
func newProxy(ch *Channel, oid int64, kind proxyKind) *Proxy {
	p := &Proxy{channel: ch, oid: oid, kind: kind}
	ch.cleanups.register(p, oid)
	return p
}

// newSystemProxy returns a Proxy bound to a remoting-internal oid (e.g.
// pingOID), distinguished from an ordinary user Proxy so a future
// multi-domain Codec can treat its arguments/results as system-domain
// values known on both sides rather than routing them through user-code
// type resolution.
func (ch *Channel) newSystemProxy(oid int64) *Proxy {
	return newProxy(ch, oid, systemProxy)
}

// NewProxy returns a user-facing Proxy for oid on ch. oid is typically the
// conventional root object both peers agree on out of band (oid 1, the
// first thing the accepting side exports) or an oid surfaced as the result
// of a prior call.
func (ch *Channel) NewProxy(oid int64) *Proxy {
	return newProxy(ch, oid, userProxy)
}

// Invoke dispatches method on the remote object this proxy represents,
// serializing name+arg-types+args exactly as spec.md's
// RPCRequest(oid, methodName, argTypeNames[], args[]).
func (p *Proxy) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	return p.channel.call(ctx, p.oid, method, args)
}

// InvokeAsync is the non-blocking counterpart to Invoke, returning a Future
// whose cancellation emits a Cancel command.
func (p *Proxy) InvokeAsync(ctx context.Context, method string, args ...any) (*Future, error) {
	return p.channel.callAsync(ctx, p.oid, method, args)
}

// InvokeOneWay sends method as a fire-and-forget Request: the peer never
// sends a Response, so this returns as soon as the Request is written,
// without waiting for the method to even begin executing remotely. Useful
// for notifications where the caller has no interest in the result and
// does not want a slow or stuck handler on the peer to block it.
func (p *Proxy) InvokeOneWay(ctx context.Context, method string, args ...any) error {
	return p.channel.callOneWay(ctx, p.oid, method, args)
}

// Bind produces a strongly-typed Go function value over Invoke using
// reflect.MakeFunc, so after Bind(p, "Add", &add) call sites can write
// add(ctx, 2, 3) instead of p.Invoke(ctx, "Add", 2, 3), without
// reintroducing a per-interface dynamic
// proxy: fn must be a pointer to a func value whose first parameter is
// context.Context and whose last return value is error.
func Bind[T any](p *Proxy, method string, fn *T) {
	fv := reflect.ValueOf(fn).Elem()
	ft := fv.Type()
	wrapped := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		args := make([]any, 0, len(in))
		for i, v := range in {
			if i == 0 {
				if c, ok := v.Interface().(context.Context); ok {
					ctx = c
					continue
				}
			}
			args = append(args, v.Interface())
		}
		result, err := p.Invoke(ctx, method, args...)
		out := make([]reflect.Value, ft.NumOut())
		for i := 0; i < ft.NumOut()-1; i++ {
			if result != nil && i == 0 {
				out[i] = reflect.ValueOf(result)
			} else {
				out[i] = reflect.Zero(ft.Out(i))
			}
		}
		errType := ft.Out(ft.NumOut() - 1)
		if err != nil {
			out[ft.NumOut()-1] = reflect.ValueOf(err)
		} else {
			out[ft.NumOut()-1] = reflect.Zero(errType)
		}
		return out
	})
	fv.Set(wrapped)
}

// cleanupQueue is the single per-channel post-mortem queue fed by
// runtime.AddCleanup at proxy construction, replacing finalizer/phantom-
// reference-based Unexport with the direct Go analogue spec.md §9 asks for.
// Drain is called first on channel close so stale hooks never fire against
// a dead transport.
type cleanupQueue struct {
	mu      sync.Mutex
	drained bool
	handles []runtime.Cleanup
}

func (q *cleanupQueue) register(p *Proxy, oid int64) {
	ch := p.channel
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return
	}
	h := runtime.AddCleanup(p, func(oid int64) {
		ch.unexportRemote(oid)
	}, oid)
	q.handles = append(q.handles, h)
}

// drain voids every pending cleanup hook so a Proxy collected after channel
// close does not try to write an Unexport to a dead transport.
func (q *cleanupQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return
	}
	q.drained = true
	for _, h := range q.handles {
		h.Stop()
	}
	q.handles = nil
}
