// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"context"
	"sync/atomic"
	"time"
)

// pingOID is the fixed, reserved oid the ping task calls on both peers. It
// is never returned by export.Table.Export (which starts assigning at 1
// and is keyed by object identity), so a dedicated oid below any object
// table allocation can safely be reserved for it without colliding.
const pingOID int64 = -1000

// pingCallable is the no-op RPC target invoked by the peer's ping task; it
// is a system proxy target (spec.md §4.10) known on both sides and bypasses
// the RoleChecker, per spec.md §5 ("ping tasks are internal callables
// bypassing user security checks").
type pingCallable struct{}

func (pingCallable) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	return nil, nil
}

// startPing launches the periodic ping watchdog if PingInterval > 0. It
// issues a no-op RPC each interval; MaxPingTimeouts consecutive timeouts
// declare the channel dead.
func (ch *Channel) startPing() {
	if ch.opts.PingInterval <= 0 {
		return
	}
	ch.exports.ExportAt(pingOID, pingCallable{})
	ch.pingProxy = ch.newSystemProxy(pingOID)

	ch.pingStop = make(chan struct{})
	ch.pingDone = make(chan struct{})
	go ch.pingLoop()
}

func (ch *Channel) stopPing() {
	if ch.pingStop == nil {
		return
	}
	close(ch.pingStop)
	<-ch.pingDone
}

func (ch *Channel) pingLoop() {
	defer close(ch.pingDone)
	ticker := time.NewTicker(ch.opts.PingInterval)
	defer ticker.Stop()

	var consecutiveTimeouts int32
	for {
		select {
		case <-ch.pingStop:
			return
		case <-ticker.C:
			if ch.State() >= stateClosing {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), ch.opts.PingTimeout)
			_, err := ch.pingProxy.Invoke(ctx, "ping")
			cancel()

			if err == nil {
				atomic.StoreInt32(&consecutiveTimeouts, 0)
				continue
			}
			n := atomic.AddInt32(&consecutiveTimeouts, 1)
			ch.metrics().incPingTimeouts()
			if int(n) >= ch.opts.MaxPingTimeouts {
				pingErr := &PingTimeoutError{Attempts: int(n)}
				if ch.opts.OnPingTimeout != nil {
					ch.opts.OnPingTimeout(pingErr)
				}
				// Close asynchronously: Close's own stopPing() blocks on
				// ch.pingDone, which this goroutine (about to return) is
				// responsible for closing — calling Close synchronously
				// here would deadlock against itself.
				go ch.Close(pingErr)
				return
			}
		}
	}
}
