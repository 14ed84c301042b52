// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package rchannel implements a duplex, capability-negotiated RPC channel
// over a reliable, in-order, packet-oriented transport: framing
// (internal/wire), serialization and domain tagging (internal/codec), an
// export table (internal/export), a pipe subsystem for streamed arguments
// (internal/pipe, internal/pipewriter), and the channel state machine,
// dispatcher, call matcher, and remote-proxy layer defined in this package.
package rchannel
