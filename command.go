// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

// CommandKind distinguishes the command variants the dispatcher routes, per
// spec.md §4.5.
type CommandKind uint8

const (
	KindRequest CommandKind = iota + 1
	KindResponse
	KindCancel
	KindPipeChunk
	KindPipeFlush
	KindPipeAck
	KindPipeEOF
	KindPipeDead
	KindUnexport
	KindClose
)

func (k CommandKind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindCancel:
		return "Cancel"
	case KindPipeChunk:
		return "Pipe.Chunk"
	case KindPipeFlush:
		return "Pipe.Flush"
	case KindPipeAck:
		return "Pipe.Ack"
	case KindPipeEOF:
		return "Pipe.EOF"
	case KindPipeDead:
		return "Pipe.Dead"
	case KindUnexport:
		return "Unexport"
	case KindClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Command is the single wire-level envelope every command kind is encoded
// as. Only the fields relevant to Kind are populated; this flat shape
// (rather than a Go interface requiring per-variant gob registration) keeps
// the codec's registration surface to one type regardless of how many
// command kinds exist.
type Command struct {
	Kind CommandKind

	// Request / Response / Cancel
	ID         int64
	Method     string
	ArgTypes   []string
	Args       [][]byte // each arg independently codec-encoded
	LastIoID   int64
	Result     []byte
	ExcType    string
	ExcMsg     string
	ExcStack   string
	Async      bool

	// Export/Pipe oid-bearing commands
	OID int64

	// Pipe.Chunk
	Data []byte

	// Pipe.Ack
	N int64

	// Pipe.Dead
	DeadCause string

	// Creation stack, captured only when chainCause is enabled.
	CreatedAt string
}
