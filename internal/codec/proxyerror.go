// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package codec

import "fmt"

// ProxyError is the diagnostic stand-in for a remote exception/error whose
// concrete type is not available (or not deserializable) on this side of
// the channel. It preserves the three things spec.md §4.4/§7 asks for:
// the original message, the original type name, and a stack trace
// (rendered as a string — a cross-process stack cannot be a real
// *runtime.Frame slice once it is on the wire).
type ProxyError struct {
	TypeName string
	Msg      string
	Stack    string
}

func (e *ProxyError) Error() string {
	if e.TypeName == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.TypeName, e.Msg)
}

// NewProxyError wraps err into a ProxyError, capturing its type name and
// message. Used on the encode side when err's concrete type cannot cross
// the wire (spec.md §4.4: "wraps incompatible exception chains into a
// diagnostic proxy-exception").
func NewProxyError(typeName, msg, stack string) *ProxyError {
	return &ProxyError{TypeName: typeName, Msg: msg, Stack: stack}
}
