// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import "fmt"

// goTypeName is the fallback type-name encoding used for arguments that do
// not implement a custom TypeName() method; it rides on the same type
// identity Go's encoding/gob registration already keys decode on.
func goTypeName(v any) string {
	return fmt.Sprintf("%T", v)
}
