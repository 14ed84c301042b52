// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "errors"

var (
	// ErrTooLong reports that a reassembled command exceeds the decoder's
	// configured length limit.
	ErrTooLong = errors.New("wire: command exceeds read limit")

	// ErrInvalidArgument reports a nil reader/writer or malformed option.
	ErrInvalidArgument = errors.New("wire: invalid argument")
)
