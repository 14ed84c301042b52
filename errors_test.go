// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTransportError_Unwrap(t *testing.T) {
	e := &TransportError{Cause: io.EOF}
	assert.ErrorIs(t, e, io.EOF)
	assert.Contains(t, e.Error(), "EOF")
}

func TestSerializationError_Unwrap(t *testing.T) {
	cause := errors.New("unknown type")
	e := &SerializationError{TypeName: "widget.Thing", Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "widget.Thing")
}

func TestPipeDeadError_Unwrap(t *testing.T) {
	cause := errors.New("reader gone")
	e := &PipeDeadError{OID: 42, Cause: cause}
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "42")
}

func TestAggregateTeardown(t *testing.T) {
	assert.Nil(t, aggregateTeardown(nil, nil, nil))

	single := errors.New("one failure")
	err := aggregateTeardown(nil, single, nil)
	assert.ErrorContains(t, err, "one failure")

	err = aggregateTeardown(errors.New("first"), errors.New("second"))
	assert.ErrorContains(t, err, "first")
	assert.ErrorContains(t, err, "second")
}

func TestWithStack_GatedByChainCause(t *testing.T) {
	cause := errors.New("boom")
	assert.Nil(t, withStack(false, cause))
	assert.NotNil(t, withStack(true, cause))
	assert.Nil(t, withStack(true, nil))
}
