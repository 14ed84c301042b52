// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rchannel

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML-serializable subset of Options: hooks
// (ClassFilter, DomainResolver, ArtifactResolver, RoleChecker, Logger,
// Metrics) are not representable in a config file and are left untouched
// by Load, to be wired programmatically via With* options afterward.
type fileConfig struct {
	FrameSize                 int           `yaml:"frameSize"`
	PingInterval              time.Duration `yaml:"pingInterval"`
	PingTimeout               time.Duration `yaml:"pingTimeout"`
	MaxPingTimeouts           int           `yaml:"maxPingTimeouts"`
	ChainCause                bool          `yaml:"chainCause"`
	RecordUnexportOriginTrace bool          `yaml:"recordUnexportOriginTrace"`
	UnexportLogSize           int           `yaml:"unexportLogSize"`
	TransportReadTimeoutFatal bool          `yaml:"transportReadTimeoutFatal"`
	MaxConcurrentCalls        int64         `yaml:"maxConcurrentCalls"`
}

// LoadConfig parses YAML from r into an Options record, starting from
// DefaultOptions so any field absent from the document keeps its spec
// default.
func LoadConfig(r io.Reader) (*Options, error) {
	o := DefaultOptions()
	fc := fileConfig{
		FrameSize:                 o.FrameSize,
		PingInterval:              o.PingInterval,
		PingTimeout:               o.PingTimeout,
		MaxPingTimeouts:           o.MaxPingTimeouts,
		ChainCause:                o.ChainCause,
		RecordUnexportOriginTrace: o.RecordUnexportOriginTrace,
		UnexportLogSize:           o.UnexportLogSize,
		TransportReadTimeoutFatal: o.TransportReadTimeoutFatal,
		MaxConcurrentCalls:        o.MaxConcurrentCalls,
	}

	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&fc); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "rchannel: parsing config")
	}

	o.FrameSize = fc.FrameSize
	o.PingInterval = fc.PingInterval
	o.PingTimeout = fc.PingTimeout
	o.MaxPingTimeouts = fc.MaxPingTimeouts
	o.ChainCause = fc.ChainCause
	o.RecordUnexportOriginTrace = fc.RecordUnexportOriginTrace
	o.UnexportLogSize = fc.UnexportLogSize
	o.TransportReadTimeoutFatal = fc.TransportReadTimeoutFatal
	o.MaxConcurrentCalls = fc.MaxConcurrentCalls
	return o, nil
}
