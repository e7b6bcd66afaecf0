// Copyright (c) 2017 OysterPack, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines a Service's validated configuration tree,
// mirroring pkg/app/config.go's validated-struct conventions. Unlike
// pkg/app/config.go this package never reads from disk or unmarshals a
// capnp message - a Service's caller builds a ServiceConfig in Go and
// passes it to service.New directly.
package config

import (
	"github.com/rs/zerolog"

	fabric "github.com/oysterpack/fabric"
)

// ServiceConfig is the configuration a Service is constructed from.
type ServiceConfig struct {
	Name string

	// Fps bounds ticks per second; 1..1000, defaulting to 30.
	Fps int

	ListenAddr    string
	ConnectPeers  []string
	CodecChain    []string // named codec layers applied in order, e.g. "zlib"

	MaxSessionSendBuf int
	FrameDrainCap     int

	LogLevel zerolog.Level
}

// DefaultFps is used when Fps is left at its zero value.
const DefaultFps = 30

// DefaultFrameDrainCap bounds how many queued envelopes a single tick
// drains from the message queue before moving on.
const DefaultFrameDrainCap = 256

// Validate checks ServiceConfig invariants, mirroring the
// Settings.Validate style pkg/service/settings.go uses before a Service
// is constructed.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return &fabric.Error{Kind_: fabric.Arg, Message: "config: Name is required"}
	}
	if c.Fps < 0 || c.Fps > 1000 {
		return &fabric.Error{Kind_: fabric.Arg, Message: "config: Fps must be in [0, 1000]"}
	}
	if c.MaxSessionSendBuf < 0 {
		return &fabric.Error{Kind_: fabric.Arg, Message: "config: MaxSessionSendBuf must be >= 0"}
	}
	if c.FrameDrainCap < 0 {
		return &fabric.Error{Kind_: fabric.Arg, Message: "config: FrameDrainCap must be >= 0"}
	}
	return nil
}

// normalized returns a copy of c with defaults applied (Fps, FrameDrainCap).
func (c ServiceConfig) normalized() ServiceConfig {
	if c.Fps == 0 {
		c.Fps = DefaultFps
	}
	if c.FrameDrainCap == 0 {
		c.FrameDrainCap = DefaultFrameDrainCap
	}
	return c
}

// Normalize validates c and returns a copy with defaults filled in.
func Normalize(c ServiceConfig) (ServiceConfig, error) {
	if err := c.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	return c.normalized(), nil
}
