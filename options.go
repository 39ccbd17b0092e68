// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"log/slog"
	"time"
)

// ServerOption is a functional option for configuring the TCP and RTU
// servers.
type ServerOption func(*serverOptions)

type serverOptions struct {
	logger             *slog.Logger
	maxConns           int
	readTimeout        time.Duration
	ignoreMissingUnits bool
	pollInterval       time.Duration
}

func defaultServerOptions() *serverOptions {
	return &serverOptions{
		logger:       slog.Default(),
		maxConns:     100,
		pollInterval: 100 * time.Millisecond,
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = logger
	}
}

// WithMaxConnections sets the maximum number of concurrent connections.
// Zero means unlimited.
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConns = n
	}
}

// WithReadTimeout closes TCP connections idle for longer than d. Zero, the
// default, never times out.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		o.readTimeout = d
	}
}

// WithIgnoreMissingUnits makes the TCP server stay silent, instead of
// answering with a gateway exception, for unit ids unknown in multi-slave
// mode.
func WithIgnoreMissingUnits(ignore bool) ServerOption {
	return func(o *serverOptions) {
		o.ignoreMissingUnits = ignore
	}
}

// WithPollInterval sets how often an idle RTU line checks for shutdown.
func WithPollInterval(d time.Duration) ServerOption {
	return func(o *serverOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}
