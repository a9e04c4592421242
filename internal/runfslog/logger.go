// Copyright 2025 Google LLC
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

// Package runfslog sets up the process-wide logger: a rotating file (or
// stderr, if unconfigured) sink behind log/slog, plus a plain *log.Logger
// adapter for packages (like internal/dre) that were written against the
// standard library's logger interface.
package runfslog

import (
	"io"
	"log"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log rotation. A zero-valued Options logs to stderr
// without rotation, which is the right default for interactive use and
// for -f (run in foreground).
type Options struct {
	// Path is the log file to write to. Empty means stderr.
	Path string

	// MaxSizeMB is the size at which the active log file is rotated.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are retained.
	MaxBackups int
	// MaxAgeDays bounds how long rotated files are retained.
	MaxAgeDays int

	// Debug enables slog.LevelDebug; otherwise the logger runs at Info.
	Debug bool
}

// New builds the process logger described by opts, returning both a
// structured *slog.Logger for new code and a *log.Logger shim for the
// handful of packages (internal/dre) that predate the switch to slog.
func New(opts Options) (*slog.Logger, *log.Logger) {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		w = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	structured := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	legacy := log.New(w, "", log.LstdFlags)

	return structured, legacy
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
