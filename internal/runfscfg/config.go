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

// Package runfscfg decodes -o mount options into a typed Options struct
// via viper and mapstructure, the same pair the rest of this dependency's
// family uses for CLI configuration. It does not read a config file.
package runfscfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/jcnelson/runfs/internal/inoderecord"
)

// Options is the fully-resolved set of mount-time knobs.
type Options struct {
	VerifyInode     bool `mapstructure:"verify_inode"`
	VerifySize      bool `mapstructure:"verify_size"`
	VerifyMtime     bool `mapstructure:"verify_mtime"`
	VerifyPath      bool `mapstructure:"verify_path"`
	VerifyStartTime bool `mapstructure:"verify_starttime"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogPath     string `mapstructure:"log_path"`
	Debug       bool   `mapstructure:"debug"`
}

// DefaultOptions mirrors inoderecord.DefaultPolicy: inode, size and mtime
// checks on, path and start-time off.
func DefaultOptions() Options {
	return Options{VerifyInode: true, VerifySize: true, VerifyMtime: true}
}

// Policy translates the resolved verify_* flags into an
// inoderecord.VerifyPolicy bitmask.
func (o Options) Policy() inoderecord.VerifyPolicy {
	var p inoderecord.VerifyPolicy
	if o.VerifyInode {
		p |= inoderecord.PolicyInode
	}
	if o.VerifySize {
		p |= inoderecord.PolicySize
	}
	if o.VerifyMtime {
		p |= inoderecord.PolicyMtime
	}
	if o.VerifyPath {
		p |= inoderecord.PolicyPath
	}
	if o.VerifyStartTime {
		p |= inoderecord.PolicyStartTime
	}
	return p
}

// ParseMountOptions decodes the comma-separated key[=value] pairs that
// arrive via -o (the standard FUSE helper convention, e.g.
// "-o verify_path,metrics_addr=127.0.0.1:9100") on top of DefaultOptions,
// via viper so that a future -o config=/path/to.yaml can layer a file on
// top of the same keys without changing this function.
func ParseMountOptions(raw []string) (Options, error) {
	v := viper.New()
	v.SetConfigType("json")

	defaults := DefaultOptions()
	v.SetDefault("verify_inode", defaults.VerifyInode)
	v.SetDefault("verify_size", defaults.VerifySize)
	v.SetDefault("verify_mtime", defaults.VerifyMtime)
	v.SetDefault("verify_path", defaults.VerifyPath)
	v.SetDefault("verify_starttime", defaults.VerifyStartTime)

	for _, item := range raw {
		key, value, hasValue := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		if !hasValue {
			// Bare flags (e.g. "verify_path") are booleans.
			v.Set(key, true)
			continue
		}

		if b, err := strconv.ParseBool(value); err == nil {
			v.Set(key, b)
			continue
		}
		v.Set(key, value)
	}

	var out Options
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Options{}, fmt.Errorf("runfscfg: building decoder: %w", err)
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return Options{}, fmt.Errorf("runfscfg: decoding mount options: %w", err)
	}

	return out, nil
}
