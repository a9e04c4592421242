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

// Command runfs mounts the process-liveness-gated filesystem described by
// internal/runfs at a given mount point and blocks until it is unmounted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"

	"github.com/jcnelson/runfs/internal/dre"
	"github.com/jcnelson/runfs/internal/procprobe"
	"github.com/jcnelson/runfs/internal/runfs"
	"github.com/jcnelson/runfs/internal/runfscfg"
	"github.com/jcnelson/runfs/internal/runfslog"
	"github.com/jcnelson/runfs/internal/runfsmetrics"
)

var (
	foreground  bool
	debug       bool
	mountOpts   []string
	metricsAddr string
	logFile     string
)

var rootCmd = &cobra.Command{
	Use:   "runfs [flags] mount_point",
	Short: "Mount runfs, a filesystem that reaps entries whose creating process has died",
	Long: `runfs is a FUSE filesystem for ephemeral runtime state: PID files,
sockets and status files that should vanish the moment the process that
created them exits, without any init-script cleanup.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMount(args[0])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run in the foreground (accepted for compatibility; runfs never daemonizes)")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug-level logging")
	rootCmd.Flags().StringSliceVarP(&mountOpts, "options", "o", nil, "comma-separated mount options (key or key=value)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100 (empty disables)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "path to a rotating log file (empty logs to stderr)")
}

// startupError names the step that failed, matching spec §6's
// requirement that a startup failure's diagnostic say which step: probe
// setup, VFS init, route registration, worker-thread start, or kernel
// bridge.
type startupError struct {
	step string
	err  error
}

func (e *startupError) Error() string {
	return fmt.Sprintf("runfs: %s: %v", e.step, e.err)
}

func (e *startupError) Unwrap() error { return e.err }

func runMount(mountPoint string) error {
	opts, err := runfscfg.ParseMountOptions(mountOpts)
	if err != nil {
		return &startupError{"VFS init", err}
	}
	if debug {
		opts.Debug = true
	}
	if metricsAddr != "" {
		opts.MetricsAddr = metricsAddr
	}
	if logFile != "" {
		opts.LogPath = logFile
	}

	_, legacyLog := runfslog.New(runfslog.Options{
		Path:  opts.LogPath,
		Debug: opts.Debug,
	})

	// Step 1: process probe setup.
	prober := procprobe.NewLinuxProber()

	u, err := user.Current()
	if err != nil {
		return &startupError{"probe setup", fmt.Errorf("resolving mounting user: %w", err)}
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return &startupError{"probe setup", fmt.Errorf("parsing uid %q: %w", u.Uid, err)}
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return &startupError{"probe setup", fmt.Errorf("parsing gid %q: %w", u.Gid, err)}
	}

	// Step 2: metrics and the DRE queue (its single worker is started after
	// route registration, below). nil registers against the default global registry, which is what
	// promhttp.Handler() (used by runfsmetrics.Serve) exposes.
	collectors := runfsmetrics.New(nil)

	// fs.Detach (internal/runfs/garbage.go) is the DRE's Detacher, but the
	// Queue must exist before the FileSystem does (the FileSystem enqueues
	// onto it). detacher forwards to fs once it is built below, breaking
	// the cycle without either package reaching into the other's internals.
	var fs *runfs.FileSystem
	detacher := dre.DetacherFunc(func(job dre.Job) error { return fs.Detach(job) })
	queue := dre.New(detacher, timeutil.RealClock(), collectors, legacyLog)

	// Step 3: VFS init — the FileSystem itself, wired to the probe and the
	// not-yet-started queue.
	fs = runfs.New(runfs.Config{
		Prober:   prober,
		Policy:   opts.Policy(),
		Clock:    timeutil.RealClock(),
		Queue:    queue,
		Metrics:  collectors,
		Logger:   legacyLog,
		MountUID: uint32(uid),
		MountGID: uint32(gid),
	})

	// Step 4: route registration — adapt the FileSystem to the kernel
	// bridge's dispatch convention.
	server := fuseutil.NewFileSystemServer(fs)

	if err := queue.Start(); err != nil {
		return &startupError{"worker-thread start", err}
	}
	defer queue.Stop()

	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if opts.MetricsAddr != "" {
		go func() {
			if err := runfsmetrics.Serve(metricsCtx, opts.MetricsAddr); err != nil {
				legacyLog.Printf("runfs: metrics server exited: %v", err)
			}
		}()
	}

	// Step 5: kernel bridge — attach the filesystem at mountPoint. Mount
	// blocks until the kernel bridge confirms the mount is live; unmounting
	// (e.g. via "fusermount -u" or "umount") is what unblocks Join below.
	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{})
	if err != nil {
		return &startupError{"kernel bridge", err}
	}

	if err := mfs.Join(context.Background()); err != nil {
		return &startupError{"kernel bridge", err}
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
