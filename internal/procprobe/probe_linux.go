// Copyright 2015 Google Inc. All Rights Reserved.
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

//go:build linux

package procprobe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const deletedSuffix = " (deleted)"

// LinuxProber reads process metadata from /proc. It holds no state of its
// own; every Probe call re-reads the kernel's current view.
type LinuxProber struct{}

// NewLinuxProber returns a Prober backed by /proc.
func NewLinuxProber() *LinuxProber {
	return &LinuxProber{}
}

var _ Prober = (*LinuxProber)(nil)

func (p *LinuxProber) Probe(pid int32) (Fingerprint, error) {
	fp := Fingerprint{PID: pid}

	procDir := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procDir); err != nil {
		if os.IsNotExist(err) {
			return Fingerprint{}, &Error{Kind: KindNotFound, PID: pid, Err: err}
		}
		return Fingerprint{}, &Error{Kind: KindIO, PID: pid, Err: err}
	}
	fp.Live = true

	exeLink := procDir + "/exe"
	target, err := os.Readlink(exeLink)
	if err != nil {
		if os.IsNotExist(err) {
			return Fingerprint{}, &Error{Kind: KindNotFound, PID: pid, Err: err}
		}
		if os.IsPermission(err) {
			return Fingerprint{}, &Error{Kind: KindDenied, PID: pid, Err: err}
		}
		return Fingerprint{}, &Error{Kind: KindIO, PID: pid, Err: err}
	}

	if strings.HasSuffix(target, deletedSuffix) {
		fp.BinaryDeleted = true
		target = strings.TrimSuffix(target, deletedSuffix)
	}
	fp.ExePath = target

	// One hop only: target must already name a regular file.
	var st unix.Stat_t
	if err := unix.Lstat(target, &st); err != nil {
		return Fingerprint{}, &Error{Kind: KindIO, PID: pid, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return Fingerprint{}, &Error{Kind: KindDenied, PID: pid, Err: fmt.Errorf("%s: not a regular file", target)}
	}

	fp.ExeInode = st.Ino
	fp.ExeSize = st.Size
	fp.ExeMtime = time.Unix(st.Mtim.Sec, st.Mtim.Nsec)

	startTime, err := readStartTime(procDir)
	if err != nil {
		return Fingerprint{}, &Error{Kind: KindIO, PID: pid, Err: err}
	}
	fp.StartTime = startTime

	return fp, nil
}

// readStartTime parses field 22 (starttime) of /proc/<pid>/stat. The comm
// field (2) is parenthesized and may itself contain spaces or closing
// parens, so we split on the last ")" rather than whitespace.
func readStartTime(procDir string) (uint64, error) {
	raw, err := os.ReadFile(procDir + "/stat")
	if err != nil {
		return 0, err
	}

	s := string(raw)
	close := strings.LastIndexByte(s, ')')
	if close < 0 || close+2 > len(s) {
		return 0, fmt.Errorf("malformed stat line")
	}

	fields := strings.Fields(s[close+2:])
	// Fields after comm start at field 3; starttime is field 22, i.e. index
	// 22-3 = 19 within this slice.
	const starttimeIndex = 22 - 3
	if starttimeIndex >= len(fields) {
		return 0, fmt.Errorf("stat line too short")
	}

	v, err := strconv.ParseUint(fields[starttimeIndex], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing starttime: %w", err)
	}
	return v, nil
}
