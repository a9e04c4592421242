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
	"os"
	"testing"
)

func TestProbeSelf(t *testing.T) {
	p := NewLinuxProber()

	fp, err := p.Probe(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("Probe(self): %v", err)
	}

	if !fp.Live {
		t.Errorf("expected self to be live")
	}
	if fp.ExePath == "" {
		t.Errorf("expected non-empty exe path")
	}
	if fp.ExeInode == 0 {
		t.Errorf("expected non-zero exe inode")
	}
	if fp.StartTime == 0 {
		t.Errorf("expected non-zero start time")
	}
	if fp.BinaryDeleted {
		t.Errorf("did not expect binary-deleted for a running test binary")
	}
}

func TestProbeNonexistentPID(t *testing.T) {
	p := NewLinuxProber()

	// PID 1 << 30 will never be a real process ID on any Linux system.
	_, err := p.Probe(1 << 30)
	if err == nil {
		t.Fatalf("expected error probing a nonexistent PID")
	}

	pe, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *procprobe.Error, got %T", err)
	}
	if pe.Kind != KindNotFound {
		t.Errorf("expected KindNotFound, got %v", pe.Kind)
	}
}

func TestReadStartTimeParsesCommWithSpaces(t *testing.T) {
	dir := t.TempDir()
	statPath := dir + "/stat"
	// comm field containing a space and a literal paren, as real processes
	// such as "(sd-pam)" can produce.
	line := "1234 (my (weird) proc) S 1 1234 1234 0 -1 4194560 0 0 0 0 0 0 0 0 20 0 1 0 56789 0 0 18446744073709551615\n"
	if err := os.WriteFile(statPath, []byte(line), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	start, err := readStartTime(dir)
	if err != nil {
		t.Fatalf("readStartTime: %v", err)
	}
	if start != 56789 {
		t.Errorf("expected starttime 56789, got %d", start)
	}
}
