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

package inoderecord_test

import (
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"

	"github.com/jcnelson/runfs/internal/inoderecord"
	"github.com/jcnelson/runfs/internal/procprobe"
)

func TestInodeRecord(t *testing.T) { RunTests(t) }

// fakeProber stands in for /proc, returning a canned fingerprint (or
// error) per PID.
type fakeProber struct {
	fingerprints map[int32]procprobe.Fingerprint
	errs         map[int32]error
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		fingerprints: make(map[int32]procprobe.Fingerprint),
		errs:         make(map[int32]error),
	}
}

func (f *fakeProber) Probe(pid int32) (procprobe.Fingerprint, error) {
	if err, ok := f.errs[pid]; ok {
		return procprobe.Fingerprint{}, err
	}
	if fp, ok := f.fingerprints[pid]; ok {
		return fp, nil
	}
	return procprobe.Fingerprint{}, &procprobe.Error{Kind: procprobe.KindNotFound, PID: pid}
}

////////////////////////////////////////////////////////////////////////
// Init
////////////////////////////////////////////////////////////////////////

type InitTest struct {
}

func init() { RegisterTestSuite(&InitTest{}) }

func (t *InitTest) PhantomProcess_Errors() {
	prober := newFakeProber()

	_, err := inoderecord.Init(prober, 1000, inoderecord.DefaultPolicy)
	ExpectEq(inoderecord.ErrNoSuchProcess, err)
}

func (t *InitTest) LiveProcess_Succeeds() {
	prober := newFakeProber()
	prober.fingerprints[1000] = procprobe.Fingerprint{
		PID: 1000, Live: true, ExeInode: 7, ExeSize: 100, StartTime: 5000,
	}

	rec, err := inoderecord.Init(prober, 1000, inoderecord.DefaultPolicy)
	AssertEq(nil, err)
	ExpectEq(int32(1000), rec.PID())
	ExpectFalse(rec.Deleted())
}

////////////////////////////////////////////////////////////////////////
// IsValid
////////////////////////////////////////////////////////////////////////

type IsValidTest struct {
	prober *fakeProber
	rec    *inoderecord.Record
}

func init() { RegisterTestSuite(&IsValidTest{}) }

func (t *IsValidTest) SetUp(ti *TestInfo) {
	t.prober = newFakeProber()
	t.prober.fingerprints[1000] = procprobe.Fingerprint{
		PID:      1000,
		Live:     true,
		ExeInode: 7,
		ExeSize:  100,
		ExeMtime: time.Unix(1000, 0),
		ExePath:  "/usr/bin/foo",
		StartTime: 5000,
	}

	var err error
	t.rec, err = inoderecord.Init(t.prober, 1000, inoderecord.DefaultPolicy)
	AssertEq(nil, err)
}

func (t *IsValidTest) StillRunning_SameBinary_Valid() {
	ExpectEq(inoderecord.Valid, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) ProcessExited_Invalid() {
	t.prober.fingerprints[1000] = procprobe.Fingerprint{PID: 1000, Live: false}
	ExpectEq(inoderecord.Invalid, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) PIDRecycled_DifferentBinary_Invalid() {
	// New process, same PID, different executable inode/size/mtime: the
	// default policy's INODE/SIZE/MTIME checks catch this even without
	// START_TIME in the policy.
	t.prober.fingerprints[1000] = procprobe.Fingerprint{
		PID: 1000, Live: true, ExeInode: 99, ExeSize: 1, ExeMtime: time.Unix(2000, 0), StartTime: 9000,
	}
	ExpectEq(inoderecord.Invalid, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) ExecutableUpgradedInPlace_Invalid() {
	// Same path, new inode/mtime (e.g. a package manager replaced the
	// binary on disk while the process kept running the old image).
	t.prober.fingerprints[1000] = procprobe.Fingerprint{
		PID: 1000, Live: true, ExeInode: 42, ExeSize: 100, ExeMtime: time.Unix(9999, 0),
		ExePath: "/usr/bin/foo", StartTime: 5000,
	}
	ExpectEq(inoderecord.Invalid, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) BinaryDeletedFlag_Invalid() {
	fp := t.prober.fingerprints[1000]
	fp.BinaryDeleted = true
	t.prober.fingerprints[1000] = fp
	ExpectEq(inoderecord.Invalid, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) ProbeError_TreatedAsErrorNotInvalid() {
	t.prober.errs[1000] = &procprobe.Error{Kind: procprobe.KindIO, PID: 1000}
	ExpectEq(inoderecord.ValidityError, t.rec.IsValid(t.prober))
}

func (t *IsValidTest) StartTimePolicy_PIDRecycleDetectedDirectly() {
	prober := newFakeProber()
	prober.fingerprints[1000] = procprobe.Fingerprint{
		PID: 1000, Live: true, ExeInode: 7, ExeSize: 100,
		ExeMtime: time.Unix(1000, 0), StartTime: 5000,
	}
	rec, err := inoderecord.Init(prober, 1000, inoderecord.PolicyAll)
	AssertEq(nil, err)

	// Recycled PID with an (implausibly) identical executable fingerprint
	// but a different start time.
	prober.fingerprints[1000] = procprobe.Fingerprint{
		PID: 1000, Live: true, ExeInode: 7, ExeSize: 100,
		ExeMtime: time.Unix(1000, 0), StartTime: 9000,
	}
	ExpectEq(inoderecord.Invalid, rec.IsValid(prober))
}

////////////////////////////////////////////////////////////////////////
// Content buffer (write/read round-trip)
////////////////////////////////////////////////////////////////////////

type ContentTest struct {
	rec *inoderecord.Record
}

func init() { RegisterTestSuite(&ContentTest{}) }

func (t *ContentTest) SetUp(ti *TestInfo) {
	prober := newFakeProber()
	prober.fingerprints[1] = procprobe.Fingerprint{PID: 1, Live: true}

	var err error
	t.rec, err = inoderecord.Init(prober, 1, inoderecord.DefaultPolicy)
	AssertEq(nil, err)
}

func (t *ContentTest) WriteThenReadRoundTrips() {
	payload := []byte("hello")
	t.rec.WriteAt(payload, 0)

	buf := make([]byte, len(payload))
	n := t.rec.ReadAt(buf, 0)
	ExpectEq(len(payload), n)
	ExpectEq(string(payload), string(buf))
}

func (t *ContentTest) GapsReadAsZero() {
	t.rec.WriteAt([]byte("hello"), 10)

	buf := make([]byte, 10)
	n := t.rec.ReadAt(buf, 0)
	ExpectEq(10, n)
	for _, b := range buf {
		ExpectEq(byte(0), b)
	}
}

func (t *ContentTest) ReadPastEOFReturnsZero() {
	t.rec.WriteAt([]byte("hi"), 0)

	buf := make([]byte, 5)
	n := t.rec.ReadAt(buf, 100)
	ExpectEq(0, n)
}

func (t *ContentTest) TruncateShrinkThenGrowReturnsZeroedTail() {
	t.rec.WriteAt([]byte("helloworld"), 0)
	t.rec.Truncate(5)
	ExpectEq(int64(5), t.rec.Size())

	t.rec.Truncate(10)
	ExpectEq(int64(10), t.rec.Size())

	buf := make([]byte, 10)
	t.rec.ReadAt(buf, 0)
	ExpectEq("hello", string(buf[:5]))
	for _, b := range buf[5:] {
		ExpectEq(byte(0), b)
	}
}
