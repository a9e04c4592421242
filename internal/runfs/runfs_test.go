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

package runfs_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"

	"github.com/jcnelson/runfs/internal/dre"
	"github.com/jcnelson/runfs/internal/inoderecord"
	"github.com/jcnelson/runfs/internal/procprobe"
	"github.com/jcnelson/runfs/internal/runfs"
)

type fakeProber struct {
	fingerprints map[int32]procprobe.Fingerprint
}

func newFakeProber() *fakeProber {
	return &fakeProber{fingerprints: make(map[int32]procprobe.Fingerprint)}
}

func (f *fakeProber) Probe(pid int32) (procprobe.Fingerprint, error) {
	if fp, ok := f.fingerprints[pid]; ok {
		return fp, nil
	}
	return procprobe.Fingerprint{}, &procprobe.Error{Kind: procprobe.KindNotFound, PID: pid}
}

func (f *fakeProber) kill(pid int32) {
	delete(f.fingerprints, pid)
}

func (f *fakeProber) alive(pid int32) {
	f.fingerprints[pid] = procprobe.Fingerprint{
		PID: pid, Live: true, ExeInode: 1, ExeSize: 100, ExeMtime: time.Unix(1000, 0),
	}
}

func newTestFS(t *testing.T, prober procprobe.Prober) (*runfs.FileSystem, *dre.Queue) {
	t.Helper()

	q := dre.New(dre.DetacherFunc(func(dre.Job) error { return nil }), timeutil.RealClock(), nil, nil)

	fs := runfs.New(runfs.Config{
		Prober: prober,
		Policy: inoderecord.DefaultPolicy,
		Clock:  timeutil.RealClock(),
		Queue:  q,
	})

	return fs, q
}

func waitForNoErr(t *testing.T, f func() error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = f(); err == nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true: %v", err)
}

func mkdir(t *testing.T, fs *runfs.FileSystem, parent fuseops.InodeID, name string, pid uint32) fuseops.InodeID {
	t.Helper()
	op := &fuseops.MkDirOp{
		Header: fuseops.OpHeader{Pid: pid},
		Parent: parent,
		Name:   name,
		Mode:   os.ModeDir | 0755,
	}
	fs.MkDir(op)
	return op.Entry.Child
}

func createFile(t *testing.T, fs *runfs.FileSystem, parent fuseops.InodeID, name string, pid uint32) fuseops.InodeID {
	t.Helper()
	op := &fuseops.CreateFileOp{
		Header: fuseops.OpHeader{Pid: pid},
		Parent: parent,
		Name:   name,
		Mode:   0644,
	}
	fs.CreateFile(op)
	return op.Entry.Child
}

func statOK(fs *runfs.FileSystem, id fuseops.InodeID) error {
	op := &fuseops.GetInodeAttributesOp{Inode: id}
	fs.GetInodeAttributes(op)
	return opError(op)
}

// opError infers success from whether the handler populated
// AttributesExpiration, which only happens on the success path. These
// tests call handler methods directly rather than through a mounted
// fuse.Connection, so there is no Respond call to intercept; this is the
// simplest reliable proxy for it.
func opError(op *fuseops.GetInodeAttributesOp) error {
	if op.AttributesExpiration.IsZero() {
		return fuse.ENOENT
	}
	return nil
}

func TestMkDirThenStatSucceeds(t *testing.T) {
	prober := newFakeProber()
	prober.alive(100)

	fs, q := newTestFS(t, prober)
	q.Start()
	defer q.Stop()

	id := mkdir(t, fs, fuseops.RootInodeID, "p1", 100)
	if id == 0 {
		t.Fatalf("MkDir did not allocate an inode")
	}

	if err := statOK(fs, id); err != nil {
		t.Fatalf("stat of live entry failed: %v", err)
	}
}

func TestMkDirByDeadProcessFails(t *testing.T) {
	prober := newFakeProber() // PID 999 was never registered as alive.

	fs, q := newTestFS(t, prober)
	q.Start()
	defer q.Stop()

	op := &fuseops.MkDirOp{
		Header: fuseops.OpHeader{Pid: 999},
		Parent: fuseops.RootInodeID,
		Name:   "ghost",
		Mode:   os.ModeDir | 0755,
	}
	fs.MkDir(op)

	if op.Entry.Child != 0 {
		t.Fatalf("expected no child to be created for a dead creator")
	}
}

func TestStatAfterProcessDeathReapsEntry(t *testing.T) {
	prober := newFakeProber()
	prober.alive(200)

	fs, q := newTestFS(t, prober)
	q.Start()
	defer q.Stop()

	id := createFile(t, fs, fuseops.RootInodeID, "sock", 200)

	if err := statOK(fs, id); err != nil {
		t.Fatalf("stat before death should succeed: %v", err)
	}

	prober.kill(200)

	if err := statOK(fs, id); err == nil {
		t.Fatalf("expected stat after process death to report ENOENT")
	}

	// A second stat must also report ENOENT (idempotent, no panic on a
	// double-reap race).
	if err := statOK(fs, id); err == nil {
		t.Fatalf("expected repeated stat after death to still report ENOENT")
	}
}

// lateBoundDetacher breaks the construction cycle between a FileSystem and
// the dre.Queue it needs at construction time: the Queue needs a Detacher
// before FileSystem exists, and FileSystem.Detach needs a *FileSystem.
type lateBoundDetacher struct {
	fs   *runfs.FileSystem
	seen []dre.Job
}

func (l *lateBoundDetacher) Detach(job dre.Job) error {
	l.seen = append(l.seen, job)
	return l.fs.Detach(job)
}

func TestReaddirOmitsDeadEntryThenDREDetachesSubtree(t *testing.T) {
	prober := newFakeProber()
	prober.alive(300)
	prober.alive(301)

	ld := &lateBoundDetacher{}
	q := dre.New(ld, timeutil.RealClock(), nil, nil)

	fs := runfs.New(runfs.Config{
		Prober: prober,
		Policy: inoderecord.DefaultPolicy,
		Clock:  timeutil.RealClock(),
		Queue:  q,
	})
	ld.fs = fs

	q.Start()
	defer q.Stop()

	mkdir(t, fs, fuseops.RootInodeID, "alive", 301)
	dying := mkdir(t, fs, fuseops.RootInodeID, "dying", 300)
	createFile(t, fs, dying, "leaf", 300)

	prober.kill(300)

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	fs.OpenDir(openOp)

	readOp := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: openOp.Handle, Size: 4096}
	fs.ReadDir(readOp)
	if len(readOp.Data) == 0 {
		t.Fatalf("expected readdir to return the surviving entry")
	}

	waitForNoErr(t, func() error {
		if len(ld.seen) == 0 {
			return fuse.EIO
		}
		return nil
	})

	if ld.seen[0].Path != "/dying" {
		t.Fatalf("expected the dying subtree's root path to be detached, got %q", ld.seen[0].Path)
	}

	// Once the DRE has detached the subtree, the parent's directory entry
	// for "dying" is gone entirely, not merely stale: a lookup by name must
	// fail rather than resolve to a since-reaped inode.
	waitForNoErr(t, func() error {
		lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dying"}
		fs.LookUpInode(lookup)
		if lookup.Entry.Child != 0 {
			return fuse.EIO
		}
		return nil
	})
}

// countingDetacher records every job handed to it under a mutex, unlike
// lateBoundDetacher's bare slice append, since the test goroutine reads the
// count while the DRE worker may still be appending.
type countingDetacher struct {
	fs *runfs.FileSystem

	mu   sync.Mutex
	seen []dre.Job
}

func (c *countingDetacher) Detach(job dre.Job) error {
	c.mu.Lock()
	c.seen = append(c.seen, job)
	c.mu.Unlock()
	return c.fs.Detach(job)
}

func (c *countingDetacher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// TestConcurrentStatRaceEnqueuesExactlyOneRemovalJob covers spec scenario
// (e) and invariant 2: 32 goroutines stat the same entry immediately after
// its owning process exits. Every one must observe NoEntry, and the
// reapIfInvalid lock-upgrade-and-recheck must let exactly one of them win
// the race to enqueue the Removal Job, never zero and never more than one.
func TestConcurrentStatRaceEnqueuesExactlyOneRemovalJob(t *testing.T) {
	prober := newFakeProber()
	prober.alive(400)

	cd := &countingDetacher{}
	q := dre.New(cd, timeutil.RealClock(), nil, nil)

	fs := runfs.New(runfs.Config{
		Prober: prober,
		Policy: inoderecord.DefaultPolicy,
		Clock:  timeutil.RealClock(),
		Queue:  q,
	})
	cd.fs = fs

	q.Start()
	defer q.Stop()

	id := createFile(t, fs, fuseops.RootInodeID, "race", 400)
	if err := statOK(fs, id); err != nil {
		t.Fatalf("stat before death should succeed: %v", err)
	}

	prober.kill(400)

	const threads = 32
	var wg sync.WaitGroup
	errs := make([]error, threads)
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = statOK(fs, id)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("goroutine %d: expected ENOENT after owner death, got success", i)
		}
	}

	waitForNoErr(t, func() error {
		if cd.count() == 0 {
			return fuse.EIO
		}
		return nil
	})

	// Give any would-be duplicate enqueue a chance to land before asserting
	// the count is final.
	time.Sleep(20 * time.Millisecond)
	if got := cd.count(); got != 1 {
		t.Fatalf("expected exactly 1 Removal Job enqueued for 32 racing stats, got %d", got)
	}
}
