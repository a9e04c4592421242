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

package runfs

import (
	"log"
	"os"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/jcnelson/runfs/internal/dre"
	"github.com/jcnelson/runfs/internal/inoderecord"
	"github.com/jcnelson/runfs/internal/procprobe"
)

// attrCacheTTL bounds how long the kernel may cache attributes and dentries
// we hand out. It is kept short: a process dying is exactly the kind of
// change the kernel cache must not paper over for long.
const attrCacheTTL = time.Second

// Metrics receives notifications about reaping activity, independent of
// the DRE's own queue-depth metrics (see internal/dre.Metrics).
type Metrics interface {
	EntryReaped(bytesFreed int64)
}

type noopMetrics struct{}

func (noopMetrics) EntryReaped(int64) {}

// FileSystem implements fuseutil.FileSystem. Every VFS entry other than the
// root is backed by an *inoderecord.Record tying it to the process that
// created it; GetInodeAttributes and OpenDir both run the validity
// predicate before exposing an entry, deferring the actual subtree
// teardown to the Deferred Removal Engine.
type FileSystem struct {
	prober procprobe.Prober
	policy inoderecord.VerifyPolicy
	clock  timeutil.Clock
	queue  *dre.Queue
	metrics Metrics
	logger *log.Logger

	mountUID uint32
	mountGID uint32

	// mu guards the entry table, handle tables and ID counters. It does not
	// guard any individual entry's own fields; entry.mu does that. Lock
	// order when both are needed: mu before any entry.mu (see validate.go
	// and garbage.go, the two places that must take both).
	mu syncutil.InvariantMutex

	entries map[fuseops.InodeID]*entry // GUARDED_BY(mu)
	nextID  fuseops.InodeID            // GUARDED_BY(mu)

	dirHandles map[fuseops.HandleID]*dirHandle // GUARDED_BY(mu)
	nextHandle fuseops.HandleID                // GUARDED_BY(mu)
}

// Config bundles FileSystem's construction-time dependencies.
type Config struct {
	Prober  procprobe.Prober
	Policy  inoderecord.VerifyPolicy
	Clock   timeutil.Clock
	Queue   *dre.Queue
	Metrics Metrics
	Logger  *log.Logger

	MountUID uint32
	MountGID uint32
}

// New constructs a FileSystem with a single root directory already present
// (InodeID 1, per the FUSE convention fuseops.RootInodeID). The root has no
// backing Record: there is no process that "created" it, and it is never a
// candidate for reaping.
func New(cfg Config) *FileSystem {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Policy == 0 {
		cfg.Policy = inoderecord.DefaultPolicy
	}

	fs := &FileSystem{
		prober:   cfg.Prober,
		policy:   cfg.Policy,
		clock:    cfg.Clock,
		queue:    cfg.Queue,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		mountUID: cfg.MountUID,
		mountGID: cfg.MountGID,

		entries:    make(map[fuseops.InodeID]*entry),
		nextID:     fuseops.RootInodeID + 1,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}

	root := newDirEntry(fuseops.RootInodeID, fuseops.RootInodeID, "", fuseops.InodeAttributes{
		Mode: os.ModeDir | 0755,
		Uid:  cfg.MountUID,
		Gid:  cfg.MountGID,
	})
	fs.entries[fuseops.RootInodeID] = root

	return fs
}

// Init is a no-op; there is nothing to prepare before the kernel starts
// sending requests.
func (fs *FileSystem) Init(op *fuseops.InitOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
}

// LookUpInode resolves a (parent, name) pair to a child inode, running the
// same reap-if-invalid check that GetInodeAttributes does: a name that
// exists structurally but whose owning process has died must not be
// resurrected into the kernel's dentry cache by a lookup.
func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent := fs.entryByID(op.Parent)
	if parent == nil {
		err = fuse.ENOENT
		return
	}

	parent.mu.RLock()
	childID, ok := parent.lookUpChild(op.Name)
	parent.mu.RUnlock()
	if !ok {
		err = fuse.ENOENT
		return
	}

	child := fs.entryByID(childID)
	if child == nil {
		err = fuse.ENOENT
		return
	}

	if fs.reapIfInvalid(child) {
		err = fuse.ENOENT
		return
	}

	child.mu.RLock()
	op.Entry = fuseops.ChildInodeEntry{
		Child:                childID,
		Attributes:           attributesFor(child),
		AttributesExpiration: fs.clock.Now().Add(attrCacheTTL),
		EntryExpiration:      fs.clock.Now().Add(attrCacheTTL),
	}
	child.mu.RUnlock()
}

// GetInodeAttributes implements the spec's stat validation protocol in
// full: read-lock, check, and only upgrade to a write lock on the
// (uncommon) path where the entry must transition to Dying.
func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	e := fs.entryByID(op.Inode)
	if e == nil {
		err = fuse.ENOENT
		return
	}

	if fs.reapIfInvalid(e) {
		err = fuse.ENOENT
		return
	}

	e.mu.RLock()
	op.Attributes = attributesFor(e)
	e.mu.RUnlock()
	op.AttributesExpiration = fs.clock.Now().Add(attrCacheTTL)
}

// SetInodeAttributes supports only truncation of a file's content; chmod,
// chown and utimes are rejected. A directory or a reaped entry can't be
// resized.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	e := fs.entryByID(op.Inode)
	if e == nil {
		err = fuse.ENOENT
		return
	}

	if fs.reapIfInvalid(e) {
		err = fuse.ENOENT
		return
	}

	if op.Mode != nil || op.Atime != nil || op.Mtime != nil {
		err = fuse.ENOSYS
		return
	}

	e.mu.Lock()
	if e.isDir {
		e.mu.Unlock()
		err = fuse.ENOSYS
		return
	}
	if op.Size != nil && e.record != nil {
		e.record.Truncate(int64(*op.Size))
		e.attrs.Mtime = fs.clock.Now()
	}
	op.Attributes = attributesFor(e)
	e.mu.Unlock()

	op.AttributesExpiration = fs.clock.Now().Add(attrCacheTTL)
}

// ForgetInode drops the kernel's lookup-count reference. Entries here carry
// no separate lookup-count bookkeeping (unlike gcsfuse's GCS-object
// inodes): reaping is driven entirely by process liveness, not by the
// kernel forgetting about an inode, so there is nothing to do beyond
// acknowledging the op.
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
}

// entryByID looks up an entry under the table lock. Returns nil if absent.
func (fs *FileSystem) entryByID(id fuseops.InodeID) *entry {
	fs.mu.Lock()
	e := fs.entries[id]
	fs.mu.Unlock()
	return e
}

func attributesFor(e *entry) fuseops.InodeAttributes {
	attrs := e.attrs
	attrs.Nlink = e.linkCount
	if !e.isDir && e.record != nil {
		attrs.Size = uint64(e.record.Size())
	}
	return attrs
}
