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
	"os"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/jcnelson/runfs/internal/inoderecord"
)

// callerPID extracts the PID of the process making this call. An older
// snapshot of this dependency carried only Uid and Gid on OpHeader, but
// the pinned release actually in use (see go.mod) added Pid alongside
// them, matching every other FUSE binding's fuse_in_header; runfs's whole
// reason for existing depends on that field being present.
func callerPID(h fuseops.OpHeader) int32 {
	return int32(h.Pid)
}

// createChild allocates a new entry of the given kind under parent, binds
// it to the calling process via a freshly initialized inoderecord.Record,
// and registers it in the filesystem-wide table. It fails with
// inoderecord.ErrNoSuchProcess if the caller has already exited by the
// time the probe runs — the "phantom create" race the spec calls out.
func (fs *FileSystem) createChild(parent *entry, name string, pid int32, mode os.FileMode, isDir bool) (*entry, error) {
	rec, err := inoderecord.Init(fs.prober, pid, fs.policy)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	id := fs.nextID
	fs.nextID++

	var child *entry
	attrs := fuseops.InodeAttributes{Mode: mode, Uid: uint32(0), Gid: uint32(0)}
	if isDir {
		child = newDirEntry(id, parent.id, name, attrs)
	} else {
		child = newFileEntry(id, parent.id, name, attrs)
	}
	child.record = rec

	fs.entries[id] = child
	fs.mu.Unlock()

	parent.mu.Lock()
	parent.addChild(id, name)
	parent.mu.Unlock()

	return child, nil
}

// MkDir creates a subdirectory owned by the calling process.
func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent := fs.entryByID(op.Parent)
	if parent == nil {
		err = fuse.ENOENT
		return
	}

	parent.mu.RLock()
	_, exists := parent.lookUpChild(op.Name)
	parent.mu.RUnlock()
	if exists {
		err = fuse.EEXIST
		return
	}

	child, cerr := fs.createChild(parent, op.Name, callerPID(op.Header), op.Mode, true)
	if cerr != nil {
		if cerr == inoderecord.ErrNoSuchProcess {
			err = fuse.ENOENT
			return
		}
		err = fuse.EIO
		return
	}

	child.mu.RLock()
	op.Entry = fuseops.ChildInodeEntry{
		Child:                child.id,
		Attributes:           attributesFor(child),
		AttributesExpiration: fs.clock.Now().Add(attrCacheTTL),
		EntryExpiration:      fs.clock.Now().Add(attrCacheTTL),
	}
	child.mu.RUnlock()
}

// CreateFile creates and opens a new regular file owned by the calling
// process. The returned handle is purely nominal: reads and writes are
// addressed by inode, not by handle state, so any allocated handle ID
// works.
func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	parent := fs.entryByID(op.Parent)
	if parent == nil {
		err = fuse.ENOENT
		return
	}

	parent.mu.RLock()
	_, exists := parent.lookUpChild(op.Name)
	parent.mu.RUnlock()
	if exists {
		err = fuse.EEXIST
		return
	}

	child, cerr := fs.createChild(parent, op.Name, callerPID(op.Header), op.Mode, false)
	if cerr != nil {
		if cerr == inoderecord.ErrNoSuchProcess {
			err = fuse.ENOENT
			return
		}
		err = fuse.EIO
		return
	}

	fs.mu.Lock()
	handle := fs.nextHandle
	fs.nextHandle++
	fs.mu.Unlock()

	child.mu.RLock()
	op.Entry = fuseops.ChildInodeEntry{
		Child:                child.id,
		Attributes:           attributesFor(child),
		AttributesExpiration: fs.clock.Now().Add(attrCacheTTL),
		EntryExpiration:      fs.clock.Now().Add(attrCacheTTL),
	}
	child.mu.RUnlock()
	op.Handle = handle
}

// CreateSymlink is not supported: a symlink has no process binding, and
// the spec's ownership model has nothing meaningful to attach to one.
func (fs *FileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
	err = fuse.ENOSYS
}

// RmDir removes an empty, explicitly-unlinked directory. Process-death
// reaping is handled entirely by reapIfInvalid; RmDir is for a live
// process that wants to clean up its own entry early.
func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
	fs.unlinkChild(op.Parent, op.Name, true, &err)
}

// Unlink removes a file explicitly.
func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
	fs.unlinkChild(op.Parent, op.Name, false, &err)
}

func (fs *FileSystem) unlinkChild(parentID fuseops.InodeID, name string, wantDir bool, err *error) {
	parent := fs.entryByID(parentID)
	if parent == nil {
		*err = fuse.ENOENT
		return
	}

	parent.mu.RLock()
	childID, ok := parent.lookUpChild(name)
	parent.mu.RUnlock()
	if !ok {
		*err = fuse.ENOENT
		return
	}

	child := fs.entryByID(childID)
	if child == nil {
		*err = fuse.ENOENT
		return
	}

	child.mu.Lock()
	if child.isDir != wantDir {
		child.mu.Unlock()
		*err = fuse.EIO
		return
	}
	if wantDir && len(child.children) > 0 {
		child.mu.Unlock()
		*err = fuse.ENOTEMPTY
		return
	}
	if child.record != nil {
		child.record.MarkDeleted()
		child.record.Free()
		child.record = nil
	}
	child.deleted = true
	child.mu.Unlock()

	parent.mu.Lock()
	parent.removeChildLocked(name)
	parent.mu.Unlock()

	fs.mu.Lock()
	delete(fs.entries, childID)
	fs.mu.Unlock()
}
