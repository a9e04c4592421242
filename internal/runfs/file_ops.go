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
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// OpenFile validates the target still belongs to a live process before
// minting a handle; a file whose owner has already died should not be
// openable even if no stat has raced it yet.
func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
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

	fs.mu.Lock()
	op.Handle = fs.nextHandle
	fs.nextHandle++
	fs.mu.Unlock()
}

// ReadFile reads directly from the entry's content buffer; handles carry
// no state of their own for files (unlike directories), since reads are
// addressed by Inode.
func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
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
	defer e.mu.RUnlock()
	if e.record == nil {
		err = fuse.ENOSYS
		return
	}

	buf := make([]byte, op.Size)
	n := e.record.ReadAt(buf, op.Offset)
	op.Data = buf[:n]
}

// WriteFile appends/overwrites at the given offset, growing the buffer as
// needed.
func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) {
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

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record == nil {
		err = fuse.ENOENT
		return
	}
	e.record.WriteAt(op.Data, op.Offset)
}

// SyncFile and FlushFile are no-ops: the content buffer is always
// in-memory and there is nothing further to persist.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
}

// ReleaseFileHandle has nothing to release: file handles carry no
// allocated state.
func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)
}
