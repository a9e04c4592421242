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

// dirHandle is a snapshot of a directory's contents taken at OpenDir time.
// Per the spec's readdir protocol, validation and omission of dying
// entries happens once, when the handle is minted; later ReadDir calls on
// the same handle only slice into the snapshot, so a single ls(1) sees a
// consistent listing even if entries are reaped mid-stream. A fresh
// opendir(2) (a new handle) re-runs validation and picks up the change.
type dirHandle struct {
	entries []fuseops.Dirent
}

type childRef struct {
	name string
	id   fuseops.InodeID
}

// OpenDir snapshots the directory's live, valid children into a new
// handle. The directory itself is validated first, exactly like
// GetInodeAttributes: a directory whose own owning process has died must
// report NoEntry rather than serve a listing out of a cached dentry. Each
// surviving child is then passed through the same reap-if-invalid check,
// so a dying child is omitted from the snapshot (and its reap is kicked
// off) rather than merely hidden.
func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	dir := fs.entryByID(op.Inode)
	if dir == nil {
		err = fuse.ENOENT
		return
	}
	if fs.reapIfInvalid(dir) {
		err = fuse.ENOENT
		return
	}
	if !dir.isDir {
		err = fuse.EIO
		return
	}

	dir.mu.RLock()
	refs := make([]childRef, 0, len(dir.children))
	for name, id := range dir.children {
		refs = append(refs, childRef{name, id})
	}
	dir.mu.RUnlock()

	sortChildRefs(refs)

	rendered := make([]fuseops.Dirent, 0, len(refs))
	for _, ref := range refs {
		child := fs.entryByID(ref.id)
		if child == nil {
			continue
		}
		if fs.reapIfInvalid(child) {
			continue
		}

		child.mu.RLock()
		isDir := child.isDir
		child.mu.RUnlock()

		dtype := fuseutil.DT_File
		if isDir {
			dtype = fuseutil.DT_Directory
		}

		rendered = append(rendered, fuseops.Dirent{
			Offset: fuseops.DirOffset(len(rendered) + 1),
			Inode:  ref.id,
			Name:   ref.name,
			Type:   dtype,
		})
	}

	fs.mu.Lock()
	h := fs.nextHandle
	fs.nextHandle++
	fs.dirHandles[h] = &dirHandle{entries: rendered}
	fs.mu.Unlock()

	op.Handle = h
}

// ReadDir serves successive chunks of the snapshot taken by OpenDir,
// encoding each fuseops.Dirent with fuseutil.WriteDirent until the
// response buffer is full.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fs.mu.Lock()
	h := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if h == nil {
		err = fuse.EIO
		return
	}

	if int(op.Offset) > len(h.entries) {
		return
	}

	buf := make([]byte, op.Size)
	n := 0
	for _, d := range h.entries[op.Offset:] {
		wrote := fuseutil.WriteDirent(buf[n:], d)
		if wrote == 0 {
			break
		}
		n += wrote
	}

	op.Data = buf[:n]
}

// ReleaseDirHandle discards the snapshot.
func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
}

func sortChildRefs(refs []childRef) {
	for i := 1; i < len(refs); i++ {
		for j := i; j > 0 && refs[j-1].name > refs[j].name; j-- {
			refs[j-1], refs[j] = refs[j], refs[j-1]
		}
	}
}
