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

// Package runfs implements the filesystem handler set: the fuseutil.FileSystem
// atop which PID-owned entries are created, validated and reaped.
package runfs

import (
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/jcnelson/runfs/internal/inoderecord"
)

// entry is the in-memory payload for one VFS entry: a directory or a
// regular file. Its lock mediates every field below, including the
// state-machine slot (record). There is no separate lock for the
// content buffer; Record embeds it and shares entry's lock.
type entry struct {
	mu sync.RWMutex

	id       fuseops.InodeID
	parent   fuseops.InodeID // GUARDED_BY(mu); fuseops.RootInodeID for the root
	name     string          // GUARDED_BY(mu); "" for the root
	isDir    bool
	attrs    fuseops.InodeAttributes // GUARDED_BY(mu)
	linkCount uint32                 // GUARDED_BY(mu)

	// children is non-nil only for directories.
	children map[string]fuseops.InodeID // GUARDED_BY(mu)

	// record is this entry's Fresh/Live/Dying/Gone slot. nil means either
	// Fresh (never initialized — true only transiently during creation) or,
	// with deleted set, Dying or Gone (the record is freed at the Dying
	// transition). The root directory's record is always nil: it has no
	// creating process.
	record *inoderecord.Record // GUARDED_BY(mu)

	// deleted mirrors record.Deleted() after record is nilled out by a
	// completed transition, so that late readers who raced the transition
	// still observe Dying rather than a stale Live-looking nil record.
	deleted bool // GUARDED_BY(mu)
}

func newDirEntry(id, parent fuseops.InodeID, name string, attrs fuseops.InodeAttributes) *entry {
	attrs.Mode |= os.ModeDir
	return &entry{
		id:       id,
		parent:   parent,
		name:     name,
		isDir:    true,
		attrs:    attrs,
		children: make(map[string]fuseops.InodeID),
		linkCount: 1,
	}
}

func newFileEntry(id, parent fuseops.InodeID, name string, attrs fuseops.InodeAttributes) *entry {
	return &entry{
		id:        id,
		parent:    parent,
		name:      name,
		isDir:     false,
		attrs:     attrs,
		linkCount: 1,
	}
}

// lookUpChild returns the InodeID of the named child, if any.
//
// SHARED_LOCKS_REQUIRED(e.mu)
func (e *entry) lookUpChild(name string) (fuseops.InodeID, bool) {
	id, ok := e.children[name]
	return id, ok
}

// addChild records a new child entry under name.
//
// EXCLUSIVE_LOCKS_REQUIRED(e.mu)
func (e *entry) addChild(id fuseops.InodeID, name string) {
	e.children[name] = id
}

// removeChildLocked removes the named child from this directory's table.
// Used by the DRE's detach path (garbage.go, which also holds the
// filesystem-wide table lock) and by explicit unlink/rmdir (creation.go).
//
// EXCLUSIVE_LOCKS_REQUIRED(e.mu)
func (e *entry) removeChildLocked(name string) {
	delete(e.children, name)
}

