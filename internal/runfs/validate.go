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
	"github.com/jacobsa/fuse/fuseops"

	"github.com/jcnelson/runfs/internal/dre"
	"github.com/jcnelson/runfs/internal/inoderecord"
)

// reapIfInvalid runs the stat validation protocol against e: a cheap
// read-locked check of its record's validity, and only on the rare
// transition to invalid, a write-locked re-check and hand-off to the DRE.
//
// The root directory and any entry with no record (there is only ever one:
// the root) are always valid.
//
// Returns true if the caller should treat e as already gone (respond
// ENOENT), whether or not this call is the one that actually tagged it.
func (fs *FileSystem) reapIfInvalid(e *entry) bool {
	if e.id == fuseops.RootInodeID {
		return false
	}

	e.mu.RLock()
	if e.deleted {
		e.mu.RUnlock()
		return true
	}
	if e.record == nil {
		e.mu.RUnlock()
		return false
	}
	v := e.record.IsValid(fs.prober)
	parentID, name := e.parent, e.name
	e.mu.RUnlock()

	if v == inoderecord.Valid {
		return false
	}
	if v == inoderecord.ValidityError {
		// The probe itself failed; spec treats this as INVALID rather than
		// blocking cleanup, but unlike an ordinary liveness mismatch it's
		// worth a log line since it may indicate a probe-side problem
		// distinct from "the owning process exited".
		fs.logger.Printf("runfs: validity probe failed for %q, treating as invalid", fs.absolutePath(parentID, name))
	}

	// Upgrade to a write lock and re-check: another goroutine may have
	// already won the race to tag this entry while we held no lock at all.
	// The table lock is taken first (the order documented on FileSystem.mu)
	// because the subtree walk below resolves child IDs through the table.
	fs.mu.Lock()
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		fs.mu.Unlock()
		return true
	}

	var bytesFreed int64
	if e.record != nil {
		bytesFreed = e.record.Size()
		e.record.MarkDeleted()
		e.record.Free()
		e.record = nil
	}
	e.deleted = true

	ids := fs.collectSubtreeLocked(e)
	e.mu.Unlock()
	fs.mu.Unlock()

	fs.metrics.EntryReaped(bytesFreed)
	fs.queue.Enqueue(dre.Job{
		Path: fs.absolutePath(parentID, name),
		Bag:  &garbageBag{parentID: parentID, name: name, ids: ids},
	})

	return true
}

// collectSubtreeLocked gathers the InodeIDs of e and, recursively, every
// descendant still reachable through the live children maps. The caller
// must already hold fs.mu and e.mu exclusively; each descendant is locked
// and released in turn as the walk descends.
func (fs *FileSystem) collectSubtreeLocked(e *entry) []fuseops.InodeID {
	ids := []fuseops.InodeID{e.id}
	if !e.isDir {
		return ids
	}

	for _, childID := range e.children {
		child := fs.entries[childID]
		if child == nil {
			continue
		}
		child.mu.Lock()
		ids = append(ids, fs.collectSubtreeLocked(child)...)
		child.mu.Unlock()
	}

	return ids
}

// absolutePath walks the parent chain from (parentID, name) back to the
// root, reconstructing the path the DRE should name in logs and metrics.
// It takes the table lock and then each ancestor's read lock in turn, one
// at a time, never holding both at once.
func (fs *FileSystem) absolutePath(parentID fuseops.InodeID, name string) string {
	segments := []string{name}

	id := parentID
	for id != fuseops.RootInodeID {
		e := fs.entryByID(id)
		if e == nil {
			break
		}
		e.mu.RLock()
		segName, segParent := e.name, e.parent
		e.mu.RUnlock()

		segments = append(segments, segName)
		id = segParent
	}

	out := ""
	for i := len(segments) - 1; i >= 0; i-- {
		out += "/" + segments[i]
	}
	return out
}
