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
	"fmt"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/jcnelson/runfs/internal/dre"
)

// garbageBag is the Bag payload of a dre.Job produced by reapIfInvalid: the
// excised subtree's own IDs, plus enough of the parent link to unlink the
// now-invalid name from the directory that used to contain it.
type garbageBag struct {
	parentID fuseops.InodeID
	name     string
	ids      []fuseops.InodeID
}

// Detach implements dre.Detacher. It performs the actual mutation that
// reapIfInvalid only staged: removing the dead name from its parent's
// children map and deleting every entry in the subtree from the
// filesystem-wide table, so that a stale InodeID can never again resolve
// to a live *entry.
//
// Detach holds fs.mu while also taking an entry's own lock (the parent's),
// so lock order here is exactly as documented on FileSystem.mu: table lock
// first.
func (fs *FileSystem) Detach(job dre.Job) error {
	bag, ok := job.Bag.(*garbageBag)
	if !ok {
		return fmt.Errorf("runfs: unexpected job bag type %T", job.Bag)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if parent, ok := fs.entries[bag.parentID]; ok {
		parent.mu.Lock()
		parent.removeChildLocked(bag.name)
		parent.mu.Unlock()
	}

	for _, id := range bag.ids {
		delete(fs.entries, id)
	}

	return nil
}
