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

package inoderecord

// ReadAt copies [offset, offset+len(p)) clipped to the logical size into
// p, returning the number of bytes copied. Reading at or past the
// logical end of file returns 0 bytes and no error.
//
// REQUIRES: the owning entry's lock held (any mode).
func (r *Record) ReadAt(p []byte, offset int64) int {
	if offset >= r.size {
		return 0
	}

	end := offset + int64(len(p))
	if end > r.size {
		end = r.size
	}

	return copy(p, r.contents[offset:end])
}

// WriteAt grows the content buffer geometrically (doubling) until its
// capacity covers offset+len(p), zero-fills the gap, copies the payload,
// and extends the logical size if needed.
//
// REQUIRES: the owning entry's write lock held.
func (r *Record) WriteAt(p []byte, offset int64) {
	need := offset + int64(len(p))
	r.growTo(need)

	copy(r.contents[offset:need], p)

	if need > r.size {
		r.size = need
	}
}

// Truncate sets the logical size to newSize. If newSize exceeds the
// current capacity the buffer grows geometrically and the gap is
// zero-filled; if newSize is smaller than the current logical size the
// newly-excluded tail is zeroed in the backing buffer (so a subsequent
// grow-back never resurfaces stale bytes).
//
// REQUIRES: the owning entry's write lock held.
func (r *Record) Truncate(newSize int64) {
	if newSize < r.size {
		for i := newSize; i < r.size && i < int64(len(r.contents)); i++ {
			r.contents[i] = 0
		}
		r.size = newSize
		return
	}

	r.growTo(newSize)
	r.size = newSize
}

// growTo ensures cap(r.contents) >= need, doubling capacity each step
// (starting from a small baseline) rather than growing exactly to need,
// to keep amortized write cost linear. The gap introduced by growth is
// zero-filled, per the invariant that bytes in [logical_size, capacity)
// are zero.
func (r *Record) growTo(need int64) {
	cur := int64(len(r.contents))
	if cur >= need {
		return
	}

	newCap := cur
	if newCap == 0 {
		newCap = 64
	}
	for newCap < need {
		newCap *= 2
	}

	grown := make([]byte, newCap)
	copy(grown, r.contents)
	r.contents = grown
}
