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

// Package inoderecord implements the per-entry payload that binds a VFS
// entry to the process that created it, and the predicate that decides
// whether that binding is still live.
package inoderecord

import (
	"fmt"

	"github.com/jcnelson/runfs/internal/procprobe"
)

// Validity is the result of IsValid.
type Validity int

const (
	Valid Validity = iota
	Invalid
	// ValidityError means the probe itself failed; callers must treat this
	// the same as Invalid (spec: a probe that can't confirm liveness should
	// not block cleanup).
	ValidityError
)

// ErrNoSuchProcess is returned by Init when the requested PID has already
// exited — the "phantom create" case where the caller raced the creator's
// exit.
var ErrNoSuchProcess = fmt.Errorf("inoderecord: no such process")

// Record is the per-entry payload attached to a VFS entry. Its fingerprint
// is set exactly once, at creation, and never mutated thereafter. The
// deletion flag is monotonic: false -> true, never back.
//
// Callers are responsible for all locking; Record has no lock of its own
// (the owning VFS entry's lock mediates access, per the spec's
// lock-upgrade discipline).
type Record struct {
	pid      int32
	created  procprobe.Fingerprint
	policy   VerifyPolicy
	deleted  bool
	contents []byte
	size     int64
}

// Init captures pid's current fingerprint via prober and returns a fresh
// Record. It fails with ErrNoSuchProcess if pid does not currently exist.
func Init(prober procprobe.Prober, pid int32, policy VerifyPolicy) (*Record, error) {
	fp, err := prober.Probe(pid)
	if err != nil {
		if pe, ok := err.(*procprobe.Error); ok && pe.Kind == procprobe.KindNotFound {
			return nil, ErrNoSuchProcess
		}
		return nil, err
	}
	if !fp.Live {
		return nil, ErrNoSuchProcess
	}

	return &Record{
		pid:     pid,
		created: fp,
		policy:  policy,
	}, nil
}

// PID returns the process identifier this record was created for.
func (r *Record) PID() int32 { return r.pid }

// Deleted reports the record's monotonic deletion flag.
func (r *Record) Deleted() bool { return r.deleted }

// MarkDeleted sets the deletion flag. Callers must hold the owning entry's
// write lock and must call this at most once per Record (enforced by the
// lock-upgrade re-check in the handler set, not here).
func (r *Record) MarkDeleted() { r.deleted = true }

// Size returns the logical size of the content buffer.
func (r *Record) Size() int64 { return r.size }

// IsValid takes a fresh fingerprint for the record's PID via prober and
// applies the verify policy captured at creation. See spec §4.2 for the
// exact predicate; it is reproduced here field-for-field.
func (r *Record) IsValid(prober procprobe.Prober) Validity {
	fresh, err := prober.Probe(r.pid)
	if err != nil {
		// A probe that fails transiently or because metadata is unreadable
		// is reported as ValidityError, which callers treat as invalid,
		// rather than propagated as an error.
		return ValidityError
	}

	if !fresh.Live {
		return Invalid
	}
	if fresh.PID != r.created.PID {
		return Invalid
	}
	if fresh.BinaryDeleted {
		return Invalid
	}

	if r.policy.has(PolicyInode) && fresh.ExeInode != r.created.ExeInode {
		return Invalid
	}
	if r.policy.has(PolicySize) && fresh.ExeSize != r.created.ExeSize {
		return Invalid
	}
	if r.policy.has(PolicyMtime) && !fresh.ExeMtime.Equal(r.created.ExeMtime) {
		return Invalid
	}
	if r.policy.has(PolicyPath) && fresh.ExePath != r.created.ExePath {
		return Invalid
	}
	if r.policy.has(PolicyStartTime) && fresh.StartTime != r.created.StartTime {
		return Invalid
	}

	return Valid
}

// Free releases the record's fingerprint and content buffer. After Free,
// the Record must not be used again.
func (r *Record) Free() {
	r.created = procprobe.Fingerprint{}
	r.contents = nil
	r.size = 0
}
