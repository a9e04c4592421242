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

// Package dre implements the Deferred Removal Engine: a single-consumer
// work queue that detaches garbage-tagged subtrees off the request path,
// so that high-frequency lookups never block on directory sweeps.
package dre

// Job is a unit of work handed from the filesystem handler set to the
// DRE. Bag is opaque to the DRE; it is whatever the VFS kernel's
// tag-as-garbage primitive returned, passed through unexamined to
// Detacher.Detach.
type Job struct {
	// Path is the absolute path of the subtree root that was excised.
	Path string

	// Bag is the already-extracted set of descendant VFS entries the
	// kernel atomically unlinked from live lookup but has not yet freed.
	Bag any
}

// Detacher performs the actual, possibly slow, tree-detachment work for
// a Job. Implementations should return an error satisfying
// runfserr.Is(err, runfserr.NoMem) for transient allocation failures,
// which the DRE retries indefinitely; any other error is logged and the
// job is discarded.
type Detacher interface {
	Detach(job Job) error
}

// DetacherFunc adapts a plain function to Detacher.
type DetacherFunc func(job Job) error

func (f DetacherFunc) Detach(job Job) error { return f(job) }
