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

// VerifyPolicy is a bitmask over the recognized fingerprint-comparison
// checks, chosen per entry at creation and immutable thereafter.
type VerifyPolicy uint8

const (
	PolicyInode VerifyPolicy = 1 << iota
	PolicySize
	PolicyMtime
	PolicyPath
	PolicyStartTime

	PolicyAll VerifyPolicy = PolicyInode | PolicySize | PolicyMtime | PolicyPath | PolicyStartTime

	// DefaultPolicy mirrors the original RUNFS_VERIFY_DEFAULT discipline:
	// executable identity and content checks, without the stricter (and
	// rarely necessary) path and start-time comparisons.
	DefaultPolicy VerifyPolicy = PolicyInode | PolicySize | PolicyMtime
)

func (p VerifyPolicy) has(bit VerifyPolicy) bool {
	return p&bit != 0
}
