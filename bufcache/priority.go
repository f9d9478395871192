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

package bufcache

// Priority is the clock-sweep survival counter attached to a slot on each
// access. A slot with a higher priority survives more eviction sweeps
// before accessed decays to zero, which is how hot metadata (the inode
// table, indirect blocks) outlasts a cold data sector under the same
// pressure.
type Priority int32

const (
	// PriNormal is used for ordinary file data sectors.
	PriNormal Priority = 1

	// PriMeta is used for indirect index sectors.
	PriMeta Priority = 2

	// PriInode is used for the inode table itself.
	PriInode Priority = 3
)
