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

import (
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/internal/rwmu"
)

type slotState int

const (
	stateFree slotState = iota
	stateActive
	stateClosed
)

// slot is one fixed-size buffer cache slot.
//
// GUARDED_BY(cache.mu): sector, state, dirty, accessed, owner, writeDepth.
// GUARDED_BY(rw): data, for anyone other than the current resolve() caller
// performing the initial device I/O on a miss.
type slot struct {
	sector geometry.SectorIdx
	state  slotState
	dirty  bool

	// accessed is the clock-sweep survival counter; see Priority.
	accessed Priority

	// owner and writeDepth implement re-entrant Lock/Unlock: the same
	// logical caller (identified by the owner value carried on a
	// context.Context, see owner.go) may call Lock repeatedly without
	// blocking on itself.
	owner      uint64
	writeDepth int

	rw   *rwmu.RWMu
	data [geometry.SectorSize]byte
}

func newSlot() *slot {
	return &slot{rw: rwmu.New()}
}
