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

// Package freemap implements the sector allocation bitmap: one bit per
// sector, backed by the contiguous extent starting at
// sector geometry.InodeTableSectors, pinned in memory via the buffer
// cache's external-extent interface and written back by the periodic
// flush sweep.
package freemap

import (
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/syncutil"
)

// Start is the sector at which the free-map bitmap begins.
const Start geometry.SectorIdx = geometry.InodeTableSectors

// byteLen is the number of bytes reserved for the bitmap extent.
const byteLen = geometry.FreeMapSectors * geometry.SectorSize

// FreeMap is a bitmap of length sectorCount, one bit per sector. mu is
// checked with syncutil.InvariantMutex, since the reserved-region
// invariant (every sector below InodeTableSectors+FreeMapSectors stays
// marked used) is cheap to assert on every acquisition.
type FreeMap struct {
	mu          syncutil.InvariantMutex
	cache       *bufcache.Cache
	bits        []byte
	sectorCount geometry.SectorIdx
}

func (fm *FreeMap) checkInvariants() {
	reserved := geometry.SectorIdx(geometry.InodeTableSectors + geometry.FreeMapSectors)
	for s := geometry.SectorIdx(0); s < reserved && s < fm.sectorCount; s++ {
		if !fm.testLocked(s) {
			panic("freemap: reserved sector became unmarked")
		}
	}
}

// New loads (or, if format is true, initializes) the free-map extent for a
// device of sectorCount sectors. When formatting, every sector in
// [0, InodeTableSectors+FreeMapSectors) is pre-marked used.
func New(cache *bufcache.Cache, sectorCount geometry.SectorIdx, format bool) (*FreeMap, error) {
	bits, err := cache.ReadExternal(Start, byteLen)
	if err != nil {
		return nil, err
	}

	fm := &FreeMap{cache: cache, bits: bits, sectorCount: sectorCount}
	fm.mu = syncutil.NewInvariantMutex(fm.checkInvariants)

	if format {
		fm.mu.Lock()
		for i := range fm.bits {
			fm.bits[i] = 0
		}
		reserved := geometry.SectorIdx(geometry.InodeTableSectors + geometry.FreeMapSectors)
		for s := geometry.SectorIdx(0); s < reserved && s < sectorCount; s++ {
			fm.setLocked(s, true)
		}
		fm.mu.Unlock()
		cache.DirtyExternal(Start)
	}

	return fm, nil
}

// Close writes back any pending changes and releases the extent.
func (fm *FreeMap) Close() error {
	return fm.cache.FreeExternal(Start)
}

func (fm *FreeMap) testLocked(s geometry.SectorIdx) bool {
	return fm.bits[s/8]&(1<<(s%8)) != 0
}

func (fm *FreeMap) setLocked(s geometry.SectorIdx, used bool) {
	if used {
		fm.bits[s/8] |= 1 << (s % 8)
	} else {
		fm.bits[s/8] &^= 1 << (s % 8)
	}
}

// Allocate finds cnt consecutive cleared bits, sets them, and returns the
// first sector index of the run.
func (fm *FreeMap) Allocate(cnt int) (geometry.SectorIdx, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	run := 0
	for s := geometry.SectorIdx(0); s < fm.sectorCount; s++ {
		if fm.testLocked(s) {
			run = 0
			continue
		}
		run++
		if run == cnt {
			start := s - geometry.SectorIdx(cnt) + 1
			for k := 0; k < cnt; k++ {
				fm.setLocked(start+geometry.SectorIdx(k), true)
			}
			fm.cache.DirtyExternal(Start)
			return start, nil
		}
	}

	return 0, ferrors.ErrNoFreeSector
}

// Release clears cnt consecutive bits starting at start. It panics if
// any of them were already clear, since that indicates a double-free:
// the caller has already corrupted sector ownership.
func (fm *FreeMap) Release(start geometry.SectorIdx, cnt int) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for k := 0; k < cnt; k++ {
		s := start + geometry.SectorIdx(k)
		if !fm.testLocked(s) {
			panic("freemap: release of a sector that was not allocated")
		}
		fm.setLocked(s, false)
	}
	fm.cache.DirtyExternal(Start)
}

// IsUsed reports whether sector s is currently marked allocated.
func (fm *FreeMap) IsUsed(s geometry.SectorIdx) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.testLocked(s)
}

// Count returns the number of sectors currently marked used, for tests
// that check every allocated sector is accounted for.
func (fm *FreeMap) Count() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	n := 0
	for s := geometry.SectorIdx(0); s < fm.sectorCount; s++ {
		if fm.testLocked(s) {
			n++
		}
	}
	return n
}
