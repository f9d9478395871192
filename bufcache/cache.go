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

// Package bufcache implements the shared buffer cache: a fixed-slot cache
// of device sectors with clock eviction, write-back, read-ahead, and
// per-slot read/write locking with promotion and demotion. It is the
// lowest non-trivial layer of sectorfs; everything else reaches the device
// only through this package (or, for the free map's oversized bitmap,
// through the external-extent bypass below).
package bufcache

import (
	"context"
	"fmt"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/semaphore"
)

// NumSlots is the fixed number of resident sectors the cache holds.
const NumSlots = 64

// prefetchQueueDepth bounds the number of outstanding prefetch requests;
// FetchAsync degrades to a silent no-op once it is reached.
const prefetchQueueDepth = 2 * NumSlots

// Cache is the shared buffer cache. The zero value is not usable;
// construct with New.
type Cache struct {
	dev blockdev.BlockDevice

	// mu guards everything below except slot data bytes, which are
	// guarded by the slot's own rwmu (see slot.go). Checked with
	// syncutil.InvariantMutex: every resident sector lives in exactly
	// one of active/closed.
	mu        syncutil.InvariantMutex
	slots     [NumSlots]*slot
	bySector  map[geometry.SectorIdx]int
	closedSet map[int]struct{}
	hand      int

	externals map[geometry.SectorIdx]*externalExtent

	prefetchCh  chan geometry.SectorIdx
	prefetchSem *semaphore.Weighted // bounds outstanding prefetch requests
}

// New constructs an empty cache backed by dev. No sectors are resident
// until they are first read, written, or Add-ed.
func New(dev blockdev.BlockDevice) *Cache {
	c := &Cache{
		dev:         dev,
		bySector:    make(map[geometry.SectorIdx]int),
		closedSet:   make(map[int]struct{}),
		externals:   make(map[geometry.SectorIdx]*externalExtent),
		prefetchCh:  make(chan geometry.SectorIdx, prefetchQueueDepth),
		prefetchSem: semaphore.NewWeighted(prefetchQueueDepth),
	}
	c.mu = syncutil.NewInvariantMutex(c.checkInvariants)
	for i := range c.slots {
		c.slots[i] = newSlot()
	}
	return c
}

// checkInvariants is run by mu (when built with the race detector, per
// syncutil.InvariantMutex) after every Unlock: every sector in bySector
// names a slot actually holding that sector, and closedSet is exactly the
// set of slots in the closed state.
func (c *Cache) checkInvariants() {
	for sector, idx := range c.bySector {
		if c.slots[idx].sector != sector {
			panic(fmt.Sprintf("bufcache: bySector[%d]=%d but slot %d holds sector %d", sector, idx, idx, c.slots[idx].sector))
		}
	}
	for idx := range c.closedSet {
		if c.slots[idx].state != stateClosed {
			panic(fmt.Sprintf("bufcache: closedSet contains slot %d in state %d", idx, c.slots[idx].state))
		}
	}
	for idx, s := range c.slots {
		if s.state == stateClosed {
			if _, ok := c.closedSet[idx]; !ok {
				panic(fmt.Sprintf("bufcache: slot %d is closed but missing from closedSet", idx))
			}
		}
	}
}

func fatal(err error) {
	if err != nil {
		panic(fmt.Errorf("sectorfs: device error: %w", err))
	}
}

// resolve returns the slot backing sector, faulting it in on a miss. If
// fresh is true, the slot is returned with its writer lock already held (by
// the fault-in) and the caller must either demote-then-RUnlock (for a read)
// or Unlock (for a write) rather than acquiring the lock itself.
func (c *Cache) resolve(sector geometry.SectorIdx, priority Priority) (s *slot, fresh bool, err error) {
	c.mu.Lock()

	if idx, ok := c.bySector[sector]; ok {
		s = c.slots[idx]
		if s.state == stateClosed {
			delete(c.closedSet, idx)
			s.state = stateActive
		}
		s.accessed = priority
		c.mu.Unlock()
		return s, false, nil
	}

	idx, victim, victimSector, victimDirty, victimData, everr := c.evictLocked()
	if everr != nil {
		c.mu.Unlock()
		return nil, false, everr
	}

	victim.sector = sector
	victim.state = stateActive
	victim.accessed = priority
	victim.owner = 0
	victim.writeDepth = 0
	c.bySector[sector] = idx
	c.mu.Unlock()

	// The writer lock on victim is already held by evictLocked; writeback
	// of the evicted sector (if dirty) happens here, after the cache's
	// global lock has been released.
	if victimDirty {
		fatal(c.dev.WriteSector(victimSector, victimData))
	}

	buf := make([]byte, geometry.SectorSize)
	fatal(c.dev.ReadSector(sector, buf))
	copy(victim.data[:], buf)

	return victim, true, nil
}

// evictLocked finds a slot to (re)use: prefer any closed slot,
// otherwise clock-sweep the active set. The
// returned slot's writer lock is held on return. c.mu must be held by the
// caller and remains held throughout.
func (c *Cache) evictLocked() (idx int, s *slot, victimSector geometry.SectorIdx, victimDirty bool, victimData []byte, err error) {
	for cidx := range c.closedSet {
		cand := c.slots[cidx]
		if !cand.rw.TryLock() {
			continue
		}
		delete(c.closedSet, cidx)
		delete(c.bySector, cand.sector)
		victimSector = cand.sector
		if cand.dirty {
			victimDirty = true
			victimData = append([]byte(nil), cand.data[:]...)
		}
		cand.dirty = false
		cand.state = stateFree
		return cidx, cand, victimSector, victimDirty, victimData, nil
	}

	// A slot's accessed counter can start as high as PriInode, so the
	// sweep may need to pass over the whole table several times before
	// the hottest slot decays to zero.
	for i := 0; i < (int(PriInode)+1)*NumSlots; i++ {
		hidx := c.hand
		c.hand = (c.hand + 1) % NumSlots
		cand := c.slots[hidx]

		if cand.state == stateFree {
			cand.rw.Lock()
			return hidx, cand, 0, false, nil, nil
		}
		if cand.state != stateActive {
			continue
		}
		if !cand.rw.TryLock() {
			continue
		}
		if cand.accessed > 0 {
			cand.accessed--
			cand.rw.Unlock()
			continue
		}

		delete(c.bySector, cand.sector)
		victimSector = cand.sector
		if cand.dirty {
			victimDirty = true
			victimData = append([]byte(nil), cand.data[:]...)
		}
		cand.dirty = false
		cand.state = stateFree
		return hidx, cand, victimSector, victimDirty, victimData, nil
	}

	err = fmt.Errorf("bufcache: no evictable slot found")
	return
}

// stillBacking reports whether s still holds sector. Between resolve (or
// the bySector probe in Lock/Add) releasing the cache's global lock and the
// caller acquiring s's slot lock, the clock sweep may have evicted the slot
// and reassigned it to a different sector; callers that lose that race drop
// their slot lock and retry from the top.
func (c *Cache) stillBacking(s *slot, sector geometry.SectorIdx) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.state != stateFree && s.sector == sector
}

// heldBy reports whether owner currently holds the writer lock on the slot
// backing sector via Lock. While that holds, the slot cannot be evicted and
// the holder's own reads and writes must not re-acquire the slot lock, or
// an index fix-up that locks its from-sector and then reads the pointer
// through the ordinary path would deadlock on itself.
func (c *Cache) heldBy(s *slot, sector geometry.SectorIdx, owner uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.sector == sector && s.owner == owner && s.writeDepth > 0
}

func checkSpan(len_, ofs int) error {
	if ofs < 0 || len_ < 0 || ofs > geometry.SectorSize || len_ > geometry.SectorSize-ofs {
		return fmt.Errorf("bufcache: span [%d, %d) out of bounds for a %d-byte sector", ofs, ofs+len_, geometry.SectorSize)
	}
	return nil
}

// Read copies len(dst) bytes from sector, starting at ofs, into dst. If ctx
// carries the owner identity of a caller that already holds the slot via
// Lock, the copy happens under that existing hold instead of re-acquiring
// the slot lock.
func (c *Cache) Read(ctx context.Context, sector geometry.SectorIdx, dst []byte, ofs int, priority Priority) (int, error) {
	if err := checkSpan(len(dst), ofs); err != nil {
		return 0, err
	}
	owner := ownerFromContext(ctx)

	for {
		s, fresh, err := c.resolve(sector, priority)
		if err != nil {
			return 0, err
		}
		if fresh {
			s.rw.Demote()
		} else {
			if owner != 0 && c.heldBy(s, sector, owner) {
				return copy(dst, s.data[ofs:ofs+len(dst)]), nil
			}
			s.rw.RLock()
			if !c.stillBacking(s, sector) {
				s.rw.RUnlock()
				continue
			}
		}

		n := copy(dst, s.data[ofs:ofs+len(dst)])
		s.rw.RUnlock()
		return n, nil
	}
}

// Write copies src into sector, starting at ofs, marking the slot dirty.
// As with Read, a caller already holding the slot via Lock writes under its
// existing hold.
func (c *Cache) Write(ctx context.Context, sector geometry.SectorIdx, src []byte, ofs int, priority Priority) (int, error) {
	if err := checkSpan(len(src), ofs); err != nil {
		return 0, err
	}
	owner := ownerFromContext(ctx)

	for {
		s, fresh, err := c.resolve(sector, priority)
		if err != nil {
			return 0, err
		}
		if !fresh {
			if owner != 0 && c.heldBy(s, sector, owner) {
				n := copy(s.data[ofs:ofs+len(src)], src)
				c.mu.Lock()
				s.dirty = true
				c.mu.Unlock()
				return n, nil
			}
			s.rw.Lock()
			if !c.stillBacking(s, sector) {
				s.rw.Unlock()
				continue
			}
		}

		n := copy(s.data[ofs:ofs+len(src)], src)

		c.mu.Lock()
		s.dirty = true
		c.mu.Unlock()

		s.rw.Unlock()
		return n, nil
	}
}

// Lock acquires a writer lock on the slot backing sector, faulting it in if
// necessary, so that the caller's subsequent reads/writes are atomic and
// the sector cannot be evicted out from under it. It is a re-entrant no-op
// if ctx carries the same owner identity (see NewOwnerContext) as whoever
// currently holds the lock.
func (c *Cache) Lock(ctx context.Context, sector geometry.SectorIdx) error {
	owner := ownerFromContext(ctx)

	for {
		c.mu.Lock()
		if idx, ok := c.bySector[sector]; ok {
			s := c.slots[idx]
			if owner != 0 && s.owner == owner && s.writeDepth > 0 {
				s.writeDepth++
				c.mu.Unlock()
				return nil
			}
			if s.state == stateClosed {
				delete(c.closedSet, idx)
				s.state = stateActive
			}
			c.mu.Unlock()

			s.rw.Lock()
			if !c.stillBacking(s, sector) {
				s.rw.Unlock()
				continue
			}
			c.mu.Lock()
			s.owner = owner
			s.writeDepth = 1
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		s, fresh, err := c.resolve(sector, PriMeta)
		if err != nil {
			return err
		}
		if !fresh {
			s.rw.Lock()
			if !c.stillBacking(s, sector) {
				s.rw.Unlock()
				continue
			}
		}

		c.mu.Lock()
		s.owner = owner
		s.writeDepth = 1
		c.mu.Unlock()
		return nil
	}
}

// Unlock releases a writer lock acquired with Lock.
func (c *Cache) Unlock(ctx context.Context, sector geometry.SectorIdx) {
	owner := ownerFromContext(ctx)

	c.mu.Lock()
	idx, ok := c.bySector[sector]
	if !ok {
		c.mu.Unlock()
		return
	}
	s := c.slots[idx]
	if owner != s.owner {
		c.mu.Unlock()
		return
	}
	s.writeDepth--
	if s.writeDepth > 0 {
		c.mu.Unlock()
		return
	}
	s.owner = 0
	c.mu.Unlock()

	s.rw.Unlock()
}

// Add materializes a zeroed, dirty slot for sector without reading the
// device, for the common case of a newly allocated data or index sector
// whose prior disk contents are meaningless.
func (c *Cache) Add(sector geometry.SectorIdx, priority Priority) error {
	c.mu.Lock()
	for {
		idx, ok := c.bySector[sector]
		if !ok {
			break
		}
		s := c.slots[idx]
		if s.state == stateClosed {
			delete(c.closedSet, idx)
			s.state = stateActive
		}
		s.accessed = priority
		c.mu.Unlock()

		s.rw.Lock()
		if !c.stillBacking(s, sector) {
			s.rw.Unlock()
			c.mu.Lock()
			continue
		}
		for i := range s.data {
			s.data[i] = 0
		}
		c.mu.Lock()
		s.dirty = true
		c.mu.Unlock()
		s.rw.Unlock()
		return nil
	}

	idx, s, victimSector, victimDirty, victimData, err := c.evictLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	s.sector = sector
	s.state = stateActive
	s.accessed = priority
	s.owner = 0
	s.writeDepth = 0
	c.bySector[sector] = idx
	c.mu.Unlock()

	if victimDirty {
		fatal(c.dev.WriteSector(victimSector, victimData))
	}

	for i := range s.data {
		s.data[i] = 0
	}
	c.mu.Lock()
	s.dirty = true
	c.mu.Unlock()
	s.rw.Unlock()

	return nil
}

// Close marks the slot backing sector as cold: logically released by its
// last user, contents still valid, preferred for eviction over any active
// slot.
func (c *Cache) Close(sector geometry.SectorIdx) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.bySector[sector]
	if !ok {
		return
	}
	s := c.slots[idx]
	if s.state == stateActive {
		s.state = stateClosed
		c.closedSet[idx] = struct{}{}
	}
}

// Remove is like Close, but clears the dirty flag first so the sector is
// dropped without a write-back. Used when a sector has been returned to
// the free map and its old contents no longer matter.
func (c *Cache) Remove(sector geometry.SectorIdx) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.bySector[sector]
	if !ok {
		return
	}
	s := c.slots[idx]
	s.dirty = false
	if s.state == stateActive {
		s.state = stateClosed
		c.closedSet[idx] = struct{}{}
	}
}

// FetchAsync enqueues a best-effort prefetch of sector. It never blocks and
// never reports failure; under queue pressure the request is silently
// dropped.
func (c *Cache) FetchAsync(sector geometry.SectorIdx) {
	if !c.prefetchSem.TryAcquire(1) {
		return
	}

	select {
	case c.prefetchCh <- sector:
	default:
		c.prefetchSem.Release(1)
	}
}
