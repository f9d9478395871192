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

// Package openinode implements the process-wide table deduplicating open
// handles to the same inode: no matter how many callers open the same
// path concurrently, at most one in-memory handle exists per inum.
package openinode

import (
	"context"

	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/syncutil"
)

// Table maps Inum to the single in-memory Handle for that inode. Every
// key present in the map is, by construction, in use on disk.
//
// Correctness, not throughput, is the goal, so one coarse lock guards
// the whole map rather than per-bucket sharding.
type Table struct {
	store *inode.Store

	mu      syncutil.InvariantMutex
	handles map[geometry.Inum]*inode.Handle
}

// New returns an empty table backing handles with store.
func New(store *inode.Store) *Table {
	t := &Table{store: store, handles: make(map[geometry.Inum]*inode.Handle)}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

func (t *Table) checkInvariants() {
	for inum, h := range t.handles {
		if h.Inum != inum {
			panic("openinode: handle stored under the wrong inum")
		}
	}
}

// Open returns the handle for inum, creating one with a reference count
// of zero if this is the first open, then incrementing its reference
// count and returning it. Every call must be matched by exactly one
// Close.
func (t *Table) Open(inum geometry.Inum) *inode.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[inum]
	if !ok {
		h = inode.NewHandle(t.store, inum)
		t.handles[inum] = h
	}
	h.AddRef()
	return h
}

// Close drops one reference to h's inode. fm is passed through to
// inode.Handle.Release in case this was the last reference to a removed
// inode, which frees its sectors. Once the reference count reaches zero
// the handle is dropped from the table, regardless of whether it was
// removed, since a fresh Open will simply re-read the (now possibly
// stale, possibly reused) on-disk record.
func (t *Table) Close(ctx context.Context, h *inode.Handle, fm *freemap.FreeMap) (err error) {
	_, err = h.Release(ctx, fm)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if cur, ok := t.handles[h.Inum]; ok && cur == h && h.OpenCount() == 0 {
		delete(t.handles, h.Inum)
	}
	t.mu.Unlock()

	return nil
}

// Len reports the number of distinct inodes currently open, for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
