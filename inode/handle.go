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

package inode

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/internal/reentrant"
)

// Handle is the in-memory, per-open-inode state: it sits between the
// open-inode table and the on-disk record, tracking how many file
// handles currently reference the inode and whether it has been
// unlinked while still open.
//
// DataLock serializes updates to an inode's length against concurrent
// writers of the same file. Block index updates are not guarded by it:
// Store's sector fix-up serializes them by locking the sector that holds
// the pointer through the buffer cache. DirLock is
// the reentrant per-directory lock; it is exported so the directory
// package can acquire it directly, keyed by the lock-owner identity on
// a context (see lockctx).
type Handle struct {
	Inum geometry.Inum

	store *Store

	DataLock sync.Mutex
	DirLock  *reentrant.Lock

	openMu    sync.Mutex
	openCount int
	removed   bool

	denyWriteCount int32
}

// NewHandle returns a fresh handle for inum with a reference count of
// zero; callers should call AddRef immediately.
func NewHandle(store *Store, inum geometry.Inum) *Handle {
	return &Handle{
		Inum:    inum,
		store:   store,
		DirLock: reentrant.New(),
	}
}

// AddRef records one more open reference to h.
func (h *Handle) AddRef() {
	h.openMu.Lock()
	h.openCount++
	h.openMu.Unlock()
}

// OpenCount returns the current number of open references.
func (h *Handle) OpenCount() int {
	h.openMu.Lock()
	defer h.openMu.Unlock()
	return h.openCount
}

// IsRemoved reports whether the inode has been unlinked from its
// directory while still open.
func (h *Handle) IsRemoved() bool {
	h.openMu.Lock()
	defer h.openMu.Unlock()
	return h.removed
}

// Release drops one open reference. If that was the last reference and
// the inode has been marked removed, its sectors and inode number are
// returned to fm and freed is true.
func (h *Handle) Release(ctx context.Context, fm *freemap.FreeMap) (freed bool, err error) {
	h.openMu.Lock()
	h.openCount--
	cnt := h.openCount
	removed := h.removed
	h.openMu.Unlock()

	if cnt > 0 || !removed {
		return false, nil
	}
	if err := h.store.Release(ctx, h.Inum, fm); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRemoved records that the inode's last directory entry has been
// unlinked. If there are no open references left, it is freed
// immediately; otherwise freeing is deferred to the matching Release
// call that brings the reference count to zero.
func (h *Handle) MarkRemoved(ctx context.Context, fm *freemap.FreeMap) (freed bool, err error) {
	h.openMu.Lock()
	h.removed = true
	cnt := h.openCount
	h.openMu.Unlock()

	if cnt > 0 {
		return false, nil
	}
	if err := h.store.Release(ctx, h.Inum, fm); err != nil {
		return false, err
	}
	return true, nil
}

// Read returns the current on-disk record for h.
func (h *Handle) Read(ctx context.Context) (*DiskInode, error) {
	return h.store.ReadInode(ctx, h.Inum)
}

// Length returns the file's current length, re-reading the on-disk
// record each time so that a reader racing a concurrent writer always
// sees a length that was at some point actually committed.
func (h *Handle) Length(ctx context.Context) (uint32, error) {
	d, err := h.Read(ctx)
	if err != nil {
		return 0, err
	}
	return d.Length, nil
}

// SetLength updates the file's length.
func (h *Handle) SetLength(ctx context.Context, n uint32) error {
	d, err := h.Read(ctx)
	if err != nil {
		return err
	}
	d.Length = n
	return h.store.WriteInode(ctx, h.Inum, d)
}

// IsDir reports whether the inode is a directory.
func (h *Handle) IsDir(ctx context.Context) (bool, error) {
	d, err := h.Read(ctx)
	if err != nil {
		return false, err
	}
	return d.IsDir, nil
}

// FixupSector materializes (allocating if necessary) the data sector
// backing the blockIdx'th block of h's file.
func (h *Handle) FixupSector(ctx context.Context, blockIdx int, fm *freemap.FreeMap) (geometry.SectorIdx, error) {
	return h.store.FixupSector(ctx, h.Inum, blockIdx, fm)
}

// LookupSector returns the data sector backing the blockIdx'th block of
// h's file, or 0 if that block is a hole that has never been written.
func (h *Handle) LookupSector(ctx context.Context, blockIdx int) (geometry.SectorIdx, error) {
	return h.store.LookupSector(ctx, h.Inum, blockIdx)
}

// DenyWrite and AllowWrite implement the deny-write reference count used
// while an executable is mapped; WriteDenied reports whether any caller
// currently holds a deny.
func (h *Handle) DenyWrite() {
	atomic.AddInt32(&h.denyWriteCount, 1)
}

func (h *Handle) AllowWrite() {
	atomic.AddInt32(&h.denyWriteCount, -1)
}

func (h *Handle) WriteDenied() bool {
	return atomic.LoadInt32(&h.denyWriteCount) > 0
}
