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

package directory

import (
	"context"
	"strings"

	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/fileops"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/sectorfs/lockctx"
	"github.com/jacobsa/sectorfs/openinode"
)

func validateName(name string) error {
	if len(name) < 1 || len(name) > geometry.NameMax {
		return ferrors.ErrInvalidName
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return ferrors.ErrInvalidName
	}
	return nil
}

// Create initializes h, a freshly allocated empty directory inode, with
// "." pointing at itself and ".." pointing at parent, so that every
// directory carries both entries.
// Callers format the root the same way, passing its own inum as parent,
// so ".." at the root is self-referential rather than a special case
// pathresolver has to know about.
func Create(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, fm *freemap.FreeMap, parent geometry.Inum) error {
	owner := lockctx.Owner(ctx)
	h.DirLock.Lock(owner)
	defer h.DirLock.Unlock()

	dot := DirEntry{InUse: true, Inum: h.Inum, Name: "."}
	if _, err := fileops.WriteAt(ctx, cache, h, fm, EncodeDirEntry(&dot), 0); err != nil {
		return err
	}
	dotdot := DirEntry{InUse: true, Inum: parent, Name: ".."}
	if _, err := fileops.WriteAt(ctx, cache, h, fm, EncodeDirEntry(&dotdot), DirEntrySize); err != nil {
		return err
	}
	return nil
}

// lookupLocked scans h's entries for name, returning its inum and byte
// offset. h.DirLock must already be held by the calling owner.
func lookupLocked(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, name string) (inum geometry.Inum, offset uint32, found bool, err error) {
	if h.IsRemoved() {
		return 0, 0, false, ferrors.ErrStale
	}

	length, err := h.Length(ctx)
	if err != nil {
		return 0, 0, false, err
	}

	buf := make([]byte, DirEntrySize)
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, err := fileops.ReadAt(ctx, cache, h, buf, off)
		if err != nil {
			return 0, 0, false, err
		}
		if n < DirEntrySize {
			break
		}
		e := DecodeDirEntry(buf)
		if e.InUse && e.Name == name {
			return e.Inum, off, true, nil
		}
	}
	return 0, 0, false, nil
}

// Lookup returns the inum that name resolves to within h, or !found if no
// such entry exists. It is an exact, case-sensitive byte match.
func Lookup(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, name string) (inum geometry.Inum, found bool, err error) {
	owner := lockctx.Owner(ctx)
	h.DirLock.Lock(owner)
	defer h.DirLock.Unlock()

	inum, _, found, err = lookupLocked(ctx, cache, h, name)
	return
}

// Add inserts a new entry name -> inum into h. It fails with
// ferrors.ErrInvalidName if name is malformed, ferrors.ErrStale if h has
// been removed, and ferrors.ErrNameInUse if name already exists. The
// reentrant dir lock lets this call lookupLocked under the same
// acquisition Add itself took out.
func Add(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, fm *freemap.FreeMap, name string, inum geometry.Inum) error {
	if err := validateName(name); err != nil {
		return err
	}

	owner := lockctx.Owner(ctx)
	h.DirLock.Lock(owner)
	defer h.DirLock.Unlock()

	_, _, found, err := lookupLocked(ctx, cache, h, name)
	if err != nil {
		return err
	}
	if found {
		return ferrors.ErrNameInUse
	}

	length, err := h.Length(ctx)
	if err != nil {
		return err
	}

	// Prefer reusing a slot vacated by Remove over growing the file.
	slotOff := length
	buf := make([]byte, DirEntrySize)
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, err := fileops.ReadAt(ctx, cache, h, buf, off)
		if err != nil {
			return err
		}
		if n < DirEntrySize {
			break
		}
		if e := DecodeDirEntry(buf); !e.InUse {
			slotOff = off
			break
		}
	}

	entry := DirEntry{InUse: true, Inum: inum, Name: name}
	encoded := EncodeDirEntry(&entry)
	n, err := fileops.WriteAt(ctx, cache, h, fm, encoded, slotOff)
	if err != nil {
		return err
	}
	if n < len(encoded) {
		return ferrors.ErrNoFreeSector
	}
	return nil
}

// IsEmpty reports whether h, a directory, contains any entry other than
// "." and "..".
func IsEmpty(ctx context.Context, cache *bufcache.Cache, h *inode.Handle) (bool, error) {
	length, err := h.Length(ctx)
	if err != nil {
		return false, err
	}

	buf := make([]byte, DirEntrySize)
	for off := uint32(0); off+DirEntrySize <= length; off += DirEntrySize {
		n, err := fileops.ReadAt(ctx, cache, h, buf, off)
		if err != nil {
			return false, err
		}
		if n < DirEntrySize {
			break
		}
		e := DecodeDirEntry(buf)
		if e.InUse && e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Remove deletes name from h. It fails with ferrors.ErrNotFound if name
// does not exist and ferrors.ErrDirNotEmpty if name refers to a
// non-empty sub-directory. On success the target inode's removal
// is recorded through table, which defers the actual sector release
// until every other open handle to it has also closed.
func Remove(ctx context.Context, cache *bufcache.Cache, store *inode.Store, fm *freemap.FreeMap, table *openinode.Table, h *inode.Handle, name string) error {
	owner := lockctx.Owner(ctx)
	h.DirLock.Lock(owner)
	defer h.DirLock.Unlock()

	inum, offset, found, err := lookupLocked(ctx, cache, h, name)
	if err != nil {
		return err
	}
	if !found {
		return ferrors.ErrNotFound
	}

	target := table.Open(inum)
	isDir, err := target.IsDir(ctx)
	if err != nil {
		table.Close(ctx, target, fm)
		return err
	}
	if isDir {
		empty, err := IsEmpty(ctx, cache, target)
		if err != nil {
			table.Close(ctx, target, fm)
			return err
		}
		if !empty {
			table.Close(ctx, target, fm)
			return ferrors.ErrDirNotEmpty
		}
	}

	cleared := DirEntry{InUse: false}
	if _, err := fileops.WriteAt(ctx, cache, h, fm, EncodeDirEntry(&cleared), offset); err != nil {
		table.Close(ctx, target, fm)
		return err
	}

	if _, err := target.MarkRemoved(ctx, fm); err != nil {
		table.Close(ctx, target, fm)
		return err
	}
	return table.Close(ctx, target, fm)
}

// Readdir returns the next entry in h other than "." and "..", in
// on-disk order, advancing *cursor (a byte offset into h's content) past
// it. ok is false once every entry has been visited. Positions live on
// the caller-supplied cursor rather than on h itself, since readdir
// position is per open handle, and multiple open handles can share the
// same underlying inode.Handle.
func Readdir(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, cursor *uint32) (name string, inum geometry.Inum, ok bool, err error) {
	length, err := h.Length(ctx)
	if err != nil {
		return "", 0, false, err
	}

	buf := make([]byte, DirEntrySize)
	for *cursor+DirEntrySize <= length {
		n, err := fileops.ReadAt(ctx, cache, h, buf, *cursor)
		*cursor += DirEntrySize
		if err != nil {
			return "", 0, false, err
		}
		if n < DirEntrySize {
			continue
		}
		e := DecodeDirEntry(buf)
		if !e.InUse || e.Name == "." || e.Name == ".." {
			continue
		}
		return e.Name, e.Inum, true, nil
	}
	return "", 0, false, nil
}
