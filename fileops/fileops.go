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

// Package fileops implements byte-addressed read/write over an inode:
// sparse allocation on write, read-ahead hints on read, and the length
// ordering discipline that keeps concurrent readers and writers of the
// same file from ever observing a torn length.
package fileops

import (
	"context"

	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
)

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ReadAt copies up to len(dst) bytes from h starting at ofs into dst,
// returning the number of bytes actually copied. A read that starts at or
// past the file's current length returns (0, nil): a short read, never
// stale disk contents. A hole (a block index whose sector pointer was
// never allocated) reads back as zero bytes without touching the cache.
func ReadAt(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, dst []byte, ofs uint32) (int, error) {
	length, err := h.Length(ctx)
	if err != nil {
		return 0, err
	}
	if ofs >= length {
		return 0, nil
	}

	want := uint32(len(dst))
	if ofs+want > length {
		want = length - ofs
	}

	var done uint32
	for done < want {
		cur := ofs + done
		blockIdx := int(cur / geometry.SectorSize)
		sectorOfs := int(cur % geometry.SectorSize)
		chunk := minU32(geometry.SectorSize-uint32(sectorOfs), want-done)

		sec, err := h.LookupSector(ctx, blockIdx)
		if err != nil {
			return int(done), err
		}
		if sec == 0 {
			for i := uint32(0); i < chunk; i++ {
				dst[done+i] = 0
			}
		} else if _, err := cache.Read(ctx, sec, dst[done:done+chunk], sectorOfs, bufcache.PriNormal); err != nil {
			return int(done), err
		}

		done += chunk
	}

	hintReadAhead(ctx, cache, h, ofs+done, length)
	return int(done), nil
}

// hintReadAhead issues a best-effort prefetch of the sector immediately
// following the last one read, when it lies within the file's length.
// endOfs is one past the last byte read.
func hintReadAhead(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, endOfs, length uint32) {
	nextOfs := (endOfs + geometry.SectorSize - 1) / geometry.SectorSize * geometry.SectorSize
	if nextOfs >= length {
		return
	}
	blockIdx := int(nextOfs / geometry.SectorSize)
	sec, err := h.LookupSector(ctx, blockIdx)
	if err == nil && sec != 0 {
		cache.FetchAsync(sec)
	}
}

// WriteAt writes len(src) bytes to h at ofs, lazily allocating sectors
// (and any index sectors on the path to them) as needed, and returns the
// number of bytes actually written. It rejects outright with
// ferrors.ErrDenyWrite if h currently has a deny-write hold. A write may
// return fewer than len(src) bytes if sector allocation runs out of free
// sectors or the offset range crosses geometry.DidLimit; both are
// short-write conditions, not errors.
func WriteAt(ctx context.Context, cache *bufcache.Cache, h *inode.Handle, fm *freemap.FreeMap, src []byte, ofs uint32) (int, error) {
	if h.WriteDenied() {
		return 0, ferrors.ErrDenyWrite
	}

	want := uint32(len(src))
	var done uint32
	for done < want {
		cur := ofs + done
		blockIdx := int(cur / geometry.SectorSize)
		if blockIdx >= geometry.DidLimit {
			break
		}
		sectorOfs := int(cur % geometry.SectorSize)
		chunk := minU32(geometry.SectorSize-uint32(sectorOfs), want-done)

		sec, err := h.FixupSector(ctx, blockIdx, fm)
		if err != nil {
			// NoFreeSector and FileTooLarge are short-write
			// conditions; anything else (a real device error) is
			// fatal before it ever reaches here, since bufcache
			// panics on device failure.
			break
		}

		if _, err := cache.Write(ctx, sec, src[done:done+chunk], sectorOfs, bufcache.PriNormal); err != nil {
			return int(done), err
		}
		done += chunk

		// The write-then-bump order is what keeps a concurrent reader
		// from ever observing sector bytes beyond the length it read.
		newEnd := cur + chunk
		h.DataLock.Lock()
		length, err := h.Length(ctx)
		if err != nil {
			h.DataLock.Unlock()
			return int(done), err
		}
		if newEnd > length {
			err = h.SetLength(ctx, newEnd)
		}
		h.DataLock.Unlock()
		if err != nil {
			return int(done), err
		}
	}

	return int(done), nil
}

// DenyWrite and AllowWrite implement the refcounted deny-write hold used
// while an executable is mapped, delegating to the handle itself
// since the count must be visible to every FileOps caller sharing it.
func DenyWrite(h *inode.Handle) { h.DenyWrite() }

func AllowWrite(h *inode.Handle) { h.AllowWrite() }
