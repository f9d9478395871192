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
	"encoding/binary"
	"sync"

	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
)

// Store is the on-disk inode table: a fixed array of DiskInode records
// plus the logic to allocate and release inode numbers and to lazily
// materialize an inode's block index.
type Store struct {
	cache *bufcache.Cache

	// allocMu serializes inode-number allocation. A coarse lock is fine
	// here: allocation scans the whole table for a free slot, and the
	// table is small and stays hot in the cache.
	allocMu sync.Mutex
}

// New returns a Store reading and writing through cache. The inode table
// occupies the first geometry.InodeTableSectors sectors of the device.
func New(cache *bufcache.Cache) *Store {
	return &Store{cache: cache}
}

// FormatTable zeroes every inode record, leaving all of them unused.
func (s *Store) FormatTable(ctx context.Context) error {
	zero := EncodeDiskInode(&DiskInode{})
	for sec := geometry.SectorIdx(0); sec < geometry.InodeTableSectors; sec++ {
		if err := s.cache.Add(sec, bufcache.PriInode); err != nil {
			return err
		}
		for i := 0; i < InodesPerSector; i++ {
			if _, err := s.cache.Write(ctx, sec, zero, i*DiskInodeSize, bufcache.PriInode); err != nil {
				return err
			}
		}
	}
	return nil
}

// FormatRoot marks geometry.RootInum in use as an empty directory. The
// root inode is reserved by convention, not drawn from the free-inode
// scan that Create uses for everything else.
func (s *Store) FormatRoot(ctx context.Context) error {
	return s.WriteInode(ctx, geometry.RootInum, &DiskInode{InUse: true, IsDir: true})
}

// ReadInode reads and unpacks the record for inum.
func (s *Store) ReadInode(ctx context.Context, inum geometry.Inum) (*DiskInode, error) {
	buf := make([]byte, DiskInodeSize)
	if _, err := s.cache.Read(ctx, sectorFor(inum), buf, offsetFor(inum), bufcache.PriInode); err != nil {
		return nil, err
	}
	return DecodeDiskInode(buf), nil
}

// WriteInode packs and writes the record for inum.
func (s *Store) WriteInode(ctx context.Context, inum geometry.Inum, d *DiskInode) error {
	_, err := s.cache.Write(ctx, sectorFor(inum), EncodeDiskInode(d), offsetFor(inum), bufcache.PriInode)
	return err
}

// Create allocates the first unused inode number, marks it in use, and
// returns it. It returns ferrors.ErrNoInodeAvailable if the table is
// full. Inode number 0 is never handed out; it is permanently reserved
// for the root directory (see FormatRoot).
func (s *Store) Create(ctx context.Context, isDir bool) (geometry.Inum, error) {
	s.allocMu.Lock()
	defer s.allocMu.Unlock()

	for i := geometry.Inum(1); i < MaxInodes; i++ {
		d, err := s.ReadInode(ctx, i)
		if err != nil {
			return 0, err
		}
		if d.InUse {
			continue
		}
		if err := s.WriteInode(ctx, i, &DiskInode{InUse: true, IsDir: isDir}); err != nil {
			return 0, err
		}
		return i, nil
	}
	return 0, ferrors.ErrNoInodeAvailable
}

// fixupChild ensures the 4-byte sector pointer at byte offset at within
// sector container is non-zero, allocating and zeroing a new sector of
// the given priority from fm if it is. Locking container for the
// round trip is what lets two concurrent fix-ups of the same pointer
// agree on a single winner.
func (s *Store) fixupChild(ctx context.Context, container geometry.SectorIdx, at int, priority bufcache.Priority, fm *freemap.FreeMap) (geometry.SectorIdx, error) {
	if err := s.cache.Lock(ctx, container); err != nil {
		return 0, err
	}
	defer s.cache.Unlock(ctx, container)

	buf := make([]byte, 4)
	if _, err := s.cache.Read(ctx, container, buf, at, priority); err != nil {
		return 0, err
	}
	if child := geometry.SectorIdx(binary.LittleEndian.Uint32(buf)); child != 0 {
		return child, nil
	}

	newSector, err := fm.Allocate(1)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Add(newSector, priority); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(buf, uint32(newSector))
	if _, err := s.cache.Write(ctx, container, buf, at, priority); err != nil {
		return 0, err
	}
	return newSector, nil
}

// FixupSector returns the data sector backing the blockIdx'th block of
// inum's file, allocating it (and any index sectors on the path to it)
// if this is the first time it has been touched. blockIdx is classified
// into the direct, single-indirect, or double-indirect tier exactly as
// geometry.Classify describes.
func (s *Store) FixupSector(ctx context.Context, inum geometry.Inum, blockIdx int, fm *freemap.FreeMap) (geometry.SectorIdx, error) {
	// fixupChild locks the from-sector and then reads it back through the
	// ordinary cache path, so the caller's identity must be present for
	// that read to be recognized as the lock holder's own.
	ctx = bufcache.EnsureOwnerContext(ctx)
	tier, top, mid, slot := geometry.Classify(blockIdx)

	inodeSector := sectorFor(inum)
	inodeOfs := offsetFor(inum)

	switch tier {
	case geometry.BlockDirect:
		return s.fixupChild(ctx, inodeSector, inodeOfs+blockPointerOffset(slot), bufcache.PriNormal, fm)

	case geometry.BlockSingleIndirect:
		idxSector, err := s.fixupChild(ctx, inodeSector, inodeOfs+blockPointerOffset(geometry.Direct+top), bufcache.PriMeta, fm)
		if err != nil {
			return 0, err
		}
		return s.fixupChild(ctx, idxSector, 4*slot, bufcache.PriNormal, fm)

	case geometry.BlockDoubleIndirect:
		topSector, err := s.fixupChild(ctx, inodeSector, inodeOfs+blockPointerOffset(geometry.Direct+geometry.SID+top), bufcache.PriMeta, fm)
		if err != nil {
			return 0, err
		}
		midSector, err := s.fixupChild(ctx, topSector, 4*mid, bufcache.PriMeta, fm)
		if err != nil {
			return 0, err
		}
		return s.fixupChild(ctx, midSector, 4*slot, bufcache.PriNormal, fm)

	default:
		return 0, ferrors.ErrFileTooLarge
	}
}

// readChild returns the 4-byte sector pointer stored at byte offset at
// within sector container, without allocating anything: the read-only
// counterpart to fixupChild used for sparse reads, where an unallocated
// pointer must read back as "no sector" (zero bytes) rather than fault
// one in.
func (s *Store) readChild(ctx context.Context, container geometry.SectorIdx, at int, priority bufcache.Priority) (geometry.SectorIdx, error) {
	buf := make([]byte, 4)
	if _, err := s.cache.Read(ctx, container, buf, at, priority); err != nil {
		return 0, err
	}
	return geometry.SectorIdx(binary.LittleEndian.Uint32(buf)), nil
}

// LookupSector is the read-only counterpart of FixupSector: it returns the
// data sector backing the blockIdx'th block of inum's file if one has ever
// been allocated, or 0 if the block is a hole. Unlike FixupSector it never
// allocates, so it is safe to call without holding the free map's
// cooperation and never fails with ErrNoFreeSector.
func (s *Store) LookupSector(ctx context.Context, inum geometry.Inum, blockIdx int) (geometry.SectorIdx, error) {
	tier, top, mid, slot := geometry.Classify(blockIdx)

	inodeSector := sectorFor(inum)
	inodeOfs := offsetFor(inum)

	switch tier {
	case geometry.BlockDirect:
		return s.readChild(ctx, inodeSector, inodeOfs+blockPointerOffset(slot), bufcache.PriNormal)

	case geometry.BlockSingleIndirect:
		idxSector, err := s.readChild(ctx, inodeSector, inodeOfs+blockPointerOffset(geometry.Direct+top), bufcache.PriMeta)
		if err != nil || idxSector == 0 {
			return 0, err
		}
		return s.readChild(ctx, idxSector, 4*slot, bufcache.PriNormal)

	case geometry.BlockDoubleIndirect:
		topSector, err := s.readChild(ctx, inodeSector, inodeOfs+blockPointerOffset(geometry.Direct+geometry.SID+top), bufcache.PriMeta)
		if err != nil || topSector == 0 {
			return 0, err
		}
		midSector, err := s.readChild(ctx, topSector, 4*mid, bufcache.PriMeta)
		if err != nil || midSector == 0 {
			return 0, err
		}
		return s.readChild(ctx, midSector, 4*slot, bufcache.PriNormal)

	default:
		return 0, nil
	}
}

func (s *Store) freeSector(sec geometry.SectorIdx, fm *freemap.FreeMap) {
	s.cache.Remove(sec)
	fm.Release(sec, 1)
}

// releaseIndexSector frees an index sector at the given depth (1 for a
// single-indirect leaf full of data pointers, 2 for the double-indirect
// top sector full of index pointers) along with everything it points to.
func (s *Store) releaseIndexSector(ctx context.Context, idx geometry.SectorIdx, depth int, fm *freemap.FreeMap) error {
	buf := make([]byte, geometry.SectorSize)
	if _, err := s.cache.Read(ctx, idx, buf, 0, bufcache.PriMeta); err != nil {
		return err
	}
	for i := 0; i < geometry.Fanout; i++ {
		child := geometry.SectorIdx(binary.LittleEndian.Uint32(buf[4*i : 4*i+4]))
		if child == 0 {
			continue
		}
		if depth == 2 {
			if err := s.releaseIndexSector(ctx, child, 1, fm); err != nil {
				return err
			}
		} else {
			s.freeSector(child, fm)
		}
	}
	s.freeSector(idx, fm)
	return nil
}

// Release returns every sector owned by inum's file to fm, in the order
// data sectors, then index sectors, then the top-level record, and marks
// inum unused. It is called once a file's last open handle is closed
// after unlink.
func (s *Store) Release(ctx context.Context, inum geometry.Inum, fm *freemap.FreeMap) error {
	d, err := s.ReadInode(ctx, inum)
	if err != nil {
		return err
	}

	for i := 0; i < geometry.Direct; i++ {
		if d.Blocks[i] != 0 {
			s.freeSector(d.Blocks[i], fm)
		}
	}
	for i := 0; i < geometry.SID; i++ {
		if idx := d.Blocks[geometry.Direct+i]; idx != 0 {
			if err := s.releaseIndexSector(ctx, idx, 1, fm); err != nil {
				return err
			}
		}
	}
	if idx := d.Blocks[geometry.Direct+geometry.SID]; idx != 0 {
		if err := s.releaseIndexSector(ctx, idx, 2, fm); err != nil {
			return err
		}
	}

	return s.WriteInode(ctx, inum, &DiskInode{})
}
