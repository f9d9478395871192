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
	"testing"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
)

func newTestStore(t *testing.T, sectorCount geometry.SectorIdx) (*Store, *freemap.FreeMap) {
	t.Helper()
	dev := blockdev.NewMemDevice(sectorCount)
	cache := bufcache.New(dev)
	fm, err := freemap.New(cache, sectorCount, true)
	if err != nil {
		t.Fatal(err)
	}
	store := New(cache)
	ctx := context.Background()
	if err := store.FormatTable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.FormatRoot(ctx); err != nil {
		t.Fatal(err)
	}
	return store, fm
}

func TestFormatRootIsReserved(t *testing.T) {
	store, _ := newTestStore(t, 400)
	ctx := context.Background()

	d, err := store.ReadInode(ctx, geometry.RootInum)
	if err != nil {
		t.Fatal(err)
	}
	if !d.InUse || !d.IsDir {
		t.Fatalf("root inode not formatted as an in-use directory: %+v", d)
	}
}

func TestCreateSkipsReservedRoot(t *testing.T) {
	store, _ := newTestStore(t, 400)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if inum == geometry.RootInum {
		t.Fatalf("Create handed out the reserved root inode number")
	}

	d, err := store.ReadInode(ctx, inum)
	if err != nil {
		t.Fatal(err)
	}
	if !d.InUse || d.IsDir {
		t.Fatalf("newly created inode not formatted as an in-use file: %+v", d)
	}
}

func TestCreateExhaustion(t *testing.T) {
	store, _ := newTestStore(t, 400)
	ctx := context.Background()

	for i := 0; i < MaxInodes-1; i++ {
		if _, err := store.Create(ctx, false); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if _, err := store.Create(ctx, false); err == nil {
		t.Fatalf("Create on an exhausted table should have failed")
	}
}

func TestFixupSectorIsStableAndLazy(t *testing.T) {
	store, fm := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	first, err := store.FixupSector(ctx, inum, 0, fm)
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.FixupSector(ctx, inum, 0, fm)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("FixupSector allocated twice for the same block index: %d, %d", first, second)
	}
	if !fm.IsUsed(first) {
		t.Fatalf("fixed-up sector %d not marked used in the free map", first)
	}
}

func TestFixupSectorThroughSingleIndirect(t *testing.T) {
	store, fm := newTestStore(t, 20000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	blockIdx := geometry.DirectLimit + 3
	sec, err := store.FixupSector(ctx, inum, blockIdx, fm)
	if err != nil {
		t.Fatal(err)
	}
	if sec == 0 {
		t.Fatalf("single-indirect fix-up returned a zero sector")
	}

	again, err := store.FixupSector(ctx, inum, blockIdx, fm)
	if err != nil {
		t.Fatal(err)
	}
	if again != sec {
		t.Fatalf("single-indirect fix-up not stable: %d, %d", sec, again)
	}
}

func TestFixupSectorBeyondMaxIsFileTooLarge(t *testing.T) {
	store, fm := newTestStore(t, 400)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.FixupSector(ctx, inum, geometry.DidLimit, fm); err != ferrors.ErrFileTooLarge {
		t.Fatalf("FixupSector at DidLimit: err=%v, want ErrFileTooLarge", err)
	}
}

func TestReleaseReturnsDirectSectorsAndInode(t *testing.T) {
	store, fm := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	before := fm.Count()
	sec, err := store.FixupSector(ctx, inum, 0, fm)
	if err != nil {
		t.Fatal(err)
	}
	if !fm.IsUsed(sec) {
		t.Fatalf("fixed-up sector not marked used")
	}

	if err := store.Release(ctx, inum, fm); err != nil {
		t.Fatal(err)
	}
	if fm.IsUsed(sec) {
		t.Fatalf("Release did not return data sector %d to the free map", sec)
	}
	if fm.Count() != before {
		t.Fatalf("free map count after Release = %d, want %d", fm.Count(), before)
	}

	d, err := store.ReadInode(ctx, inum)
	if err != nil {
		t.Fatal(err)
	}
	if d.InUse {
		t.Fatalf("released inode still marked in use")
	}
}

func TestReleaseReturnsIndirectSectors(t *testing.T) {
	store, fm := newTestStore(t, 20000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	before := fm.Count()
	blockIdx := geometry.DirectLimit + 3
	if _, err := store.FixupSector(ctx, inum, blockIdx, fm); err != nil {
		t.Fatal(err)
	}

	if err := store.Release(ctx, inum, fm); err != nil {
		t.Fatal(err)
	}
	if fm.Count() != before {
		t.Fatalf("free map count after Release = %d, want %d (leaked an index or data sector)", fm.Count(), before)
	}
}
