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

package openinode

import (
	"context"
	"testing"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
)

func newTestTable(t *testing.T) (*Table, *inode.Store, *freemap.FreeMap) {
	t.Helper()
	dev := blockdev.NewMemDevice(2000)
	cache := bufcache.New(dev)
	fm, err := freemap.New(cache, 2000, true)
	if err != nil {
		t.Fatal(err)
	}
	store := inode.New(cache)
	ctx := context.Background()
	if err := store.FormatTable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.FormatRoot(ctx); err != nil {
		t.Fatal(err)
	}
	return New(store), store, fm
}

func TestOpenDedupesSameInum(t *testing.T) {
	table, _, _ := newTestTable(t)

	h1 := table.Open(geometry.RootInum)
	h2 := table.Open(geometry.RootInum)

	if h1 != h2 {
		t.Fatalf("two opens of the same inum returned different handles")
	}
	if got := h1.OpenCount(); got != 2 {
		t.Fatalf("OpenCount() = %d, want 2", got)
	}
	if got := table.Len(); got != 1 {
		t.Fatalf("table.Len() = %d, want 1", got)
	}
}

func TestCloseRemovesFromTableAtZeroRefs(t *testing.T) {
	table, store, fm := newTestTable(t)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := table.Open(inum)

	if err := table.Close(ctx, h, fm); err != nil {
		t.Fatal(err)
	}
	if got := table.Len(); got != 0 {
		t.Fatalf("table.Len() = %d, want 0 after last close", got)
	}

	// Re-opening the same inum after the handle has been dropped must
	// produce a fresh handle, not panic or reuse stale state.
	h2 := table.Open(inum)
	if h2 == h {
		t.Fatalf("Open after full close returned the stale handle")
	}
	if got := h2.OpenCount(); got != 1 {
		t.Fatalf("OpenCount() = %d, want 1", got)
	}
}

func TestCloseOfRemovedInodeFreesInode(t *testing.T) {
	table, store, fm := newTestTable(t)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := table.Open(inum)
	if _, err := h.MarkRemoved(ctx, fm); err != nil {
		t.Fatal(err)
	}

	if err := table.Close(ctx, h, fm); err != nil {
		t.Fatal(err)
	}

	d, err := store.ReadInode(ctx, inum)
	if err != nil {
		t.Fatal(err)
	}
	if d.InUse {
		t.Fatalf("inode still marked in_use after its last handle closed")
	}
}
