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

package pathresolver

import (
	"context"
	"testing"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/directory"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/sectorfs/openinode"
)

type harness struct {
	cache *bufcache.Cache
	store *inode.Store
	fm    *freemap.FreeMap
	table *openinode.Table
	root  *inode.Handle
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dev := blockdev.NewMemDevice(4000)
	cache := bufcache.New(dev)
	fm, err := freemap.New(cache, 4000, true)
	if err != nil {
		t.Fatal(err)
	}
	store := inode.New(cache)
	ctx := bufcache.NewOwnerContext(context.Background())
	if err := store.FormatTable(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.FormatRoot(ctx); err != nil {
		t.Fatal(err)
	}
	table := openinode.New(store)
	root := table.Open(geometry.RootInum)
	if err := directory.Create(ctx, cache, root, fm, geometry.RootInum); err != nil {
		t.Fatal(err)
	}
	return &harness{cache: cache, store: store, fm: fm, table: table, root: root}
}

func (h *harness) ctx() context.Context {
	return bufcache.NewOwnerContext(context.Background())
}

func (h *harness) mkdir(t *testing.T, parent *inode.Handle, name string) *inode.Handle {
	t.Helper()
	ctx := h.ctx()
	inum, err := h.store.Create(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	child := h.table.Open(inum)
	if err := directory.Create(ctx, h.cache, child, h.fm, parent.Inum); err != nil {
		t.Fatal(err)
	}
	if err := directory.Add(ctx, h.cache, parent, h.fm, name, inum); err != nil {
		t.Fatal(err)
	}
	return child
}

func (h *harness) mkfile(t *testing.T, parent *inode.Handle, name string) geometry.Inum {
	t.Helper()
	inum, err := h.store.Create(h.ctx(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := directory.Add(h.ctx(), h.cache, parent, h.fm, name, inum); err != nil {
		t.Fatal(err)
	}
	return inum
}

func TestResolveRootPath(t *testing.T) {
	h := newHarness(t)

	parent, final, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "/")
	if err != nil {
		t.Fatal(err)
	}
	defer h.table.Close(h.ctx(), parent, h.fm)

	if parent.Inum != geometry.RootInum || final != "." {
		t.Fatalf("Resolve(/) = (%d, %q), want (%d, \".\")", parent.Inum, final, geometry.RootInum)
	}
}

func TestResolveAbsoluteMultiLevel(t *testing.T) {
	h := newHarness(t)
	sub := h.mkdir(t, h.root, "d")
	h.mkfile(t, sub, "f")

	parent, final, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "/d/f")
	if err != nil {
		t.Fatal(err)
	}
	defer h.table.Close(h.ctx(), parent, h.fm)

	if parent.Inum != sub.Inum || final != "f" {
		t.Fatalf("Resolve(/d/f) = (%d, %q), want (%d, \"f\")", parent.Inum, final, sub.Inum)
	}
}

func TestResolveRelativeToCwd(t *testing.T) {
	h := newHarness(t)
	sub := h.mkdir(t, h.root, "d")

	parent, final, err := Resolve(h.ctx(), h.cache, h.table, h.fm, sub, "g")
	if err != nil {
		t.Fatal(err)
	}
	defer h.table.Close(h.ctx(), parent, h.fm)

	if parent.Inum != sub.Inum || final != "g" {
		t.Fatalf("Resolve(g) relative to d = (%d, %q), want (%d, \"g\")", parent.Inum, final, sub.Inum)
	}
}

func TestResolveTrailingSlashYieldsDotComponent(t *testing.T) {
	h := newHarness(t)
	sub := h.mkdir(t, h.root, "d")

	parent, final, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "/d/")
	if err != nil {
		t.Fatal(err)
	}
	defer h.table.Close(h.ctx(), parent, h.fm)

	if parent.Inum != sub.Inum || final != "." {
		t.Fatalf("Resolve(/d/) = (%d, %q), want (%d, \".\")", parent.Inum, final, sub.Inum)
	}
}

func TestResolveThroughFileIsNotADirectory(t *testing.T) {
	h := newHarness(t)
	h.mkfile(t, h.root, "f")

	_, _, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "/f/g")
	if err != ferrors.ErrNotADirectory {
		t.Fatalf("err = %v, want ErrNotADirectory", err)
	}
}

func TestResolveMissingComponentIsNotFound(t *testing.T) {
	h := newHarness(t)

	_, _, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "/nope/f")
	if err != ferrors.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveEmptyPathFails(t *testing.T) {
	h := newHarness(t)

	_, _, err := Resolve(h.ctx(), h.cache, h.table, h.fm, h.root, "")
	if err != ferrors.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
