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
	"testing"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/sectorfs/openinode"
)

type testFS struct {
	cache *bufcache.Cache
	store *inode.Store
	fm    *freemap.FreeMap
	table *openinode.Table
}

func newTestFS(t *testing.T) *testFS {
	t.Helper()
	dev := blockdev.NewMemDevice(4000)
	cache := bufcache.New(dev)
	fm, err := freemap.New(cache, 4000, true)
	if err != nil {
		t.Fatal(err)
	}
	store := inode.New(cache)
	if err := store.FormatTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := store.FormatRoot(context.Background()); err != nil {
		t.Fatal(err)
	}
	return &testFS{cache: cache, store: store, fm: fm, table: openinode.New(store)}
}

func (fs *testFS) newCtx() context.Context {
	return bufcache.NewOwnerContext(context.Background())
}

func (fs *testFS) mkroot(t *testing.T) *inode.Handle {
	t.Helper()
	h := fs.table.Open(geometry.RootInum)
	if err := Create(fs.newCtx(), fs.cache, h, fs.fm, geometry.RootInum); err != nil {
		t.Fatal(err)
	}
	return h
}

func (fs *testFS) mkdir(t *testing.T, parent *inode.Handle, name string) *inode.Handle {
	t.Helper()
	inum, err := fs.store.Create(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	h := fs.table.Open(inum)
	ctx := fs.newCtx()
	if err := Create(ctx, fs.cache, h, fs.fm, parent.Inum); err != nil {
		t.Fatal(err)
	}
	if err := Add(ctx, fs.cache, parent, fs.fm, name, inum); err != nil {
		t.Fatal(err)
	}
	return h
}

func (fs *testFS) mkfile(t *testing.T, parent *inode.Handle, name string) *inode.Handle {
	t.Helper()
	inum, err := fs.store.Create(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	ctx := fs.newCtx()
	if err := Add(ctx, fs.cache, parent, fs.fm, name, inum); err != nil {
		t.Fatal(err)
	}
	return fs.table.Open(inum)
}

func TestRootHasDotAndDotDot(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)

	ctx := fs.newCtx()
	if inum, found, err := Lookup(ctx, fs.cache, root, "."); err != nil || !found || inum != geometry.RootInum {
		t.Fatalf(". lookup: inum=%d found=%v err=%v", inum, found, err)
	}
	if inum, found, err := Lookup(ctx, fs.cache, root, ".."); err != nil || !found || inum != geometry.RootInum {
		t.Fatalf(".. lookup: inum=%d found=%v err=%v", inum, found, err)
	}
}

func TestAddLookupRemove(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)
	ctx := fs.newCtx()

	file := fs.mkfile(t, root, "a")

	inum, found, err := Lookup(ctx, fs.cache, root, "a")
	if err != nil || !found || inum != file.Inum {
		t.Fatalf("Lookup after Add: inum=%d found=%v err=%v", inum, found, err)
	}

	if err := Remove(ctx, fs.cache, fs.store, fs.fm, fs.table, root, "a"); err != nil {
		t.Fatal(err)
	}
	if _, found, err := Lookup(ctx, fs.cache, root, "a"); err != nil || found {
		t.Fatalf("entry still found after Remove: found=%v err=%v", found, err)
	}
}

func TestAddDuplicateNameFails(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)
	ctx := fs.newCtx()
	fs.mkfile(t, root, "dup")

	inum2, err := fs.store.Create(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := Add(ctx, fs.cache, root, fs.fm, "dup", inum2); err != ferrors.ErrNameInUse {
		t.Fatalf("Add of duplicate name: err=%v, want ErrNameInUse", err)
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)
	ctx := fs.newCtx()

	sub := fs.mkdir(t, root, "d")
	fs.mkfile(t, sub, "x")

	if err := Remove(ctx, fs.cache, fs.store, fs.fm, fs.table, root, "d"); err != ferrors.ErrDirNotEmpty {
		t.Fatalf("Remove of non-empty dir: err=%v, want ErrDirNotEmpty", err)
	}

	// The file inside it must still be reachable: remove was rejected.
	if _, found, err := Lookup(ctx, fs.cache, sub, "x"); err != nil || !found {
		t.Fatalf("child entry missing after rejected Remove: found=%v err=%v", found, err)
	}
}

func TestReaddirSkipsDotEntries(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)

	fs.mkfile(t, root, "a")
	fs.mkfile(t, root, "b")

	var cursor uint32
	seen := map[string]bool{}
	for {
		name, _, ok, err := Readdir(context.Background(), fs.cache, root, &cursor)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		seen[name] = true
	}
	if !seen["a"] || !seen["b"] || seen["."] || seen[".."] {
		t.Fatalf("readdir result %v, want exactly {a, b}", seen)
	}
}

func TestLookupOnRemovedDirIsStale(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)
	ctx := fs.newCtx()

	sub := fs.mkdir(t, root, "d")
	subHandle := fs.table.Open(sub.Inum) // simulate a second open reference
	defer fs.table.Close(ctx, subHandle, fs.fm)

	if err := Remove(ctx, fs.cache, fs.store, fs.fm, fs.table, root, "d"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := Lookup(ctx, fs.cache, subHandle, "anything"); err != ferrors.ErrStale {
		t.Fatalf("Lookup on removed dir: err=%v, want ErrStale", err)
	}
}

func TestAddInvalidNameRejected(t *testing.T) {
	fs := newTestFS(t)
	root := fs.mkroot(t)
	ctx := fs.newCtx()

	if err := Add(ctx, fs.cache, root, fs.fm, "", 1); err != ferrors.ErrInvalidName {
		t.Fatalf("empty name: err=%v, want ErrInvalidName", err)
	}
	if err := Add(ctx, fs.cache, root, fs.fm, "a/b", 1); err != ferrors.ErrInvalidName {
		t.Fatalf("name with slash: err=%v, want ErrInvalidName", err)
	}
}
