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

	"github.com/jacobsa/sectorfs/geometry"
)

func TestHandleReleaseDefersUntilLastReference(t *testing.T) {
	store, fm := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandle(store, inum)
	h.AddRef()
	h.AddRef()

	if freed, err := h.MarkRemoved(ctx, fm); err != nil || freed {
		t.Fatalf("MarkRemoved with 2 open refs: freed=%v err=%v", freed, err)
	}
	if !h.IsRemoved() {
		t.Fatalf("handle not marked removed")
	}

	if freed, err := h.Release(ctx, fm); err != nil || freed {
		t.Fatalf("first Release of 2: freed=%v err=%v", freed, err)
	}
	d, err := store.ReadInode(ctx, inum)
	if err != nil {
		t.Fatal(err)
	}
	if !d.InUse {
		t.Fatalf("inode freed before its last reference was released")
	}

	if freed, err := h.Release(ctx, fm); err != nil || !freed {
		t.Fatalf("final Release: freed=%v err=%v, want freed=true", freed, err)
	}
	d, err = store.ReadInode(ctx, inum)
	if err != nil {
		t.Fatal(err)
	}
	if d.InUse {
		t.Fatalf("inode still in use after its last reference released a removed handle")
	}
}

func TestHandleMarkRemovedWithNoOpenRefsFreesImmediately(t *testing.T) {
	store, fm := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandle(store, inum)

	freed, err := h.MarkRemoved(ctx, fm)
	if err != nil {
		t.Fatal(err)
	}
	if !freed {
		t.Fatalf("MarkRemoved with zero open refs should free immediately")
	}
}

func TestHandleLengthAndSetLength(t *testing.T) {
	store, _ := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandle(store, inum)

	n, err := h.Length(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("new file length = %d, want 0", n)
	}

	if err := h.SetLength(ctx, geometry.SectorSize*3); err != nil {
		t.Fatal(err)
	}
	n, err = h.Length(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != geometry.SectorSize*3 {
		t.Fatalf("length after SetLength = %d, want %d", n, geometry.SectorSize*3)
	}
}

func TestHandleDenyWrite(t *testing.T) {
	store, _ := newTestStore(t, 2000)
	ctx := context.Background()

	inum, err := store.Create(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandle(store, inum)

	if h.WriteDenied() {
		t.Fatalf("new handle should not start with writes denied")
	}
	h.DenyWrite()
	if !h.WriteDenied() {
		t.Fatalf("DenyWrite did not take effect")
	}
	h.DenyWrite()
	h.AllowWrite()
	if !h.WriteDenied() {
		t.Fatalf("write should still be denied with one outstanding DenyWrite")
	}
	h.AllowWrite()
	if h.WriteDenied() {
		t.Fatalf("write should no longer be denied once all DenyWrite calls are matched")
	}
}
