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

package sectorfs

import (
	"context"
	"log"

	"github.com/jacobsa/sectorfs/blockdev"
	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/directory"
	"github.com/jacobsa/sectorfs/fileops"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/sectorfs/openinode"
	"github.com/jacobsa/sectorfs/pathresolver"
	"github.com/jacobsa/timeutil"
	"golang.org/x/sync/errgroup"
)

// Filesystem is the single object owning the buffer cache, free map,
// inode store, and open-inode table for one mounted device. Construct
// with Init.
type Filesystem struct {
	cache *bufcache.Cache
	fm    *freemap.FreeMap
	store *inode.Store
	table *openinode.Table

	logger *log.Logger
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Init mounts dev, returning a ready Filesystem. If format is true the
// device is wiped and reinitialized with an empty root directory;
// otherwise the existing on-disk inode table and free map are used as
// they are; there is no journal, so everything else is derived on read.
// It also starts the two permanent worker tasks (the flush loop and
// the prefetch loop) under an errgroup.Group, which Done cancels and then
// waits on. Neither loop recovers from a panic or returns an error.
func Init(dev blockdev.BlockDevice, format bool) (*Filesystem, error) {
	cache := bufcache.New(dev)
	store := inode.New(cache)
	fctx := bufcache.NewOwnerContext(context.Background())

	if format {
		if err := store.FormatTable(fctx); err != nil {
			return nil, err
		}
	}

	fm, err := freemap.New(cache, dev.SectorCount(), format)
	if err != nil {
		return nil, err
	}

	if format {
		if err := store.FormatRoot(fctx); err != nil {
			return nil, err
		}
	}

	table := openinode.New(store)

	if format {
		root := table.Open(geometry.RootInum)
		if err := directory.Create(fctx, cache, root, fm, geometry.RootInum); err != nil {
			table.Close(fctx, root, fm)
			return nil, err
		}
		if err := table.Close(fctx, root, fm); err != nil {
			return nil, err
		}
	}

	logger := log.Default()

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	fs := &Filesystem{
		cache:  cache,
		fm:     fm,
		store:  store,
		table:  table,
		logger: logger,
		cancel: cancel,
		group:  group,
	}

	group.Go(func() error {
		cache.RunFlushLoop(gctx, timeutil.RealClock(), bufcache.RealSleeper{}, logger)
		return nil
	})
	group.Go(func() error {
		cache.RunPrefetchLoop(gctx)
		return nil
	})

	return fs, nil
}

// Done shuts the filesystem down: flush the cache, close the free map,
// then stop the cache's worker loops, in that order. Closing the free
// map writes its extent back, so it must happen before the flush loop
// stops. Write-back here is synchronous and unbounded.
func (fs *Filesystem) Done() error {
	fs.cache.Flush()
	if err := fs.fm.Close(); err != nil {
		return err
	}
	fs.cancel()
	return fs.group.Wait()
}

// rootCwd returns a fresh reference to the root directory. The syscall
// dispatch layer that would track a per-process working directory is not
// part of this library and the public API takes no cwd parameter, so
// every relative path resolves against the root. An embedding layer that
// does track a cwd can call pathresolver.Resolve with its own handle.
func (fs *Filesystem) rootCwd() *inode.Handle {
	return fs.table.Open(geometry.RootInum)
}

func (fs *Filesystem) resolve(ctx context.Context, path string) (parent *inode.Handle, final string, err error) {
	cwd := fs.rootCwd()
	defer fs.table.Close(ctx, cwd, fs.fm)
	return pathresolver.Resolve(ctx, fs.cache, fs.table, fs.fm, cwd, path)
}

// Create allocates a new inode, populates it (an empty directory with
// "." and ".." for is_dir, a zero-filled sparse length otherwise), and
// links it into its parent
// directory under the path's final component. Any failure along the way
// rolls the inode back by marking it removed, so no leaked inode number
// survives a failed Create.
func (fs *Filesystem) Create(path string, initialSize uint32, isDir bool) bool {
	ctx := bufcache.NewOwnerContext(context.Background())

	parent, final, err := fs.resolve(ctx, path)
	if err != nil {
		return false
	}
	defer fs.table.Close(ctx, parent, fs.fm)

	if final == "." {
		// Can't create a file "in place of" an already-resolved directory.
		return false
	}

	inum, err := fs.store.Create(ctx, isDir)
	if err != nil {
		return false
	}
	h := fs.table.Open(inum)
	defer fs.table.Close(ctx, h, fs.fm)

	if isDir {
		if err := directory.Create(ctx, fs.cache, h, fs.fm, parent.Inum); err != nil {
			h.MarkRemoved(ctx, fs.fm)
			return false
		}
	} else if initialSize > 0 {
		if err := h.SetLength(ctx, initialSize); err != nil {
			h.MarkRemoved(ctx, fs.fm)
			return false
		}
	}

	if err := directory.Add(ctx, fs.cache, parent, fs.fm, final, inum); err != nil {
		h.MarkRemoved(ctx, fs.fm)
		return false
	}

	return true
}

// Open returns a handle for the file or directory at path, or nil if
// path does not resolve to an existing entry.
func (fs *Filesystem) Open(path string) *FileHandle {
	ctx := bufcache.NewOwnerContext(context.Background())

	parent, final, err := fs.resolve(ctx, path)
	if err != nil {
		return nil
	}
	defer fs.table.Close(ctx, parent, fs.fm)

	inum := parent.Inum
	if final != "." {
		var found bool
		inum, found, err = directory.Lookup(ctx, fs.cache, parent, final)
		if err != nil || !found {
			return nil
		}
	}

	return &FileHandle{fs: fs, handle: fs.table.Open(inum)}
}

// Remove deletes the entry at path, reporting whether it succeeded.
func (fs *Filesystem) Remove(path string) bool {
	ctx := bufcache.NewOwnerContext(context.Background())

	parent, final, err := fs.resolve(ctx, path)
	if err != nil {
		return false
	}
	defer fs.table.Close(ctx, parent, fs.fm)

	if final == "." {
		return false
	}

	return directory.Remove(ctx, fs.cache, fs.store, fs.fm, fs.table, parent, final) == nil
}

// FileHandle is the per-open handle returned by Open, through which
// callers read, write, seek, and (for directories) enumerate entries.
type FileHandle struct {
	fs     *Filesystem
	handle *inode.Handle

	pos       uint32
	dirCursor uint32
	closed    bool
}

// checkOpen panics if the handle has already been closed. Using a
// closed handle is a caller bug, and it is reported the same way for
// every operation rather than special-casing any of them.
func (fh *FileHandle) checkOpen() {
	if fh.closed {
		panic("sectorfs: operation on a closed file handle")
	}
}

// Read copies up to n bytes starting at the handle's current position
// into buf, advancing the position by the number of bytes actually read.
func (fh *FileHandle) Read(buf []byte, n int) (int, error) {
	fh.checkOpen()
	if n > len(buf) {
		n = len(buf)
	}
	ctx := bufcache.NewOwnerContext(context.Background())
	read, err := fileops.ReadAt(ctx, fh.fs.cache, fh.handle, buf[:n], fh.pos)
	fh.pos += uint32(read)
	return read, err
}

// Write writes up to n bytes from buf at the handle's current position,
// advancing the position by the number of bytes actually written. A
// short write (fewer than n bytes) can occur; it is not an error.
func (fh *FileHandle) Write(buf []byte, n int) (int, error) {
	fh.checkOpen()
	if n > len(buf) {
		n = len(buf)
	}
	ctx := bufcache.NewOwnerContext(context.Background())
	written, err := fileops.WriteAt(ctx, fh.fs.cache, fh.handle, fh.fs.fm, buf[:n], fh.pos)
	fh.pos += uint32(written)
	return written, err
}

// Seek repositions the handle's cursor for subsequent Read/Write calls.
func (fh *FileHandle) Seek(pos uint32) {
	fh.checkOpen()
	fh.pos = pos
}

// Tell returns the handle's current cursor position.
func (fh *FileHandle) Tell() uint32 {
	fh.checkOpen()
	return fh.pos
}

// Length returns the file's current length.
func (fh *FileHandle) Length() (uint32, error) {
	fh.checkOpen()
	ctx := bufcache.NewOwnerContext(context.Background())
	return fh.handle.Length(ctx)
}

// IsDir reports whether this handle refers to a directory.
func (fh *FileHandle) IsDir() (bool, error) {
	fh.checkOpen()
	ctx := bufcache.NewOwnerContext(context.Background())
	return fh.handle.IsDir(ctx)
}

// Readdir returns the next directory entry other than "." or "..",
// advancing this handle's own cursor; positions are per open handle,
// not per inode. ok is false once every entry has been visited.
func (fh *FileHandle) Readdir() (name string, inum geometry.Inum, ok bool, err error) {
	fh.checkOpen()
	ctx := bufcache.NewOwnerContext(context.Background())
	return directory.Readdir(ctx, fh.fs.cache, fh.handle, &fh.dirCursor)
}

// Inumber returns the inode number this handle refers to.
func (fh *FileHandle) Inumber() geometry.Inum {
	fh.checkOpen()
	return fh.handle.Inum
}

// DenyWrite and AllowWrite implement the refcounted deny-write hold used
// while an executable is mapped.
func (fh *FileHandle) DenyWrite() {
	fh.checkOpen()
	fileops.DenyWrite(fh.handle)
}

func (fh *FileHandle) AllowWrite() {
	fh.checkOpen()
	fileops.AllowWrite(fh.handle)
}

// Close releases this handle's reference to its inode, freeing the
// inode's sectors if this was the last open reference to an inode that
// had already been unlinked.
func (fh *FileHandle) Close() error {
	fh.checkOpen()
	fh.closed = true
	ctx := bufcache.NewOwnerContext(context.Background())
	return fh.fs.table.Close(ctx, fh.handle, fh.fs.fm)
}
