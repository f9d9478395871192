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

// Package pathresolver implements absolute and relative path traversal
// over the directory tree: splitting a path string into a
// parent-directory handle plus the final component, which the caller
// then feeds to directory.Lookup, directory.Add, or directory.Remove.
package pathresolver

import (
	"context"
	"strings"

	"github.com/jacobsa/sectorfs/bufcache"
	"github.com/jacobsa/sectorfs/directory"
	"github.com/jacobsa/sectorfs/ferrors"
	"github.com/jacobsa/sectorfs/freemap"
	"github.com/jacobsa/sectorfs/geometry"
	"github.com/jacobsa/sectorfs/inode"
	"github.com/jacobsa/sectorfs/openinode"
)

// Resolve parses path relative to cwd (ignored for an absolute path) and
// returns the open handle of its parent directory plus the final path
// component, leaving the caller to perform a Lookup, Add, or Remove with
// them. The returned handle is a fresh reference from table; the caller
// must eventually table.Close it. Every intermediate directory opened
// during the walk is closed before Resolve returns, on both the success
// and the error path.
func Resolve(
	ctx context.Context,
	cache *bufcache.Cache,
	table *openinode.Table,
	fm *freemap.FreeMap,
	cwd *inode.Handle,
	path string,
) (parent *inode.Handle, final string, err error) {
	if path == "" {
		return nil, "", ferrors.ErrNotFound
	}

	var startInum geometry.Inum
	rest := path
	if strings.HasPrefix(path, "/") {
		if path == "/" {
			return table.Open(geometry.RootInum), ".", nil
		}
		startInum = geometry.RootInum
		rest = path[1:]
	} else {
		startInum = cwd.Inum
	}

	dirPath, final := splitPath(rest)
	if len(final) < 1 || len(final) > geometry.NameMax {
		return nil, "", ferrors.ErrInvalidName
	}

	current := table.Open(startInum)
	for _, token := range tokenize(dirPath) {
		childInum, found, lerr := directory.Lookup(ctx, cache, current, token)
		if lerr != nil {
			table.Close(ctx, current, fm)
			return nil, "", lerr
		}
		if !found {
			table.Close(ctx, current, fm)
			return nil, "", ferrors.ErrNotFound
		}

		child := table.Open(childInum)
		isDir, ierr := child.IsDir(ctx)
		if ierr != nil {
			table.Close(ctx, child, fm)
			table.Close(ctx, current, fm)
			return nil, "", ierr
		}
		if !isDir {
			table.Close(ctx, child, fm)
			table.Close(ctx, current, fm)
			return nil, "", ferrors.ErrNotADirectory
		}

		table.Close(ctx, current, fm)
		current = child
	}

	return current, final, nil
}

// splitPath splits rest (with any leading "/" already stripped) at its
// last "/" into a dir path and a final component. A trailing "/" yields
// a final component of ".".
func splitPath(rest string) (dirPath, final string) {
	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", rest
	}
	dirPath = rest[:idx]
	final = rest[idx+1:]
	if final == "" {
		final = "."
	}
	return dirPath, final
}

// tokenize splits a dir path by "/", dropping empty components produced
// by a leading slash (already stripped by the caller) or runs of
// consecutive slashes.
func tokenize(dirPath string) []string {
	if dirPath == "" {
		return nil
	}
	parts := strings.Split(dirPath, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
