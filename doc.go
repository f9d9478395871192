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

// Package sectorfs implements the core of a UNIX-like on-disk file system
// layered over a fixed-size sector device. It speaks no kernel protocol; it
// is a library consumed by a syscall dispatch layer that owns path strings,
// file descriptors, and user buffers on the caller's behalf.
//
// The primary elements of interest are:
//
//  *  blockdev.BlockDevice, the narrow interface the core expects its
//     backing store to satisfy.
//
//  *  Filesystem, constructed by Init, which owns the buffer cache, free
//     map, inode store, and open-inode table for one mounted device.
//
//  *  FileHandle, returned by Filesystem.Open, through which callers read,
//     write, seek, and (for directories) enumerate entries.
package sectorfs
