// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// FileNum is an internal DB identifier for a file. File numbers are assigned
// from a single monotonic counter per column family and are never reused.
type FileNum uint64

// String returns a string representation of the file number.
func (fn FileNum) String() string { return fmt.Sprintf("%06d", uint64(fn)) }

// SafeFormat implements redact.SafeFormatter.
func (fn FileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(fn))
}

// A DiskFileNum identifies a file that exists on disk.
type DiskFileNum uint64

// String returns a string representation of the disk file number.
func (dfn DiskFileNum) String() string { return fmt.Sprintf("%06d", uint64(dfn)) }

// SafeFormat implements redact.SafeFormatter.
func (dfn DiskFileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%06d", redact.SafeUint(dfn))
}

// BlobFileNum identifies a blob value file. 0 is an invalid value; blob files
// are numbered starting from 1.
type BlobFileNum uint64

// InvalidBlobFileNum indicates that a table does not reference any blob file.
const InvalidBlobFileNum BlobFileNum = 0

// String returns a string representation of the blob file number.
func (bfn BlobFileNum) String() string { return fmt.Sprintf("B%06d", uint64(bfn)) }

// SafeFormat implements redact.SafeFormatter.
func (bfn BlobFileNum) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("B%06d", redact.SafeUint(bfn))
}

// PathID identifies which of the configured storage paths holds a file. Path
// 0 is the default path.
type PathID uint32

// FileNumMask selects the file-number component of a packed file number. The
// file number occupies the low 60 bits of the packed representation; the path
// ID occupies the remainder.
const FileNumMask uint64 = 1<<60 - 1

// PackFileNumAndPathID packs a file number and a path ID into a single
// integer for compact storage. The file number must fit in 60 bits.
func PackFileNumAndPathID(fn FileNum, pathID PathID) uint64 {
	if uint64(fn) > FileNumMask {
		panic(errors.AssertionFailedf("strata: file number %d overflows packed representation", uint64(fn)))
	}
	return uint64(fn) | uint64(pathID)*(FileNumMask+1)
}

// UnpackFileNum extracts the file number from a packed file number.
func UnpackFileNum(packed uint64) FileNum {
	return FileNum(packed & FileNumMask)
}

// UnpackPathID extracts the path ID from a packed file number.
func UnpackPathID(packed uint64) PathID {
	return PathID(packed / (FileNumMask + 1))
}

// ParseFileNum parses the provided string as a file number.
func ParseFileNum(s string) (fn FileNum, ok bool) {
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fn, false
	}
	return FileNum(u), true
}
