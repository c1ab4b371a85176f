// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"github.com/cockroachdb/redact"
	"github.com/stratadb/strata/internal/base"
	"github.com/stratadb/strata/internal/humanize"
)

// BlobFileAddition records a new blob file: its identity, its value payload
// totals, and the checksum of its contents.
type BlobFileAddition struct {
	FileNum        base.BlobFileNum
	TotalBlobCount uint64
	TotalBlobBytes uint64
	ChecksumMethod string
	ChecksumValue  string
}

func (a *BlobFileAddition) encode(e versionEditEncoder) {
	e.writeUvarint(uint64(a.FileNum))
	e.writeUvarint(a.TotalBlobCount)
	e.writeUvarint(a.TotalBlobBytes)
	e.writeString(a.ChecksumMethod)
	e.writeString(a.ChecksumValue)
}

func (a *BlobFileAddition) decode(d versionEditDecoder) error {
	n, err := d.readUvarint()
	if err != nil {
		return err
	}
	a.FileNum = base.BlobFileNum(n)
	if a.TotalBlobCount, err = d.readUvarint(); err != nil {
		return err
	}
	if a.TotalBlobBytes, err = d.readUvarint(); err != nil {
		return err
	}
	method, err := d.readBytes()
	if err != nil {
		return err
	}
	a.ChecksumMethod = string(method)
	value, err := d.readBytes()
	if err != nil {
		return err
	}
	a.ChecksumValue = string(value)
	return nil
}

// String implements fmt.Stringer.
func (a *BlobFileAddition) String() string {
	return redact.StringWithoutMarkers(a)
}

// SafeFormat implements redact.SafeFormatter.
func (a *BlobFileAddition) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s count:%d size:[%d (%s)]",
		a.FileNum, redact.Safe(a.TotalBlobCount),
		redact.Safe(a.TotalBlobBytes), humanize.Bytes.Uint64(a.TotalBlobBytes))
	if a.ChecksumMethod != "" {
		w.Printf(" checksum:%s", redact.SafeString(a.ChecksumMethod))
	}
}

// BlobFileGarbage records that some of a blob file's values have become
// unreferenced. The counts accumulate across edits; once they reach the
// file's totals, the blob file is reclaimable.
type BlobFileGarbage struct {
	FileNum          base.BlobFileNum
	GarbageBlobCount uint64
	GarbageBlobBytes uint64
}

func (g *BlobFileGarbage) encode(e versionEditEncoder) {
	e.writeUvarint(uint64(g.FileNum))
	e.writeUvarint(g.GarbageBlobCount)
	e.writeUvarint(g.GarbageBlobBytes)
}

func (g *BlobFileGarbage) decode(d versionEditDecoder) error {
	n, err := d.readUvarint()
	if err != nil {
		return err
	}
	g.FileNum = base.BlobFileNum(n)
	if g.GarbageBlobCount, err = d.readUvarint(); err != nil {
		return err
	}
	if g.GarbageBlobBytes, err = d.readUvarint(); err != nil {
		return err
	}
	return nil
}

// String implements fmt.Stringer.
func (g *BlobFileGarbage) String() string {
	return redact.StringWithoutMarkers(g)
}

// SafeFormat implements redact.SafeFormatter.
func (g *BlobFileGarbage) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s count:%d size:[%d (%s)]",
		g.FileNum, redact.Safe(g.GarbageBlobCount),
		redact.Safe(g.GarbageBlobBytes), humanize.Bytes.Uint64(g.GarbageBlobBytes))
}
