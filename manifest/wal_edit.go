// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"github.com/cockroachdb/redact"
	"github.com/stratadb/strata/internal/base"
)

// WalNumber identifies a write-ahead log file on disk.
type WalNumber = base.DiskFileNum

// Sub-tags of a WAL addition payload. Unlike the new-file custom stream, the
// terminator is tag 1 and unknown tags are a hard failure: WAL records are
// already length-prefixed at the outer layer, so an old reader skips whole
// records it cannot parse rather than individual fields.
const (
	walTagTerminate  = 1
	walTagSyncedSize = 2
)

// WalMetadata is the durable state tracked for a live WAL.
type WalMetadata struct {
	// SyncedSize is the portion of the WAL, in bytes, known to be synced to
	// durable storage. On recovery, content past this offset may be torn.
	SyncedSize uint64
	// HasSyncedSize reports whether SyncedSize has been recorded. A WAL may
	// be announced before its first sync.
	HasSyncedSize bool
}

// SetSyncedSize records the synced prefix of the WAL.
func (m *WalMetadata) SetSyncedSize(size uint64) {
	m.SyncedSize = size
	m.HasSyncedSize = true
}

// WalAddition records the creation of a WAL, or an update to its metadata.
// Multiple additions for the same WAL number fold together during replay,
// later metadata winning.
type WalAddition struct {
	Number   WalNumber
	Metadata WalMetadata
}

func (a *WalAddition) encode(e versionEditEncoder) {
	e.writeUvarint(uint64(a.Number))
	if a.Metadata.HasSyncedSize {
		e.writeUvarint(walTagSyncedSize)
		e.writeUvarint(a.Metadata.SyncedSize)
	}
	e.writeUvarint(walTagTerminate)
}

func (a *WalAddition) decode(d versionEditDecoder) error {
	n, err := d.readUvarint()
	if err != nil {
		return err
	}
	a.Number = WalNumber(n)
	for {
		tag, err := d.readUvarint()
		if err != nil {
			return err
		}
		switch tag {
		case walTagTerminate:
			return nil
		case walTagSyncedSize:
			size, err := d.readUvarint()
			if err != nil {
				return err
			}
			a.Metadata.SetSyncedSize(size)
		default:
			return base.CorruptionErrorf("strata: unknown WAL addition tag %d", tag)
		}
	}
}

// String implements fmt.Stringer.
func (a *WalAddition) String() string {
	return redact.StringWithoutMarkers(a)
}

// SafeFormat implements redact.SafeFormatter.
func (a *WalAddition) SafeFormat(w redact.SafePrinter, _ rune) {
	if a.Metadata.HasSyncedSize {
		w.Printf("%s synced-size:%d", a.Number, redact.Safe(a.Metadata.SyncedSize))
		return
	}
	w.Printf("%s", a.Number)
}

// WalDeletion records that every WAL with a number strictly less than
// NumberBefore is obsolete. The zero value records nothing.
type WalDeletion struct {
	NumberBefore WalNumber
}

// IsEmpty reports whether the deletion records nothing.
func (d WalDeletion) IsEmpty() bool {
	return d.NumberBefore == 0
}

func (del *WalDeletion) encode(e versionEditEncoder) {
	e.writeUvarint(uint64(del.NumberBefore))
}

func (del *WalDeletion) decode(d versionEditDecoder) error {
	n, err := d.readUvarint()
	if err != nil {
		return err
	}
	del.NumberBefore = WalNumber(n)
	if del.IsEmpty() {
		return base.CorruptionErrorf("strata: WAL deletion with zero boundary")
	}
	return nil
}
