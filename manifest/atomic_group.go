// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"github.com/stratadb/strata/internal/base"
)

// AtomicGroupReadBuffer buffers the edits of an atomic group during MANIFEST
// replay. A group of n edits is written with countdown markers n-1, n-2, ...,
// 0; the buffer verifies the countdown and releases the group only once all
// n edits have arrived. A group cut short by a crash is discarded unapplied.
type AtomicGroupReadBuffer struct {
	edits []*VersionEdit
	// expected is the size of the group being read, fixed by the first
	// edit's countdown marker. Zero when no group is in progress.
	expected uint32
}

// AddEdit feeds the next replayed edit into the buffer. For an edit inside
// an atomic group it verifies the group's countdown and buffers the edit;
// the caller must apply the buffered group once IsFull reports true. For an
// ordinary edit it verifies no group is in progress; the caller applies the
// edit directly.
func (b *AtomicGroupReadBuffer) AddEdit(ve *VersionEdit) error {
	if inGroup, remaining := ve.InAtomicGroup(); inGroup {
		if len(b.edits) == 0 {
			b.expected = remaining + 1
		}
		b.edits = append(b.edits, ve)
		if uint32(len(b.edits))+remaining != b.expected {
			return base.CorruptionErrorf("strata: corrupted atomic group")
		}
		return nil
	}
	if len(b.edits) > 0 {
		return base.CorruptionErrorf("strata: corrupted atomic group")
	}
	return nil
}

// IsFull reports whether a complete atomic group is buffered.
func (b *AtomicGroupReadBuffer) IsFull() bool {
	return b.expected != 0 && uint32(len(b.edits)) == b.expected
}

// IsEmpty reports whether no group is in progress.
func (b *AtomicGroupReadBuffer) IsEmpty() bool {
	return len(b.edits) == 0
}

// Edits returns the buffered edits of the group in log order. The returned
// slice must not be modified.
func (b *AtomicGroupReadBuffer) Edits() []*VersionEdit {
	return b.edits
}

// Clear resets the buffer, discarding any buffered edits.
func (b *AtomicGroupReadBuffer) Clear() {
	b.edits = nil
	b.expected = 0
}

// ReplayEdits feeds decoded MANIFEST edits through an atomic-group buffer,
// invoking apply for each ordinary edit and for each edit of a completed
// group, in log order. An incomplete group at the end of the stream is the
// torn tail of a crashed group commit and is discarded without being
// applied; an incomplete group elsewhere is a corruption error surfaced by
// the next ordinary edit.
func ReplayEdits(edits []*VersionEdit, apply func(*VersionEdit) error) error {
	var buffer AtomicGroupReadBuffer
	for _, ve := range edits {
		if err := buffer.AddEdit(ve); err != nil {
			return err
		}
		if inGroup, _ := ve.InAtomicGroup(); !inGroup {
			if err := apply(ve); err != nil {
				return err
			}
			continue
		}
		if buffer.IsFull() {
			for _, grouped := range buffer.Edits() {
				if err := apply(grouped); err != nil {
					return err
				}
			}
			buffer.Clear()
		}
	}
	// A group still buffered at stream end never committed.
	buffer.Clear()
	return nil
}
