// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package manifest

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/stratadb/strata/internal/base"
)

// RefGraph accumulates the bipartite reference structure between the index
// files and table files of a version: an edge (index, table) weighted by the
// count of live keys the index still points at within the table.
//
// The graph is built from index files only. Table files' father-reference
// maps are derived views of the same edges and are populated from the graph
// by PopulateFatherMaps; they are never an independent source of truth.
type RefGraph struct {
	// byTable maps each referenced table file to its referencing index files
	// and their live-key counts.
	byTable map[base.FileNum]map[base.FileNum]uint32
}

// NewRefGraph returns an empty reference graph.
func NewRefGraph() *RefGraph {
	return &RefGraph{byTable: make(map[base.FileNum]map[base.FileNum]uint32)}
}

// AddIndexFile folds an index file's sub-references into the graph. Each
// index file may be added at most once.
func (g *RefGraph) AddIndexFile(m *FileMetadata) error {
	if m.Role != RoleIndexFile {
		return errors.AssertionFailedf("file %s has role %s, not index", m.FD.FileNum(), m.Role)
	}
	indexNum := m.FD.FileNum()
	for tableNum, count := range m.FD.SubNumberToReferenceKey {
		fathers := g.byTable[tableNum]
		if fathers == nil {
			fathers = make(map[base.FileNum]uint32)
			g.byTable[tableNum] = fathers
		}
		if _, ok := fathers[indexNum]; ok {
			return errors.AssertionFailedf("index file %s added twice", indexNum)
		}
		fathers[indexNum] = count
	}
	return nil
}

// FatherMap returns the derived father-reference map for a table file: each
// referencing index file and its live-key count. Returns nil if no index
// file references the table.
func (g *RefGraph) FatherMap(tableNum base.FileNum) map[base.FileNum]uint32 {
	fathers := g.byTable[tableNum]
	if len(fathers) == 0 {
		return nil
	}
	out := make(map[base.FileNum]uint32, len(fathers))
	for indexNum, count := range fathers {
		out[indexNum] = count
	}
	return out
}

// TableRefTotal returns the total live-key reference count held against a
// table file. A total of zero means the table is unreferenced and eligible
// for garbage collection.
func (g *RefGraph) TableRefTotal(tableNum base.FileNum) uint32 {
	var total uint32
	for _, count := range g.byTable[tableNum] {
		total += count
	}
	return total
}

// PopulateFatherMaps overwrites the father-reference map of every given
// table file with the map derived from the graph. A table absent from the
// graph gets a nil map, marking it unreferenced.
func (g *RefGraph) PopulateFatherMaps(tableFiles []*FileMetadata) error {
	for _, t := range tableFiles {
		if t.Role != RoleTableFile {
			return errors.AssertionFailedf("file %s has role %s, not table", t.FD.FileNum(), t.Role)
		}
		t.FD.FatherNumberToReferenceKey = g.FatherMap(t.FD.FileNum())
	}
	return nil
}

// CheckConsistency verifies that every table file's father-reference map
// matches the graph exactly, and that every table the graph references is
// present. A mismatch means an index file and a table file disagree about
// live references, which would make garbage collection unsafe.
func (g *RefGraph) CheckConsistency(tableFiles []*FileMetadata) error {
	present := make(map[base.FileNum]bool, len(tableFiles))
	for _, t := range tableFiles {
		tableNum := t.FD.FileNum()
		present[tableNum] = true
		want := g.byTable[tableNum]
		got := t.FD.FatherNumberToReferenceKey
		if len(got) != len(want) {
			return base.CorruptionErrorf(
				"table file %s has %d father references, index files hold %d",
				tableNum, len(got), len(want))
		}
		for indexNum, count := range want {
			if got[indexNum] != count {
				return base.CorruptionErrorf(
					"table file %s records %d references from index file %s, index file holds %d",
					tableNum, got[indexNum], indexNum, count)
			}
		}
	}
	for tableNum := range g.byTable {
		if !present[tableNum] {
			return base.CorruptionErrorf("index files reference missing table file %s", tableNum)
		}
	}
	return nil
}

// GarbageTables returns the table files whose derived reference totals are
// zero, in file number order. These files hold no live keys and may be
// deleted once no iterator pins them.
func (g *RefGraph) GarbageTables(tableFiles []*FileMetadata) []*FileMetadata {
	var garbage []*FileMetadata
	for _, t := range tableFiles {
		if g.TableRefTotal(t.FD.FileNum()) == 0 {
			garbage = append(garbage, t)
		}
	}
	sort.Slice(garbage, func(i, j int) bool {
		return garbage[i].FD.FileNum() < garbage[j].FD.FileNum()
	})
	return garbage
}
