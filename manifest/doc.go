// Copyright 2024 The Strata Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package manifest provides the version-control layer of the storage engine:
// the metadata describing which on-disk files constitute the current state of
// a column family, and the VersionEdit machinery that records changes to that
// state as durable, forward-compatible MANIFEST records.
//
// The engine organizes a level into two tiers: index files (ordered key-range
// directories) reference table files (holding the key/value payload). The two
// tiers are cross-linked by reference-count maps carried on FileDescriptor: an
// index file records, per referenced table file, how many live keys it still
// points at; a table file mirrors those counts per referencing index file. A
// table file becomes reclaimable only once every index file referencing it has
// been superseded or its reference count has dropped to zero.
//
// A VersionEdit is accumulated in memory via its mutation methods and
// serialized as a stream of tag-prefixed fields. Tags below 1<<13 must be
// understood by every reader; tags carrying the 1<<13 bit are safe to ignore,
// letting older engines skip fields introduced by newer writers. Within a
// new-file record, a custom sub-tag stream carries optional per-file fields,
// terminated by an explicit terminator tag; a sub-tag carrying the 1<<6 bit is
// a hard failure when unrecognized.
//
// The external version-application component folds decoded edits, in strict
// log order, into immutable Version snapshots. Edits tagged as part of an
// atomic group must be buffered (see AtomicGroupReadBuffer) and applied all or
// none.
package manifest
