// Package lds is a local-first, content-addressable store for linked data.
//
// Everything the store holds is a _record_:
// either a resource
// (an opaque blob plus a media type,
// such as a PDF or an image)
// or a linked-data record
// (a small self-describing JSON document,
// such as an article, a bookmark, an annotation, or a task).
// Records are immutable and are stored under the hash of their own content,
// which is used as a unique key.
// That key is called the record's _hash_.
//
// A hash has two textual forms.
// The name form,
// sha256_<hex>,
// is the key used inside local stores.
// The uri form,
// hash:sha256;<hex>,
// is how one record refers to another
// (an annotation to the document it annotates, for instance).
// A linked-data record's "@id" field,
// once stored,
// is the uri form of its own hash.
//
// Because the key is computed from the content,
// writing the same record twice is harmless:
// the second write is a no-op.
// That makes it safe to ingest records from anywhere,
// in any order,
// any number of times.
//
// Around this core:
//
//   - package store is a transactional key/value substrate with several backends;
//   - package blob stores records in it by hash;
//   - package index maintains read-optimized projections of the records,
//     updated in lockstep with every write and rebuildable from scratch;
//   - package repo ties those together into a versioned, migratable repository,
//     one per account;
//   - package remote describes the off-device drive that records sync to;
//   - package syncer uploads pending records and downloads new ones;
//   - package conn is the state machine for the remote drive's session.
package lds
