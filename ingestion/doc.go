// Package ingestion runs the chunking pipeline.
//
// The pipeline has three stages, each resumable on its own:
//
//   - child: split pending documents with the fine splitter and store the chunks
//   - parent: split pending documents with the coarse splitter and store the chunks
//   - mapping: align child chunks onto parent chunks and store the mappings
//
// A document is pending for a stage when it has raw text but no rows in the
// stage's table. The pending set is recomputed from the relational store at
// the start of every stage, so an interrupted run is resumed simply by running
// the pipeline again. There is no separate job queue.
//
// Chunking stages process one document at a time. A document whose text
// cannot be read, split, or stored is logged and left pending; it never stops
// the stage. Only setup errors, such as an unknown parent version or an
// unreachable store, abort a run.
package ingestion
