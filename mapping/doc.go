// Package mapping computes and persists child-to-parent chunk mappings for many
// documents.
//
// The Driver walks the pending documents in sequential batches. Within a batch
// a bounded ants pool aligns up to Config.Concurrency documents at once; each
// task loads the document's child and parent artifacts, runs align.Align and
// returns its rows. A failing task is logged and skipped without affecting its
// siblings. Between batches the driver drops per-document data, forces a
// collection and logs memory telemetry.
//
// Once every batch is aligned the rows are written in sub-batches of at most
// Config.InsertBatchSize rows, each tagged with the parent version. A
// sub-batch never splits a document, so a document is either fully mapped or
// absent from the mapping table.
package mapping
