// Package badger implements the local chunk artifact cache on BadgerDB.
//
// The chunking stage writes every artifact here before uploading it, so a
// mapping run on the same machine reads artifacts from disk instead of the
// remote bucket.
package badger
