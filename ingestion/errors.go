package ingestion

import "errors"

var (
	// ErrTextRepositoryRequired is returned when a text repository is not provided.
	ErrTextRepositoryRequired = errors.New("text repository required")

	// ErrRelationalStoreRequired is returned when a relational store is not provided.
	ErrRelationalStoreRequired = errors.New("relational store required")

	// ErrArtifactStoreRequired is returned when an artifact store is not provided.
	ErrArtifactStoreRequired = errors.New("artifact store required")

	// ErrConfigRequired is returned when a configuration is not provided.
	ErrConfigRequired = errors.New("configuration required")

	// ErrUnknownStage is returned for a stage name other than child, parent, or mapping.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrArtifactWrite is returned when a document's artifact could not be stored.
	// The document's rows have been removed again so it stays pending.
	ErrArtifactWrite = errors.New("artifact write failed")
)
