package mapping

import "errors"

var (
	// ErrAlignmentFailed wraps any failure to load or align one document's chunks.
	ErrAlignmentFailed = errors.New("alignment failed")

	// ErrArtifactStoreRequired is returned when an artifact store is not provided.
	ErrArtifactStoreRequired = errors.New("artifact store required")

	// ErrMappingRepositoryRequired is returned when a mapping repository is not provided.
	ErrMappingRepositoryRequired = errors.New("mapping repository required")

	// ErrInvalidConfig is returned for non-positive batch, concurrency, or insert sizes.
	ErrInvalidConfig = errors.New("invalid mapping configuration")

	// ErrInvalidJob is returned when a job is missing a prefix, version, or table.
	ErrInvalidJob = errors.New("invalid mapping job")
)
