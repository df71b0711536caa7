package badger

// Key prefixes for different data types
const (
	artifactPrefix = "artifact:"
)

// makeArtifactKey generates the cache key of an artifact.
func makeArtifactKey(key string) []byte {
	return []byte(artifactPrefix + key)
}

// artifactKeyFrom strips the cache prefix from a stored key.
func artifactKeyFrom(stored []byte) string {
	return string(stored[len(artifactPrefix):])
}
