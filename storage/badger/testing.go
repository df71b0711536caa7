package badger

// NewMemoryArtifactRepository creates an in-memory artifact repository for testing.
// Caller must close the backend when done.
func NewMemoryArtifactRepository() (*ArtifactRepository, *Backend, error) {
	backend, err := OpenBackend("", true, nil)
	if err != nil {
		return nil, nil, err
	}
	return NewArtifactRepository(backend), backend, nil
}
