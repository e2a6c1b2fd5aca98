package conversion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/helixir/literature-console/internal/domain"
)

// Content types of materialized artifacts.
const (
	ContentTypeRIS  = "application/x-research-info-systems"
	ContentTypeJSON = "application/json"
)

// RISFilename is the fixed download name of a RIS export.
const RISFilename = "publication.ris"

// Artifact is a document offered to the user for download.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// ArtifactSink offers artifacts for download.
type ArtifactSink interface {
	Materialize(a Artifact) error
}

// MemoryStore keeps artifacts until they are taken. Taking an artifact
// releases it, so each materialization is downloaded at most once.
type MemoryStore struct {
	mu        sync.Mutex
	artifacts map[string]Artifact
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

// Materialize stores a, replacing any artifact of the same name.
func (s *MemoryStore) Materialize(a Artifact) error {
	if a.Name == "" {
		return domain.NewValidationError("name", "artifact name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.Name] = a
	return nil
}

// Take returns and releases the artifact called name.
func (s *MemoryStore) Take(name string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[name]
	if !ok {
		return Artifact{}, domain.ErrArtifactNotFound
	}
	delete(s.artifacts, name)
	return a, nil
}

// Names lists the artifacts waiting to be taken, sorted.
func (s *MemoryStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DirSink writes artifacts into a directory, for terminal use.
type DirSink struct {
	dir string
}

// NewDirSink creates a sink writing into dir, creating it when missing.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Materialize writes a to the directory. Only the base name of a.Name is
// used.
func (d *DirSink) Materialize(a Artifact) error {
	name := filepath.Base(a.Name)
	if name == "." || name == string(filepath.Separator) {
		return domain.NewValidationError("name", "artifact name is required")
	}
	if err := os.WriteFile(filepath.Join(d.dir, name), a.Data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// Path returns where an artifact called name is written.
func (d *DirSink) Path(name string) string {
	return filepath.Join(d.dir, filepath.Base(name))
}

// Tee materializes each artifact into every sink. All sinks are attempted;
// their errors are joined.
type Tee []ArtifactSink

// Materialize implements ArtifactSink.
func (t Tee) Materialize(a Artifact) error {
	var errs []error
	for _, s := range t {
		if err := s.Materialize(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
