package gitstore

import (
	"os"
	"sync"

	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
)

// MemoryMarkers is a MarkerStore held in memory, for backends without a
// file-based git directory.
type MemoryMarkers struct {
	mu      sync.Mutex
	markers map[string][]byte
}

// NewMemoryMarkers returns an empty in-memory marker store.
func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string][]byte)}
}

// ReadMarker returns the marker content.
func (m *MemoryMarkers) ReadMarker(name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.markers[name]
	return data, ok, nil
}

// WriteMarker writes the marker.
func (m *MemoryMarkers) WriteMarker(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.markers[name] = append([]byte(nil), data...)
	return nil
}

// RemoveMarker removes the marker.
func (m *MemoryMarkers) RemoveMarker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.markers, name)
	return nil
}

// HasMarker reports whether the marker exists.
func (m *MemoryMarkers) HasMarker(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.markers[name]
	return ok
}

// DotGitMarkers is a MarkerStore over the files of a git directory.
type DotGitMarkers struct {
	dir *dotgit.DotGit
}

// NewDotGitMarkers returns a marker store over the given git directory.
func NewDotGitMarkers(dir *dotgit.DotGit) *DotGitMarkers {
	return &DotGitMarkers{dir: dir}
}

// ReadMarker returns the marker file content.
func (m *DotGitMarkers) ReadMarker(name string) ([]byte, bool, error) {
	data, err := m.dir.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	return data, true, nil
}

// WriteMarker writes the marker file.
func (m *DotGitMarkers) WriteMarker(name string, data []byte) error {
	return m.dir.WriteFile(name, data)
}

// RemoveMarker removes the marker file.
func (m *DotGitMarkers) RemoveMarker(name string) error {
	return m.dir.RemoveFile(name)
}

// HasMarker reports whether the marker file exists.
func (m *DotGitMarkers) HasMarker(name string) bool {
	return m.dir.FileExists(name)
}
