package archivist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryVersion is one historical snapshot of a path.
type memoryVersion struct {
	versionID string
	content   string
	timestamp time.Time
}

// MemoryObjectStore is an in-process ObjectStore fake, used by tests and
// by any deployment that doesn't need durability across restarts. It
// satisfies the same interface as the S3 adapter, in the teacher's
// spirit of hand-rolled test fakes (see classify_llm_test.go's fake
// HTTP transport).
type MemoryObjectStore struct {
	mu       sync.RWMutex
	versions map[string][]memoryVersion // newest last
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{versions: make(map[string][]memoryVersion)}
}

func (m *MemoryObjectStore) Read(ctx context.Context, path string) (*MemoryFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs, ok := m.versions[path]
	if !ok || len(vs) == 0 {
		return nil, ErrNotFound
	}
	latest := vs[len(vs)-1]
	return &MemoryFile{
		Path:      path,
		Content:   latest.content,
		UpdatedAt: latest.timestamp,
		Size:      len(latest.content),
		VersionID: latest.versionID,
	}, nil
}

func (m *MemoryObjectStore) Write(ctx context.Context, path string, content string) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := memoryVersion{versionID: uuid.NewString(), content: content, timestamp: time.Now()}
	m.versions[path] = append(m.versions[path], v)
	return WriteResult{VersionID: v.versionID}, nil
}

func (m *MemoryObjectStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, path)
	return nil
}

func (m *MemoryObjectStore) List(ctx context.Context, prefix string, recursive bool) ([]ObjectEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []ObjectEntry
	seenDirs := make(map[string]bool)

	for path, vs := range m.versions {
		if len(vs) == 0 || !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := path[len(prefix):]
		if !recursive {
			if idx := strings.Index(rest, "/"); idx >= 0 {
				dir := prefix + rest[:idx+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					entries = append(entries, ObjectEntry{Path: dir})
				}
				continue
			}
		}
		latest := vs[len(vs)-1]
		entries = append(entries, ObjectEntry{Path: path, Size: len(latest.content), UpdatedAt: latest.timestamp})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (m *MemoryObjectStore) GetVersions(ctx context.Context, path string, limit int) ([]ObjectVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vs, ok := m.versions[path]
	if !ok {
		return []ObjectVersion{}, nil
	}
	out := make([]ObjectVersion, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, ObjectVersion{VersionID: vs[i].versionID, Timestamp: vs[i].timestamp, Size: len(vs[i].content)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryObjectStore) GetVersion(ctx context.Context, path string, versionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions[path] {
		if v.versionID == versionID {
			return v.content, nil
		}
	}
	return "", fmt.Errorf("archivist: version %s: %w", versionID, ErrNotFound)
}

func (m *MemoryObjectStore) Ping(ctx context.Context) error { return nil }
