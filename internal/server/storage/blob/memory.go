package blob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for tests and local runs without S3.
// Presigned URLs point at memory:// and cannot be fetched; parts are
// attached with PutPart instead.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	objects  map[string][]byte

	// Completed records the part order of every CompleteMultipartUpload call.
	Completed [][]Part
}

type memorySession struct {
	key   string
	parts map[int32][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		objects:  make(map[string][]byte),
	}
}

func (m *MemoryStore) Ready() error { return nil }

func (m *MemoryStore) CreateMultipartUpload(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.sessions[id] = &memorySession{key: key, parts: make(map[int32][]byte)}
	return id, nil
}

func (m *MemoryStore) PresignUploadPart(_ context.Context, key, uploadID string, partNumber int32, expires time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[uploadID]; !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}
	return fmt.Sprintf("memory://%s?uploadId=%s&partNumber=%d&expires=%d", key, uploadID, partNumber, int(expires.Seconds())), nil
}

// PutPart stores a part body and returns its ETag.
func (m *MemoryStore) PutPart(uploadID string, partNumber int32, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}
	sess.parts[partNumber] = append([]byte(nil), body...)
	return fmt.Sprintf("etag%d", partNumber), nil
}

func (m *MemoryStore) CompleteMultipartUpload(_ context.Context, _, uploadID string, parts []Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[uploadID]
	if !ok {
		return fmt.Errorf("no such upload: %s", uploadID)
	}
	m.Completed = append(m.Completed, append([]Part(nil), parts...))

	if !sort.SliceIsSorted(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number }) {
		return fmt.Errorf("parts must be in ascending order")
	}

	var b strings.Builder
	for _, p := range parts {
		b.Write(sess.parts[p.Number])
	}
	m.objects[sess.key] = []byte(b.String())
	delete(m.sessions, uploadID)
	return nil
}

func (m *MemoryStore) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[uploadID]; !ok {
		return fmt.Errorf("no such upload: %s", uploadID)
	}
	delete(m.sessions, uploadID)
	return nil
}

func (m *MemoryStore) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such key: %s", key)
	}
	return append([]byte(nil), data...), nil
}

// Put stores a whole object directly.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}
