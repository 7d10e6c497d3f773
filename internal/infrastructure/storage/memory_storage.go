package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
)

var _ apptreasury.AttachmentStorage = (*MemoryAttachmentStorage)(nil)

// StoredObject is an attachment held by MemoryAttachmentStorage
type StoredObject struct {
	Data        []byte
	ContentType string
}

// MemoryAttachmentStorage keeps attachments in process memory.
// Used for development and tests; contents are lost on restart.
type MemoryAttachmentStorage struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
}

// NewMemoryAttachmentStorage creates an empty store
func NewMemoryAttachmentStorage() *MemoryAttachmentStorage {
	return &MemoryAttachmentStorage{objects: make(map[string]StoredObject)}
}

// Upload reads body fully and stores it under key
func (m *MemoryAttachmentStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return fmt.Errorf("failed to read attachment: %w", err)
	}
	if size >= 0 && int64(buf.Len()) != size {
		return fmt.Errorf("attachment size mismatch: declared %d, read %d", size, buf.Len())
	}

	m.mu.Lock()
	m.objects[key] = StoredObject{Data: buf.Bytes(), ContentType: contentType}
	m.mu.Unlock()
	return nil
}

// Delete removes key; missing keys are ignored
func (m *MemoryAttachmentStorage) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Get returns the stored object
func (m *MemoryAttachmentStorage) Get(key string) (StoredObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len returns the number of stored objects
func (m *MemoryAttachmentStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
