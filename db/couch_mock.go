package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockBackend is an in-memory DocumentBackend that reproduces CouchDB's MVCC
// behavior: every write bumps a revision counter and a Put carrying a stale
// or missing _rev against an existing document fails with ErrConflict. It
// backs the claim protocol tests, including genuinely concurrent ones.
type MockBackend struct {
	mu   sync.Mutex
	seq  int
	docs map[string]json.RawMessage
	revs map[string]string

	// PutHook, when set, runs inside the lock before each Put is applied.
	// Tests use it to interleave writes and force conflicts.
	PutHook func(id string)

	// Errors to force from operations.
	GetErr  error
	PutErr  error
	FindErr error
	PingErr error

	// Track calls.
	PutCalls int
	GetCalls int
}

// NewMockBackend creates an empty in-memory backend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		docs: make(map[string]json.RawMessage),
		revs: make(map[string]string),
	}
}

// Get returns the stored raw document.
func (m *MockBackend) Get(ctx context.Context, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Put applies a conditional replace with CouchDB revision semantics.
func (m *MockBackend) Put(ctx context.Context, id string, doc interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PutCalls++
	if m.PutErr != nil {
		return "", m.PutErr
	}
	if m.PutHook != nil {
		m.PutHook(id)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	var meta struct {
		Rev string `json:"_rev"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("failed to read document revision: %w", err)
	}

	if current, exists := m.revs[id]; exists && meta.Rev != current {
		return "", ErrConflict
	}

	m.seq++
	rev := fmt.Sprintf("%d-mock", m.seq)
	m.revs[id] = rev

	var full map[string]interface{}
	if err := json.Unmarshal(body, &full); err != nil {
		return "", fmt.Errorf("failed to decode document: %w", err)
	}
	full["_rev"] = rev

	stored, err := json.Marshal(full)
	if err != nil {
		return "", fmt.Errorf("failed to store document: %w", err)
	}
	m.docs[id] = stored

	return rev, nil
}

// Find matches documents whose top-level fields equal every selector field.
// That is enough to mirror the equality-only Mango selectors the stores use.
func (m *MockBackend) Find(ctx context.Context, selector interface{}) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindErr != nil {
		return nil, m.FindErr
	}

	want, err := toFieldMap(selector)
	if err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	for _, raw := range m.docs {
		fields, err := toFieldMap(raw)
		if err != nil {
			return nil, err
		}

		matches := true
		for k, v := range want {
			if fmt.Sprint(fields[k]) != fmt.Sprint(v) {
				matches = false
				break
			}
		}
		if matches {
			docs = append(docs, raw)
		}
	}

	return docs, nil
}

// Delete removes the document when rev is current.
func (m *MockBackend) Delete(ctx context.Context, id, rev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.revs[id]
	if !ok {
		return ErrNotFound
	}
	if rev != current {
		return ErrConflict
	}

	delete(m.docs, id)
	delete(m.revs, id)
	return nil
}

// Ping reports the configured ping error.
func (m *MockBackend) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for the in-memory backend.
func (m *MockBackend) Close() error {
	return nil
}

// Rev returns the current revision of a document, for test assertions.
func (m *MockBackend) Rev(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revs[id]
}

func toFieldMap(v interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal selector: %w", err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode selector: %w", err)
	}
	return fields, nil
}
