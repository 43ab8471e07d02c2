package db

import (
	"context"
	"encoding/json"
	"errors"
)

// Sentinel errors returned by document backends. Stores translate the
// backend's transport-level failures into these so callers can branch on
// protocol outcomes without knowing the driver.
var (
	// ErrNotFound reports that no document exists under the requested ID.
	ErrNotFound = errors.New("document not found")

	// ErrConflict reports that a conditional write lost against a newer
	// revision. The caller saw a stale revision; it must re-read before
	// retrying.
	ErrConflict = errors.New("document revision conflict")
)

// DocumentBackend abstracts the CouchDB operations the stores rely on.
// The narrow surface keeps the claim protocol testable: the mock backend in
// this package reproduces CouchDB's MVCC conflict behavior in memory.
//
// Contract:
//   - Get returns the raw document body including its _rev field, or
//     ErrNotFound.
//   - Put performs a conditional replace: it fails with ErrConflict when the
//     _rev inside doc is not the document's current revision (or when a
//     document already exists and doc carries no revision).
//   - Find runs a Mango selector and returns the matching raw documents.
//   - Delete removes a document at an exact revision, ErrConflict on
//     mismatch.
type DocumentBackend interface {
	Get(ctx context.Context, id string) (json.RawMessage, error)
	Put(ctx context.Context, id string, doc interface{}) (string, error)
	Find(ctx context.Context, selector interface{}) ([]json.RawMessage, error)
	Delete(ctx context.Context, id, rev string) error
	Ping(ctx context.Context) error
	Close() error
}
