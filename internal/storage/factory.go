package storage

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

var ErrUnsupportedStore = errors.New("unsupported store backend")

// NormalizeStoreKind lower-cases kind and maps the empty string to the
// build's default backend.
func NormalizeStoreKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return DefaultStoreKind()
	}
	return kind
}

func CheckStoreKind(kind string) error {
	switch NormalizeStoreKind(kind) {
	case KindMemory, KindSQLite:
		return nil
	default:
		return fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnsupportedStore, kind, KindMemory, KindSQLite)
	}
}

// NewStore opens the backend named by kind. sqlitePath is only read by the
// sqlite backend.
func NewStore(kind, sqlitePath string) (Store, error) {
	if err := CheckStoreKind(kind); err != nil {
		return nil, err
	}
	if NormalizeStoreKind(kind) == KindMemory {
		return NewMemoryStore(), nil
	}
	if strings.TrimSpace(sqlitePath) == "" {
		return nil, errors.New("sqlite store requires a database path")
	}
	return newSQLiteStore(sqlitePath)
}

// CloseIfSupported releases stores that hold resources; the memory store
// has none.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
