//go:build !sqlite

package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStoreSQLiteUnavailableWithoutTag(t *testing.T) {
	_, err := NewStore(KindSQLite, "rlfit.db")
	require.ErrorIs(t, err, ErrSQLiteUnavailable)
}
