package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateLockFile(t *testing.T) {
	dir := t.TempDir()

	release, err := CreateLockFile(dir)
	require.NoError(t, err)

	_, err = CreateLockFile(dir)
	require.Error(t, err)

	release()
	release2, err := CreateLockFile(dir)
	require.NoError(t, err)
	release2()
}

func TestDefaultSQLitePath(t *testing.T) {
	require.Equal(t, filepath.Join("data", "hts.db"), DefaultSQLitePath("data"))
}
