//go:build unix

package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

func TestFileStoreSaveWhileLocked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cp.json")
	store, err := NewFileStore(path, nil)
	require.NoError(t, err)

	unlock, err := lockFile(path + ".lock")
	require.NoError(t, err)

	err = store.Save(context.Background(), sampleState())
	require.ErrorIs(t, err, crawler.ErrCheckpoint)
	require.ErrorIs(t, err, ErrLocked)

	unlock()
	require.NoError(t, store.Save(context.Background(), sampleState()))
}
