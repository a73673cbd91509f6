package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w, err := s.Create(ctx, "outputs/job-1.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, "translated")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.Open(ctx, "outputs/job-1.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "translated", string(data))

	require.NoError(t, s.Delete(ctx, "outputs/job-1.txt"))
	assert.ErrorIs(t, s.Delete(ctx, "outputs/job-1.txt"), ErrNotFound)
	_, err = s.Open(ctx, "outputs/job-1.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, ref := range []string{"../secret", "a/../../b", "", "/etc/passwd"} {
		_, err := s.Path(ref)
		assert.ErrorIs(t, err, ErrInvalidRef, ref)
	}
}

func TestLocalStoreAbsoluteInsideRoot(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	abs := filepath.Join(root, "doc.md")
	require.NoError(t, os.WriteFile(abs, []byte("# hi"), 0o644))

	r, err := s.Open(context.Background(), abs)
	require.NoError(t, err)
	_ = r.Close()
}

func TestNew(t *testing.T) {
	store, closer, err := New(context.Background(), Config{Driver: "local", Root: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
	assert.NoError(t, closer())

	_, _, err = New(context.Background(), Config{Driver: "s3"})
	assert.Error(t, err)

	_, _, err = New(context.Background(), Config{Driver: "gcs"})
	assert.Error(t, err)
}

func TestOutputRef(t *testing.T) {
	assert.Equal(t, "outputs/abc.epub", OutputRef("abc", ".epub"))
}
