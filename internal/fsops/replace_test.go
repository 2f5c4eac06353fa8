package fsops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempSiblingAndReplace(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o640))

	tmp, err := TempSibling(dst)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(tmp))
	assert.False(t, strings.Contains(filepath.Base(tmp), ".jpg"))

	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o600))
	require.NoError(t, Replace(tmp, dst, 0o640))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceFailureRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	tmp, err := TempSibling(filepath.Join(dir, "x.jpg"))
	require.NoError(t, err)

	err = Replace(tmp, filepath.Join(dir, "missing", "x.jpg"), 0o644)
	assert.Error(t, err)

	_, statErr := os.Stat(tmp)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTempSiblingMissingDir(t *testing.T) {
	_, err := TempSibling(filepath.Join(t.TempDir(), "missing", "x.jpg"))
	assert.Error(t, err)
}

func TestFakeDeleterRecords(t *testing.T) {
	fake := &FakeDeleter{}
	require.NoError(t, fake.Remove("/p/a.png"))
	assert.Equal(t, []string{"rm:/p/a.png"}, fake.Calls)
}
