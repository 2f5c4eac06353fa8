package recompress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jpegsweep/internal/database"
	"jpegsweep/internal/fsops"
	"jpegsweep/internal/logging"
	"jpegsweep/internal/safety"
	"jpegsweep/internal/scan"
	"jpegsweep/internal/tools"
	"jpegsweep/internal/tools/tooltest"
)

type fixture struct {
	dir       string
	processor *Processor
	deleter   *fsops.FakeDeleter
}

func newFixture(t *testing.T, dryRun bool, db *database.HistoryDB) *fixture {
	t.Helper()

	jt, err := tools.NewJpegtran(tooltest.FakeJpegtran(t))
	require.NoError(t, err)
	id, err := tools.NewImageMagick(tooltest.FakeIdentify(t))
	require.NoError(t, err)

	dir := t.TempDir()
	p := NewProcessor(logging.NewNop(), jt, id, dryRun, db)
	p.SetValidator(safety.NewValidator([]string{dir}, nil))

	return &fixture{dir: dir, processor: p}
}

// useFakeDeleter swaps in a recording deleter that never touches disk
func (f *fixture) useFakeDeleter(err error) {
	f.deleter = &fsops.FakeDeleter{Err: err}
	f.processor.SetDeleter(f.deleter)
}

func (f *fixture) write(t *testing.T, name string, data []byte) scan.Candidate {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o640))
	return scan.Candidate{Path: path, Size: int64(len(data))}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNormalizeJPEGRewritesInPlace(t *testing.T) {
	f := newFixture(t, false, nil)
	cand := f.write(t, "photo.jpg", tooltest.JPEGBytes("pixels"))

	res := f.processor.NormalizeJPEG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.Equal(t, database.ActionRecompress, res.Action)
	assert.True(t, strings.HasSuffix(readFile(t, cand.Path), tooltest.Transformed))

	info, err := os.Stat(cand.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestNormalizeJPEGFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, false, nil)
	original := tooltest.JPEGBytes(tooltest.BrokenMarker)
	cand := f.write(t, "damaged.jpg", original)

	res := f.processor.NormalizeJPEG(context.Background(), cand)

	require.Error(t, res.Err)
	assert.Equal(t, database.ActionError, res.Action)
	assert.Equal(t, string(original), readFile(t, cand.Path))

	var toolErr *tools.ToolError
	require.True(t, errors.As(res.Err, &toolErr))
	assert.Equal(t, 1, toolErr.ExitCode)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "partial output must be removed")
}

func TestNormalizeJPEGReadOnlyDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	f := newFixture(t, false, nil)
	data := tooltest.JPEGBytes("pixels")
	cand := f.write(t, "photo.jpg", data)

	require.NoError(t, os.Chmod(f.dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(f.dir, 0o755) })

	res := f.processor.NormalizeJPEG(context.Background(), cand)

	require.Error(t, res.Err)
	assert.Equal(t, database.ActionError, res.Action)
	assert.Equal(t, string(data), readFile(t, cand.Path))
}

func TestConvertPNGMislabeledJPEG(t *testing.T) {
	f := newFixture(t, false, nil)
	cand := f.write(t, "fake.png", tooltest.JPEGBytes("pixels"))

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.Equal(t, database.ActionConvert, res.Action)
	assert.Equal(t, tools.FormatJPEG, res.Format)
	assert.Equal(t, cand.Path+".jpg", res.OutputPath)
	assert.True(t, res.Deleted)

	assert.NoFileExists(t, cand.Path)
	assert.True(t, strings.HasSuffix(readFile(t, res.OutputPath), tooltest.Transformed))
}

func TestConvertPNGRealPNGUntouched(t *testing.T) {
	f := newFixture(t, false, nil)
	f.useFakeDeleter(nil)
	data := tooltest.PNGBytes("pixels")
	cand := f.write(t, "real.png", data)

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.Equal(t, database.ActionSkip, res.Action)
	assert.Equal(t, "format PNG", res.Reason)
	assert.Equal(t, string(data), readFile(t, cand.Path))
	assert.NoFileExists(t, cand.Path+".jpg")
	assert.Empty(t, f.deleter.Calls)
}

func TestConvertPNGTransformFailure(t *testing.T) {
	f := newFixture(t, false, nil)
	f.useFakeDeleter(nil)
	data := tooltest.JPEGBytes(tooltest.BrokenMarker)
	cand := f.write(t, "broken.png", data)

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.Error(t, res.Err)
	assert.Equal(t, database.ActionError, res.Action)
	assert.False(t, res.Deleted)
	assert.Equal(t, string(data), readFile(t, cand.Path))
	assert.NoFileExists(t, cand.Path+".jpg")
	assert.Empty(t, f.deleter.Calls, "original must survive a failed conversion")
}

func TestConvertPNGDeleteFailure(t *testing.T) {
	f := newFixture(t, false, nil)
	f.useFakeDeleter(errors.New("device busy"))
	cand := f.write(t, "fake.png", tooltest.JPEGBytes("pixels"))

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "device busy")
	assert.Equal(t, database.ActionConvert, res.Action)
	assert.False(t, res.Deleted)
	assert.Equal(t, []string{"rm:" + cand.Path}, f.deleter.Calls)
	assert.FileExists(t, res.OutputPath)
}

func TestConvertPNGOverwritesExistingOutput(t *testing.T) {
	f := newFixture(t, false, nil)
	cand := f.write(t, "fake.png", tooltest.JPEGBytes("new"))
	f.write(t, "fake.png.jpg", []byte("stale"))

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.NotContains(t, readFile(t, res.OutputPath), "stale")
}

func TestConvertPNGBlockedOutsideAllowedRoot(t *testing.T) {
	f := newFixture(t, false, nil)
	f.useFakeDeleter(nil)
	f.processor.SetValidator(safety.NewValidator([]string{t.TempDir()}, nil))
	data := tooltest.JPEGBytes("pixels")
	cand := f.write(t, "fake.png", data)

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.NoError(t, res.Err)
	require.Error(t, res.Blocked)
	assert.True(t, errors.Is(res.Blocked, safety.ErrOutsideAllowed))
	assert.Equal(t, database.ActionSkip, res.Action)
	assert.Equal(t, string(data), readFile(t, cand.Path))
	assert.NoFileExists(t, cand.Path+".jpg")
	assert.Empty(t, f.deleter.Calls)
}

func TestMetadataLossDetected(t *testing.T) {
	f := newFixture(t, false, nil)
	cand := f.write(t, "fake.png", tooltest.JPEGBytes("pixels"))

	f.processor.SetVerifyMetadata(true)
	f.processor.hasExif = func(path string) bool { return path == cand.Path }

	res := f.processor.ConvertPNG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.True(t, res.MetadataLost)
	assert.Equal(t, "exif lost", res.Reason)
}

func TestMetadataCheckOffByDefault(t *testing.T) {
	f := newFixture(t, false, nil)
	cand := f.write(t, "photo.jpg", tooltest.JPEGBytes("pixels"))

	called := false
	f.processor.hasExif = func(string) bool {
		called = true
		return false
	}

	res := f.processor.NormalizeJPEG(context.Background(), cand)

	require.NoError(t, res.Err)
	assert.False(t, called)
	assert.False(t, res.MetadataLost)
}

func TestRunMixedDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := database.NewHistoryDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	f := newFixture(t, false, db)
	photo := f.write(t, "photo.jpg", tooltest.JPEGBytes("a"))
	fake := f.write(t, "fake.png", tooltest.JPEGBytes("b"))
	realPNG := f.write(t, "real.png", tooltest.PNGBytes("c"))
	broken := f.write(t, "broken.png", tooltest.JPEGBytes(tooltest.BrokenMarker))
	f.write(t, "notes.txt", []byte("hello"))

	summary, err := f.processor.Run(context.Background(),
		[]scan.Candidate{photo},
		[]scan.Candidate{fake, realPNG, broken},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Recompressed)
	assert.Equal(t, 1, summary.Converted)
	assert.Equal(t, 1, summary.Deleted)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)

	assert.FileExists(t, fake.Path+".jpg")
	assert.NoFileExists(t, fake.Path)
	assert.FileExists(t, realPNG.Path)
	assert.FileExists(t, broken.Path)
	assert.NoFileExists(t, broken.Path+".jpg")
	assert.Equal(t, "hello", readFile(t, filepath.Join(f.dir, "notes.txt")))

	stats, err := db.GetActionStats(1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recompressed)
	assert.Equal(t, 1, stats.Converted)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Errors)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	f := newFixture(t, false, nil)
	data := tooltest.JPEGBytes("a")
	photo := f.write(t, "photo.jpg", data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.processor.Run(ctx, []scan.Candidate{photo}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Recompressed)
	assert.Equal(t, string(data), readFile(t, photo.Path))
}
