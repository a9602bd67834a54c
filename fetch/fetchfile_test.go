package fetch

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedError struct {
	uri     string
	summary string
	body    string
}

type recordedComplete struct {
	sourceURI string
	paths     []string
	metadata  map[string]string
}

// recordingHandler captures reporter events for assertions.
type recordingHandler struct {
	errors    []recordedError
	completes []recordedComplete
}

func (h *recordingHandler) FileError(uri, summary, body string) {
	h.errors = append(h.errors, recordedError{uri, summary, body})
}

func (h *recordingHandler) FileComplete(sourceURI, path string, metadata map[string]string) error {
	h.completes = append(h.completes, recordedComplete{sourceURI, []string{path}, metadata})
	return nil
}

func (h *recordingHandler) FilesComplete(sourceURI string, paths []string, metadata map[string]string) error {
	h.completes = append(h.completes, recordedComplete{sourceURI, paths, metadata})
	return nil
}

func writeFetchFn(content string) FetchFn {
	return func(path string) (bool, error) {
		return true, ioutil.WriteFile(path, []byte(content), 0644)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(dir, ".fetch-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetchFileSuccess(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingHandler{}

	err := FetchFile("http://example.com/anc.txt", writeFetchFn("contents"), reporter, "anc.txt", dir, nil, false)
	require.NoError(t, err)

	target := filepath.Join(dir, "anc.txt")
	data, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	require.Len(t, reporter.completes, 1)
	assert.Equal(t, "http://example.com/anc.txt", reporter.completes[0].sourceURI)
	assert.Equal(t, []string{target}, reporter.completes[0].paths)
	assert.Empty(t, reporter.errors)
	assertNoTempFiles(t, dir)
}

func TestFetchFileEmptyIsRejected(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingHandler{}

	err := FetchFile("http://example.com/anc.txt", writeFetchFn(""), reporter, "anc.txt", dir, nil, false)
	require.NoError(t, err)

	require.Len(t, reporter.errors, 1)
	assert.Equal(t, "Empty file", reporter.errors[0].summary)
	assert.Equal(t, "http://example.com/anc.txt", reporter.errors[0].uri)
	assert.Empty(t, reporter.completes)

	_, statErr := os.Stat(filepath.Join(dir, "anc.txt"))
	assert.True(t, os.IsNotExist(statErr))
	assertNoTempFiles(t, dir)
}

func TestFetchFileMissingIsReported(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingHandler{}

	// A fetch that claims success but creates nothing.
	fetchFn := func(path string) (bool, error) { return true, nil }

	err := FetchFile("http://example.com/anc.txt", fetchFn, reporter, "anc.txt", dir, nil, false)
	require.NoError(t, err)

	require.Len(t, reporter.errors, 1)
	assert.Equal(t, "No file", reporter.errors[0].summary)
	assert.Empty(t, reporter.completes)
}

func TestFetchFileSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "anc.txt")
	require.NoError(t, ioutil.WriteFile(target, []byte("old"), 0644))
	reporter := &recordingHandler{}

	fetched := false
	fetchFn := func(path string) (bool, error) {
		fetched = true
		return true, ioutil.WriteFile(path, []byte("new"), 0644)
	}

	err := FetchFile("http://example.com/anc.txt", fetchFn, reporter, "anc.txt", dir, nil, false)
	require.NoError(t, err)
	assert.False(t, fetched)

	data, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Empty(t, reporter.completes)
}

func TestFetchFileOverridesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "anc.txt")
	require.NoError(t, ioutil.WriteFile(target, []byte("old"), 0644))
	reporter := &recordingHandler{}

	err := FetchFile("http://example.com/anc.txt", writeFetchFn("new"), reporter, "anc.txt", dir, nil, true)
	require.NoError(t, err)

	data, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	require.Len(t, reporter.completes, 1)
}

func TestFetchFileReportedFailureIsSilent(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingHandler{}

	// The fetch function reported its own failure: no further events.
	fetchFn := func(path string) (bool, error) { return false, nil }

	err := FetchFile("http://example.com/anc.txt", fetchFn, reporter, "anc.txt", dir, nil, false)
	require.NoError(t, err)
	assert.Empty(t, reporter.errors)
	assert.Empty(t, reporter.completes)
	assertNoTempFiles(t, dir)
}

func TestFetchFileTransformsPathAndName(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingHandler{}

	transform, err := NewRegexpOutputPathTransform(`LS8_(?P<year>\d{4})`)
	require.NoError(t, err)

	err = FetchFile("http://example.com/LS8_2003", writeFetchFn("data"), reporter,
		"LS8_2003", filepath.Join(dir, "{year}"), transform, false)
	require.NoError(t, err)

	target := filepath.Join(dir, "2003", "LS8_2003")
	_, statErr := os.Stat(target)
	assert.NoError(t, statErr)
}
