package http

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
)

type recordingHandler struct {
	errors    [][3]string
	completes map[string]string // source uri -> path
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{completes: map[string]string{}}
}

func (h *recordingHandler) FileError(uri, summary, body string) {
	h.errors = append(h.errors, [3]string{uri, summary, body})
}

func (h *recordingHandler) FileComplete(sourceURI, path string, metadata map[string]string) error {
	h.completes[sourceURI] = path
	return nil
}

func (h *recordingHandler) FilesComplete(sourceURI string, paths []string, metadata map[string]string) error {
	for _, p := range paths {
		h.completes[sourceURI] = p
	}
	return nil
}

func mustConstruct(t *testing.T, text string) fetch.Source {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(text), &doc))
	v, err := fetch.Construct(doc.Content[0])
	require.NoError(t, err)
	return v.(fetch.Source)
}

func TestStaticSourceFetches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/anc/utcpole.dat" {
			fmt.Fprint(w, "utcpole contents")
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!http-files
url: %s/anc/utcpole.dat
target_dir: %s
`, server.URL, dir))

	reporter := newRecordingHandler()
	require.NoError(t, src.Trigger(context.Background(), reporter))

	data, err := ioutil.ReadFile(filepath.Join(dir, "utcpole.dat"))
	require.NoError(t, err)
	assert.Equal(t, "utcpole contents", string(data))
	assert.Empty(t, reporter.errors)
}

func TestStaticSourceOverridesExisting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fresh")
	}))
	defer server.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "file.dat")
	require.NoError(t, ioutil.WriteFile(target, []byte("stale"), 0644))

	src := mustConstruct(t, fmt.Sprintf(`!http-files
url: %s/file.dat
target_dir: %s
`, server.URL, dir))

	require.NoError(t, src.Trigger(context.Background(), newRecordingHandler()))

	data, err := ioutil.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestStaticSourceReportsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!http-files
url: %s/file.dat
target_dir: %s
`, server.URL, dir))

	reporter := newRecordingHandler()
	// A failed individual download is reported, not raised.
	require.NoError(t, src.Trigger(context.Background(), reporter))

	require.Len(t, reporter.errors, 1)
	assert.Equal(t, "Status code 503", reporter.errors[0][1])
	assert.Empty(t, reporter.completes)
}

func TestSourceRequiresURL(t *testing.T) {
	src := &Source{baseSource: baseSource{TargetDir: t.TempDir()}}
	err := src.Trigger(context.Background(), newRecordingHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

const listingPage = `<html><body>
<a href="LC08CPF.01">LC08CPF.01</a>
<a href="LC08CPF.02">LC08CPF.02</a>
<a href="nested/LC08CPF.03">LC08CPF.03</a>
<a href="ignored.txt">different text</a>
<a href="no-text.txt"></a>
<a>no href</a>
<a href="README">README</a>
</body></html>`

func TestListingSourceFollowsMatchingAnchors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cpf/":
			fmt.Fprint(w, listingPage)
		case "/cpf/LC08CPF.01", "/cpf/LC08CPF.02", "/cpf/nested/LC08CPF.03":
			fmt.Fprint(w, "cpf data for "+r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!http-directory
url: %s/cpf/
name_pattern: 'L.*'
target_dir: %s
`, server.URL, dir))

	reporter := newRecordingHandler()
	require.NoError(t, src.Trigger(context.Background(), reporter))

	// Only anchors with an href, non-empty text, href ending in the text
	// and a pattern match are fetched.
	for _, name := range []string{"LC08CPF.01", "LC08CPF.02", "LC08CPF.03"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Empty(t, reporter.errors)
}

func TestListingSourceSkipsExistingFiles(t *testing.T) {
	fetches := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cpf/" {
			fmt.Fprint(w, `<a href="file.01">file.01</a>`)
			return
		}
		fetches++
		fmt.Fprint(w, "data")
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "file.01"), []byte("already here"), 0644))

	src := mustConstruct(t, fmt.Sprintf(`!http-directory
url: %s/cpf/
target_dir: %s
`, server.URL, dir))

	require.NoError(t, src.Trigger(context.Background(), newRecordingHandler()))
	assert.Equal(t, 0, fetches)

	data, err := ioutil.ReadFile(filepath.Join(dir, "file.01"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestListingSourceMissingPageIsSilent(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!http-directory
url: %s/cpf/
target_dir: %s
`, server.URL, dir))

	reporter := newRecordingHandler()
	require.NoError(t, src.Trigger(context.Background(), reporter))
	assert.Empty(t, reporter.errors)
	assert.Empty(t, reporter.completes)
}

func TestListingSourceServerErrorRaises(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!http-directory
url: %s/cpf/
target_dir: %s
`, server.URL, dir))

	err := src.Trigger(context.Background(), newRecordingHandler())
	require.Error(t, err)
	assert.True(t, fetch.IsRemoteFetch(err))
	assert.Contains(t, err.Error(), "500")
}

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Ancillary updates</title>
<item><title>file-a.dat</title><link>%s/files/file-a.dat</link></item>
<item><title>file-b.dat</title><link>%s/files/file-b.dat</link></item>
</channel></rss>`

func TestRSSSourceFetchesEntries(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed":
			fmt.Fprintf(w, rssFeed, server.URL, server.URL)
		case "/files/file-a.dat", "/files/file-b.dat":
			fmt.Fprint(w, "payload")
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	src := mustConstruct(t, fmt.Sprintf(`!rss
url: %s/feed
target_dir: %s
`, server.URL, dir))

	reporter := newRecordingHandler()
	require.NoError(t, src.Trigger(context.Background(), reporter))

	assert.FileExists(t, filepath.Join(dir, "file-a.dat"))
	assert.FileExists(t, filepath.Join(dir, "file-b.dat"))
	assert.Empty(t, reporter.errors)
}

func TestRSSSourceBadStatusRaises(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	src := mustConstruct(t, fmt.Sprintf(`!rss
url: %s/feed
target_dir: %s
`, server.URL, t.TempDir()))

	err := src.Trigger(context.Background(), newRecordingHandler())
	require.Error(t, err)
	assert.True(t, fetch.IsRemoteFetch(err))
}
