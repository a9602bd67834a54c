package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandStrings(t *testing.T) {
	out, err := Expand("/data/{year}/{month}", Vars{"year": "2014", "month": "11"})
	require.NoError(t, err)
	assert.Equal(t, "/data/2014/11", out)
}

func TestExpandUnknownNameFails(t *testing.T) {
	_, err := Expand("/data/{nope}", Vars{"year": "2014"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestExpandLeavesPlainTextAlone(t *testing.T) {
	out, err := Expand("/no/placeholders/here", Vars{})
	require.NoError(t, err)
	assert.Equal(t, "/no/placeholders/here", out)
}

func TestExpandDateFormats(t *testing.T) {
	day := time.Date(2014, 11, 18, 4, 36, 52, 0, time.UTC)
	out, err := Expand("{date:%Y%m%d}", Vars{"date": day})
	require.NoError(t, err)
	assert.Equal(t, "20141118", out)

	// Default rendering when no format given.
	out, err = Expand("{date}", Vars{"date": day})
	require.NoError(t, err)
	assert.Equal(t, "2014-11-18 04:36:52", out)
}

func TestExpandPathAttributes(t *testing.T) {
	vars := Vars{"path": Path("/tmp/something.txt")}

	for pattern, want := range map[string]string{
		"{path.stem}":                "something",
		"{path.suffix}":              ".txt",
		"{path.parent}":              "/tmp",
		"{path.name}":                "something.txt",
		"{path.stem}-x{path.suffix}": "something-x.txt",
	} {
		out, err := Expand(pattern, vars)
		require.NoError(t, err, pattern)
		assert.Equal(t, want, out, pattern)
	}
}

func TestExpandIndexing(t *testing.T) {
	vars := Vars{"parent_dirs": []string{"/a/b", "/a"}}
	out, err := Expand("{parent_dirs[0]}", vars)
	require.NoError(t, err)
	assert.Equal(t, "/a/b", out)

	_, err = Expand("{parent_dirs[5]}", vars)
	require.Error(t, err)
}

func TestDateVars(t *testing.T) {
	day := time.Date(2014, 1, 9, 0, 0, 0, 0, time.UTC)
	vars := DateVars(day)
	assert.Equal(t, "2014", vars["year"])
	assert.Equal(t, "01", vars["month"])
	assert.Equal(t, "09", vars["day"])
	assert.Equal(t, "009", vars["julday"])
}

func TestPathParents(t *testing.T) {
	parents := Path("/a/b/c/file.txt").Parents()
	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a", "/"}, parents)
}

func TestCompileMatchAnchorsAtStart(t *testing.T) {
	re, err := CompileMatch(`L\d{2}`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("L71something"))
	assert.False(t, re.MatchString("xL71"))

	_, err = CompileMatch("(unclosed")
	require.Error(t, err)
}
