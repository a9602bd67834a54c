package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func construct(t *testing.T, text string) (interface{}, error) {
	t.Helper()
	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(text), &doc))
	require.NotEmpty(t, doc.Content)
	return Construct(doc.Content[0])
}

func TestConstructDateRange(t *testing.T) {
	v, err := construct(t, `!date-range
using: !empty {}
overridden_properties:
  url: http://example.com/{year}/
`)
	require.NoError(t, err)
	src, ok := v.(*DateRangeSource)
	require.True(t, ok)
	// Yesterday through tomorrow unless configured otherwise.
	assert.Equal(t, -1, src.StartDay)
	assert.Equal(t, 1, src.EndDay)
	assert.IsType(t, &EmptySource{}, src.Using.Source)
}

func TestConstructScalarTransforms(t *testing.T) {
	v, err := construct(t, `!regexp-extract 'LS8_(?P<year>\d{4})'`)
	require.NoError(t, err)
	assert.IsType(t, &RegexpOutputPathTransform{}, v)

	v, err = construct(t, `!date-pattern '{year}.{filename}'`)
	require.NoError(t, err)
	assert.IsType(t, &DateFilenameTransform{}, v)
}

func TestConstructUnknownTag(t *testing.T) {
	_, err := construct(t, `!no-such-thing {}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tag")
	assert.Contains(t, err.Error(), "!date-range")
}

func TestConstructUntaggedValue(t *testing.T) {
	_, err := construct(t, `just-a-string`)
	require.Error(t, err)
}

func TestConstructMissingRequiredField(t *testing.T) {
	_, err := construct(t, `!rsync
source_path: /data/in
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_path")
}

func TestConstructUnknownField(t *testing.T) {
	_, err := construct(t, `!shell
command: "true"
expect_file: /tmp/x
surprise: 1
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "surprise")
	// The error names the fields that are allowed.
	assert.Contains(t, err.Error(), "command")
}

func TestConstructBadRegexpFailsAtLoad(t *testing.T) {
	_, err := construct(t, `!regexp-extract '(unclosed'`)
	require.Error(t, err)
}

func TestSourceNodeRejectsNonSource(t *testing.T) {
	var node struct {
		Source *SourceNode `yaml:"source"`
	}
	err := yaml.Unmarshal([]byte("source: !date-pattern '{year}'"), &node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a source")
}
