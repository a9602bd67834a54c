package fetch

import (
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&RegInfo{
		Tag: "!regexp-extract",
		New: func(node *yaml.Node) (interface{}, error) {
			var pattern string
			if err := node.Decode(&pattern); err != nil {
				return nil, errors.New("'!regexp-extract' takes a single regexp pattern")
			}
			return NewRegexpOutputPathTransform(pattern)
		},
	})
	Register(&RegInfo{
		Tag: "!date-pattern",
		New: func(node *yaml.Node) (interface{}, error) {
			var format string
			if err := node.Decode(&format); err != nil {
				return nil, errors.New("'!date-pattern' takes a single format string")
			}
			return NewDateFilenameTransform(format), nil
		},
	})
}

// RegexpOutputPathTransform extracts fields from a filename using regexp
// groups and substitutes the group names into the destination path.
type RegexpOutputPathTransform struct {
	Pattern string
	re      *regexp.Regexp
}

// NewRegexpOutputPathTransform validates the pattern immediately, so a bad
// config fails at load rather than at the first trigger.
func NewRegexpOutputPathTransform(pattern string) (*RegexpOutputPathTransform, error) {
	re, err := CompileMatch(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexpOutputPathTransform{Pattern: pattern, re: re}, nil
}

// TransformFilename leaves the filename unchanged
func (t *RegexpOutputPathTransform) TransformFilename(sourceFilename string) (string, error) {
	return sourceFilename, nil
}

// TransformOutputPath substitutes named groups matched against the source
// filename into the output path. A non-matching filename leaves the path
// unchanged.
func (t *RegexpOutputPathTransform) TransformOutputPath(outputPath, sourceFilename string) (string, error) {
	m := t.re.FindStringSubmatch(sourceFilename)
	if m == nil {
		logrus.Infof("No regexp match for %q", outputPath)
		return outputPath, nil
	}
	vars := Vars{}
	for i, name := range t.re.SubexpNames() {
		if i > 0 && name != "" {
			vars[name] = m[i]
		}
	}
	return Expand(outputPath, vars)
}

// DateFilenameTransform renames files according to a date format string,
// eg. '{year}{month}{day}.{filename}'. Defaults to the current UTC date.
type DateFilenameTransform struct {
	Format string
	// FixedDate, if non-zero, is used instead of the current date.
	FixedDate time.Time

	now func() time.Time
}

// NewDateFilenameTransform creates a transform from the format string.
func NewDateFilenameTransform(format string) *DateFilenameTransform {
	return &DateFilenameTransform{Format: format}
}

// TransformFilename applies the date format
func (t *DateFilenameTransform) TransformFilename(sourceFilename string) (string, error) {
	day := t.FixedDate
	if day.IsZero() {
		if t.now != nil {
			day = t.now()
		} else {
			day = time.Now().UTC()
		}
	}
	vars := DateVars(day)
	vars["filename"] = sourceFilename
	vars["path"] = Path(sourceFilename)
	return Expand(t.Format, vars)
}

// TransformOutputPath leaves the directory unchanged
func (t *DateFilenameTransform) TransformOutputPath(outputPath, sourceFilename string) (string, error) {
	return outputPath, nil
}
