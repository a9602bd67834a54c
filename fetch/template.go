package fetch

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	strftime "github.com/ncruces/go-strftime"
	"github.com/pkg/errors"
)

// Vars holds the values available to Expand. Values may be strings,
// time.Time (formattable with {name:%...}), Path (with .stem, .suffix,
// .parent and .name attributes) or []string (indexable with {name[i]}).
type Vars map[string]interface{}

// Path exposes the pieces of a file path to templates.
type Path string

// Stem is the filename without its final suffix
func (p Path) Stem() string {
	name := filepath.Base(string(p))
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Suffix is the filename extension, with dot ('.txt')
func (p Path) Suffix() string {
	return filepath.Ext(string(p))
}

// Parent is the containing directory
func (p Path) Parent() string {
	return filepath.Dir(string(p))
}

// Name is the final path component
func (p Path) Name() string {
	return filepath.Base(string(p))
}

// Parents lists the ancestor directories, nearest first.
func (p Path) Parents() []string {
	var parents []string
	dir := filepath.Dir(string(p))
	for {
		parents = append(parents, dir)
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		dir = next
	}
	return parents
}

// The default rendering of a date value, matching the trigger-time format
// used on the bus.
const defaultDateFormat = "%Y-%m-%d %H:%M:%S"

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?:\[([0-9]+)\])?(?:\.([A-Za-z_]+))?(?::([^}]+))?\}`)

// Expand substitutes {name}-style placeholders in pattern from vars.
//
// Unknown placeholders are an error: templates come from operator config
// and a typo should fail loudly rather than pass through silently.
func Expand(pattern string, vars Vars) (string, error) {
	var b strings.Builder
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(pattern, -1) {
		b.WriteString(pattern[last:m[0]])
		last = m[1]
		value, err := expandOne(pattern[m[0]:m[1]],
			group(pattern, m, 1), group(pattern, m, 2), group(pattern, m, 3), group(pattern, m, 4),
			vars)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
	}
	b.WriteString(pattern[last:])
	return b.String(), nil
}

func group(s string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}
	return s[m[2*i]:m[2*i+1]]
}

func expandOne(placeholder, name, index, attr, format string, vars Vars) (string, error) {
	value, found := vars[name]
	if !found {
		return "", errors.Errorf("unknown name %q in pattern placeholder %q", name, placeholder)
	}
	if index != "" {
		list, ok := value.([]string)
		if !ok {
			return "", errors.Errorf("%q is not indexable in %q", name, placeholder)
		}
		i, _ := strconv.Atoi(index)
		if i >= len(list) {
			return "", errors.Errorf("index %d out of range for %q", i, name)
		}
		return list[i], nil
	}
	if attr != "" {
		path, ok := value.(Path)
		if !ok {
			return "", errors.Errorf("%q has no attributes in %q", name, placeholder)
		}
		switch attr {
		case "stem":
			return path.Stem(), nil
		case "suffix":
			return path.Suffix(), nil
		case "parent":
			return path.Parent(), nil
		case "name":
			return path.Name(), nil
		}
		return "", errors.Errorf("unknown attribute %q in %q", attr, placeholder)
	}
	switch v := value.(type) {
	case string:
		if format != "" {
			return "", errors.Errorf("%q does not take a format in %q", name, placeholder)
		}
		return v, nil
	case Path:
		return string(v), nil
	case time.Time:
		if format == "" {
			format = defaultDateFormat
		}
		return strftime.Format(format, v), nil
	}
	return "", errors.Errorf("cannot render %q in %q", name, placeholder)
}

// DateVars returns the standard date substitutions for t: {year}, {month},
// {day}, {julday} and the freeform {date}.
func DateVars(t time.Time) Vars {
	return Vars{
		"year":   strftime.Format("%Y", t),
		"month":  strftime.Format("%m", t),
		"day":    strftime.Format("%d", t),
		"julday": strftime.Format("%j", t),
		"date":   t,
	}
}

// CompileMatch compiles pattern anchored to the start of the text, the way
// config name patterns are matched against filenames.
func CompileMatch(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid pattern %q", pattern)
	}
	return re, nil
}
