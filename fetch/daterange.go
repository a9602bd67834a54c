package fetch

import (
	"context"
	"reflect"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&RegInfo{
		Tag: "!date-range",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &DateRangeSource{StartDay: -1, EndDay: 1}
			if err := DecodeStrict(node, s, "!date-range"); err != nil {
				return nil, err
			}
			return s, nil
		},
	})
}

// DateRangeSource triggers an inner source once per date in a range of
// days relative to the current UTC date, substituting date fields into
// configured properties of the inner source.
type DateRangeSource struct {
	// Using is the source prototype to repeat.
	Using *SourceNode `yaml:"using" fetch:"required"`
	// OverriddenProperties maps inner-source field names to date-pattern
	// strings, eg. url: 'http://example.com/{year}/{month}/'.
	OverriddenProperties map[string]string `yaml:"overridden_properties" fetch:"required"`
	// StartDay and EndDay are offsets in days from today, both inclusive.
	StartDay int `yaml:"start_day"`
	EndDay   int `yaml:"end_day"`

	now func() time.Time
}

// Trigger runs the source prototype once for each date in the range.
//
// The prototype is cloned per iteration so its configured fields are
// never mutated; the override targets must be string fields.
func (s *DateRangeSource) Trigger(ctx context.Context, reporter ResultHandler) error {
	if s.Using == nil || s.Using.Source == nil {
		return errors.New("date-range has no inner source")
	}
	nowFn := s.now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	start := nowFn().AddDate(0, 0, s.StartDay)
	for n := 0; n <= s.EndDay-s.StartDay; n++ {
		day := start.AddDate(0, 0, n)
		vars := DateVars(day)

		inner, err := cloneSource(s.Using.Source)
		if err != nil {
			return err
		}
		for name, pattern := range s.OverriddenProperties {
			value, err := Expand(pattern, vars)
			if err != nil {
				return errors.Wrapf(err, "overriding %q", name)
			}
			logrus.Debugf("Setting %q=%q", name, value)
			if err := setSourceField(inner, name, value); err != nil {
				return err
			}
		}

		logrus.Infof("Triggering %+v", inner)
		if err := inner.Trigger(ctx, reporter); err != nil {
			return err
		}
	}
	return nil
}

// cloneSource makes a shallow copy of a pointer-to-struct source.
func cloneSource(src Source) (Source, error) {
	v := reflect.ValueOf(src)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("cannot clone source of type %T", src)
	}
	clone := reflect.New(v.Elem().Type())
	clone.Elem().Set(v.Elem())
	return clone.Interface().(Source), nil
}

// setSourceField sets the string field of src whose yaml name is name,
// looking through embedded structs.
func setSourceField(src Source, name, value string) error {
	field, ok := findField(reflect.ValueOf(src).Elem(), name)
	if !ok {
		return errors.Errorf("no field %q on %T to override", name, src)
	}
	if field.Kind() != reflect.String {
		return errors.Errorf("field %q of %T is not a string and cannot be date-overridden", name, src)
	}
	field.SetString(value)
	return nil
}

func findField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if inner, ok := findField(v.Field(i), name); ok {
				return inner, true
			}
			continue
		}
		if yamlName(f) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}
