package fetch

import (
	"reflect"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DecodeStrict decodes a YAML mapping node into out (a pointer to struct),
// rejecting keys that match no field and insisting on fields tagged
// `fetch:"required"`. tag names the component in error messages.
func DecodeStrict(node *yaml.Node, out interface{}, tag string) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("'%s' takes a mapping of fields", tag)
	}
	allowed, required := fieldNames(reflect.TypeOf(out).Elem())

	seen := map[string]bool{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if _, ok := allowed[key]; !ok {
			return errors.Errorf("unknown field %q for '%s' (supports '%s')", key, tag, strings.Join(sortedKeys(allowed), "', '"))
		}
		seen[key] = true
	}
	for _, name := range required {
		if !seen[name] {
			return errors.Errorf("required field %q not found for '%s'", name, tag)
		}
	}
	return node.Decode(out)
}

// fieldNames returns the yaml names of t's fields, walking embedded
// structs, plus the subset marked required.
func fieldNames(t reflect.Type) (allowed map[string]bool, required []string) {
	allowed = map[string]bool{}
	var walk func(t reflect.Type)
	walk = func(t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			if f.Anonymous && f.Type.Kind() == reflect.Struct {
				walk(f.Type)
				continue
			}
			name := yamlName(f)
			if name == "" {
				continue
			}
			allowed[name] = true
			if f.Tag.Get("fetch") == "required" {
				required = append(required, name)
			}
		}
	}
	walk(t)
	return allowed, required
}

// yamlName returns the yaml key for a struct field, or "" if excluded.
func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	if tag == "" {
		return strings.ToLower(f.Name)
	}
	name := strings.Split(tag, ",")[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SourceNode resolves a tagged YAML node into a Source. It exists so that
// sources can appear as fields of other config structures.
type SourceNode struct {
	Source
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *SourceNode) UnmarshalYAML(node *yaml.Node) error {
	v, err := Construct(node)
	if err != nil {
		return err
	}
	src, ok := v.(Source)
	if !ok {
		return errors.Errorf("'%s' is not a source", node.Tag)
	}
	s.Source = src
	return nil
}

// TransformNode resolves a tagged YAML node into a FilenameTransform.
type TransformNode struct {
	FilenameTransform
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TransformNode) UnmarshalYAML(node *yaml.Node) error {
	v, err := Construct(node)
	if err != nil {
		return err
	}
	transform, ok := v.(FilenameTransform)
	if !ok {
		return errors.Errorf("'%s' is not a filename transform", node.Tag)
	}
	t.FilenameTransform = transform
	return nil
}

// ProcessorNode resolves a tagged YAML node into a FileProcessor.
type ProcessorNode struct {
	FileProcessor
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *ProcessorNode) UnmarshalYAML(node *yaml.Node) error {
	v, err := Construct(node)
	if err != nil {
		return err
	}
	proc, ok := v.(FileProcessor)
	if !ok {
		return errors.Errorf("'%s' is not a file processor", node.Tag)
	}
	p.FileProcessor = proc
	return nil
}
