package fetch

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RegInfo provides information about a registered config component: a
// source, filename transform, processor or action addressed by a YAML tag.
type RegInfo struct {
	// Tag is the YAML tag, eg. "!http-files"
	Tag string
	// New constructs the component from its YAML node
	New func(node *yaml.Node) (interface{}, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]*RegInfo{}
)

// Register a component type with the config loader.
//
// Should be called from the init() of a package making the component
// available. Duplicate tags are a programming error.
func Register(info *RegInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[info.Tag]; found {
		panic("fetch: duplicate registration of tag " + info.Tag)
	}
	registry[info.Tag] = info
}

// Find looks up the component type for a YAML tag.
func Find(tag string) (*RegInfo, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	info, found := registry[tag]
	if !found {
		return nil, errors.Errorf("unknown tag %q (known tags: %s)", tag, strings.Join(knownTags(), ", "))
	}
	return info, nil
}

func knownTags() []string {
	tags := make([]string, 0, len(registry))
	for tag := range registry {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Construct builds the component a tagged YAML node describes.
func Construct(node *yaml.Node) (interface{}, error) {
	if !strings.HasPrefix(node.Tag, "!") || strings.HasPrefix(node.Tag, "!!") {
		return nil, errors.Errorf("line %d: expected a !tagged value, got %q", node.Line, node.Tag)
	}
	info, err := Find(node.Tag)
	if err != nil {
		return nil, err
	}
	v, err := info.New(node)
	if err != nil {
		return nil, errors.Wrapf(err, "%s (line %d)", node.Tag, node.Line)
	}
	return v, nil
}
