package fetch

import (
	"context"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&RegInfo{
		Tag: "!empty",
		New: func(node *yaml.Node) (interface{}, error) {
			return &EmptySource{}, nil
		},
	})
}

// EmptySource does nothing: useful for tests.
type EmptySource struct{}

// Trigger does nothing
func (s *EmptySource) Trigger(ctx context.Context, reporter ResultHandler) error {
	logrus.Info("Triggered empty source")
	return nil
}
