package fetch

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&RegInfo{
		Tag: "!rsync",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &RsyncMirrorSource{}
			if err := DecodeStrict(node, s, "!rsync"); err != nil {
				return nil, err
			}
			return s, nil
		},
	})
}

// RsyncMirrorSource transfers a tree between machines with rsync over
// ssh. It assumes no authentication is needed between the machines (ie.
// public key pairs are configured).
type RsyncMirrorSource struct {
	SourcePath string `yaml:"source_path" fetch:"required"`
	TargetPath string `yaml:"target_path" fetch:"required"`
	// Hostnames are optional, defaulting to the current machine. They may
	// include a username, as with rsync syntax: "jm@rhe-jm-dev01".
	SourceHost string `yaml:"source_host"`
	TargetHost string `yaml:"target_host"`
}

// Trigger runs the transfer and reports all transferred paths as one bulk
// completion.
func (s *RsyncMirrorSource) Trigger(ctx context.Context, reporter ResultHandler) error {
	transferred, err := s.rsync(ctx)
	if err != nil {
		return err
	}
	logrus.Debugf("Transferred: %q", transferred)
	return reporter.FilesComplete(
		QualifyFileURI(s.SourceHost, s.SourcePath),
		transferred,
		nil,
	)
}

// rsync invokes the rsync binary, returning the destination paths of the
// files actually transferred (parsed from --out-format=%n).
func (s *RsyncMirrorSource) rsync(ctx context.Context) ([]string, error) {
	args := []string{
		"-e", "ssh",
		"-aL", "--out-format=%n",
		formatRsyncPath(s.SourceHost, s.SourcePath),
		formatRsyncPath(s.TargetHost, s.TargetPath),
	}
	logrus.Infof("Running rsync %s", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	err := cmd.Run()
	if errOut.Len() > 0 {
		logrus.Warnf("rsync stderr: %q", errOut.String())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "rsync failed (%q)", errOut.String())
	}

	var transferred []string
	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			transferred = append(transferred, toAbsolute(line, s.TargetPath))
		}
	}
	return transferred, nil
}

func formatRsyncPath(host, path string) string {
	if host != "" {
		return host + ":" + path
	}
	return path
}

// toAbsolute resolves a transferred filename against the destination
// directory if it is not already absolute.
func toAbsolute(filename, baseDir string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Clean(filepath.Join(baseDir, filename))
}
