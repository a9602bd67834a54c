package fetch

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func init() {
	Register(&RegInfo{
		Tag: "!shell",
		New: func(node *yaml.Node) (interface{}, error) {
			p := &ShellFileProcessor{}
			if err := DecodeStrict(node, p, "!shell"); err != nil {
				return nil, err
			}
			if p.InputFiles != nil {
				re, err := CompileMatch(p.InputFiles.Pattern)
				if err != nil {
					return nil, err
				}
				p.InputFiles.re = re
			}
			return p, nil
		},
	})
}

// InputFiles gates a processor on companion files: the pattern's groups,
// matched against the completed path, are substituted into each path
// template, and processing is skipped until every resulting file exists.
type InputFiles struct {
	Pattern string   `yaml:"pattern" fetch:"required"`
	Paths   []string `yaml:"paths" fetch:"required"`

	re *regexp.Regexp
}

// ShellFileProcessor runs a templated shell command on each completed
// file, replacing it with the command's expected output file.
type ShellFileProcessor struct {
	Command    string      `yaml:"command" fetch:"required"`
	ExpectFile string      `yaml:"expect_file" fetch:"required"`
	InputFiles *InputFiles `yaml:"input_files"`
}

// Process runs the shell command for filePath and returns the path of the
// expected output. A missing input file is not an error: the path is
// returned unchanged and no command runs (the companions may arrive on a
// later trigger).
func (p *ShellFileProcessor) Process(filePath string) (string, error) {
	vars := fileVars(filePath)

	if p.InputFiles != nil {
		groups, ok, err := p.matchInputGroups(filePath)
		if err != nil {
			return "", err
		}
		if !ok {
			return filePath, nil
		}
		for name, value := range groups {
			vars[name] = value
		}
	}

	command, err := Expand(p.Command, vars)
	if err != nil {
		return "", errors.Wrap(err, "expanding command")
	}
	logrus.Infof("Running %q", command)

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "command %q failed", command)
	}

	expected, err := Expand(p.ExpectFile, vars)
	if err != nil {
		return "", errors.Wrap(err, "expanding expect_file")
	}
	if _, err := os.Stat(expected); err != nil {
		return "", errors.Errorf("expected output %q not found for command %q", expected, command)
	}

	logrus.Debugf("File available %q", expected)
	return expected, nil
}

// matchInputGroups matches filePath against the input pattern and checks
// each templated companion path exists. Named groups keep their name;
// unnamed capture groups are exposed as group0, group1, ...
func (p *ShellFileProcessor) matchInputGroups(filePath string) (Vars, bool, error) {
	re := p.InputFiles.re
	if re == nil {
		var err error
		re, err = CompileMatch(p.InputFiles.Pattern)
		if err != nil {
			return nil, false, err
		}
	}
	m := re.FindStringSubmatch(filePath)
	if m == nil {
		logrus.Debugf("%q does not match input pattern, skipping processing", filePath)
		return nil, false, nil
	}

	groups := Vars{}
	unnamed := 0
	for i, name := range re.SubexpNames() {
		if i == 0 {
			continue
		}
		if name == "" {
			groups[fmt.Sprintf("group%d", unnamed)] = m[i]
			unnamed++
		} else {
			groups[name] = m[i]
		}
	}

	for _, pattern := range p.InputFiles.Paths {
		path, err := Expand(pattern, groups)
		if err != nil {
			return nil, false, errors.Wrap(err, "expanding input_files path")
		}
		if _, err := os.Stat(path); err != nil {
			logrus.Infof("Input %q not yet available, skipping processing of %q", path, filePath)
			return nil, false, nil
		}
	}
	return groups, true, nil
}

// fileVars builds the standard path substitutions for templates:
// {filename}, {file_suffix}, {file_stem}, {parent_dir}, {parent_dirs[i]}
// and the freeform {path}.
func fileVars(filePath string) Vars {
	p := Path(filePath)
	return Vars{
		"filename":    p.Name(),
		"file_suffix": p.Suffix(),
		"file_stem":   p.Stem(),
		"parent_dir":  p.Parent(),
		"parent_dirs": p.Parents(),
		"path":        p,
	}
}
