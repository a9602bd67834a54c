// Package report fans completion and failure events out to the log, the
// message bus, and any configured failure listeners.
package report

import (
	"context"

	"github.com/sirupsen/logrus"
)

// A FailureListener is told about failures as they happen: per-file
// failures during a run, and whole runs that exited badly.
type FailureListener interface {
	OnFileFailure(processName, fileURI, summary, body string)
	OnProcessFailure(name, logFile string, exitCode int)
}

// Notify is the standard result handler: completions go to the log and
// the message bus, errors go to the log and the failure listeners.
type Notify struct {
	jobID     string
	bus       *Bus
	listeners []FailureListener
}

// New creates a handler for one run of the named job. bus may be nil
// when messaging is unconfigured.
func New(jobID string, bus *Bus, listeners ...FailureListener) *Notify {
	return &Notify{
		jobID:     jobID,
		bus:       bus,
		listeners: listeners,
	}
}

// announce logs the completion and publishes it on the bus. Delivery is
// best effort: a downed broker must not fail a run whose files already
// landed, so bus errors are logged and swallowed.
func (n *Notify) announce(sourceURI string, paths []string, metadata map[string]string) error {
	md := map[string]string{}
	for k, v := range metadata {
		md[k] = v
	}
	md["source-uri"] = sourceURI

	logrus.Infof("Completed %q -> %q", sourceURI, paths)
	if n.bus == nil {
		return nil
	}
	err := n.bus.Announce(context.Background(), &AncillaryUpdate{
		AncillaryType: n.jobID,
		URIs:          paths,
		Properties:    md,
	})
	if err != nil {
		logrus.WithError(err).Warn("Could not announce completion on the message bus")
	}
	return nil
}

// FileComplete is called on completion of a single file.
func (n *Notify) FileComplete(sourceURI, path string, metadata map[string]string) error {
	return n.announce(sourceURI, []string{path}, metadata)
}

// FilesComplete is called on completion of multiple files, announced as
// one message.
func (n *Notify) FilesComplete(sourceURI string, paths []string, metadata map[string]string) error {
	return n.announce(sourceURI, paths, metadata)
}

// FileError is called when an individual file could not be fetched.
func (n *Notify) FileError(uri, summary, body string) {
	logrus.Infof("Error (%q): %s", uri, summary)
	logrus.Debugf("Error body: %q", body)

	for _, listener := range n.listeners {
		listener.OnFileFailure(n.jobID, uri, summary, body)
	}
}
