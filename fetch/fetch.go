// Package fetch defines the contracts shared by the ancillary download
// daemon: data sources, result reporting, filename transforms and the
// common file-fetch primitive.
package fetch

import (
	"context"

	"github.com/pkg/errors"
)

// ResultHandler receives per-file success and error events from a Source.
//
// FileError must never abort a trigger: sources route individual download
// failures through it and carry on with their remaining files.
type ResultHandler interface {
	// FileError is called on failure of a single file.
	FileError(uri, summary, body string)

	// FileComplete is called on completion of a single file.
	FileComplete(sourceURI, path string, metadata map[string]string) error

	// FilesComplete is called on completion of multiple files.
	//
	// Implementations may handle this as a single bulk event rather than
	// one event per path.
	FilesComplete(sourceURI string, paths []string, metadata map[string]string) error
}

// Source is a remote-file producer.
//
// Implementations surface initial listing or feed failures as an error
// (usually a *RemoteFetchError) but report failures of individual files
// through the ResultHandler.
type Source interface {
	Trigger(ctx context.Context, reporter ResultHandler) error
}

// FilenameTransform rewrites the destination directory and filename
// derived from a source filename.
//
// Primarily useful for situations such as filing downloads by date.
type FilenameTransform interface {
	// TransformFilename modifies the output filename.
	TransformFilename(sourceFilename string) (string, error)

	// TransformOutputPath modifies the output directory path. It sees the
	// original source filename, not the transformed one.
	TransformOutputPath(outputPath, sourceFilename string) (string, error)
}

// FileProcessor is an action run on a file after retrieval, possibly
// returning a new path to replace it.
type FileProcessor interface {
	Process(path string) (string, error)
}

// RemoteFetchError is a failure retrieving something critical from the
// remote end, eg. a listing page or feed. A worker treats it as fatal
// for the current run.
type RemoteFetchError struct {
	Summary  string
	Detailed string
}

// Error returns the summary
func (e *RemoteFetchError) Error() string {
	return e.Summary
}

// IsRemoteFetch reports whether err is, or wraps, a RemoteFetchError.
func IsRemoteFetch(err error) bool {
	var r *RemoteFetchError
	return errors.As(err, &r)
}
