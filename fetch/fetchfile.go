package fetch

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FetchFn downloads one remote object to the given local path. It returns
// false when the download failed and the failure has already been routed
// through the reporter; an error return aborts the whole trigger.
type FetchFn func(path string) (bool, error)

// FetchFile is the common fetch procedure shared by all sources.
//
// The actual transfer is handled by fetchFn, so this is not specific to a
// protocol. The download is staged to a ".fetch-" temp file in targetDir
// and renamed into place, so a partial or empty file never appears at the
// target path. The rename is atomic because the temp file lives in the
// destination directory itself.
func FetchFile(uri string, fetchFn FetchFn, reporter ResultHandler, targetFilename, targetDir string, transform FilenameTransform, overrideExisting bool) error {
	if transform != nil {
		var err error
		// The directory transform sees the original filename.
		targetDir, err = transform.TransformOutputPath(targetDir, targetFilename)
		if err != nil {
			return errors.Wrapf(err, "transforming output path for %q", uri)
		}
		targetFilename, err = transform.TransformFilename(targetFilename)
		if err != nil {
			return errors.Wrapf(err, "transforming filename for %q", uri)
		}
	}

	targetPath := filepath.Join(targetDir, targetFilename)

	if _, err := os.Stat(targetPath); err == nil && !overrideExisting {
		logrus.Debugf("Path exists %q. Skipping", targetPath)
		return nil
	}

	// The filename can contain folder offsets, so create the parent of the
	// full path rather than targetDir.
	if err := os.MkdirAll(filepath.Dir(targetPath), 0777); err != nil {
		return errors.Wrapf(err, "creating directory for %q", targetPath)
	}

	tmp, err := tempName(targetDir)
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %q", uri)
	}
	defer func() {
		if _, err := os.Stat(tmp); err == nil {
			_ = os.Remove(tmp)
		}
	}()

	logrus.Debugf("Running fetch for file %q", uri)
	ok, err := fetchFn(tmp)
	if err != nil {
		return err
	}
	if !ok {
		logrus.Debug("Download function reported error")
		return nil
	}

	info, err := os.Stat(tmp)
	if err != nil {
		logrus.Debugf("No file returned for %q", uri)
		reporter.FileError(uri, "No file", "")
		return nil
	}
	if info.Size() == 0 {
		logrus.Debugf("Empty file returned for %q", uri)
		reporter.FileError(uri, "Empty file", "")
		return nil
	}

	logrus.Debugf("Rename %q -> %q", tmp, targetPath)
	if err := os.Rename(tmp, targetPath); err != nil {
		return errors.Wrapf(err, "renaming into place for %q", uri)
	}
	return reporter.FileComplete(uri, targetPath, nil)
}

// tempName reserves a ".fetch-" temp filename in dir. The file itself is
// removed so that fetchFn decides whether anything is created at all
// (a fetch that produces no file is reported, not renamed).
func tempName(dir string) (string, error) {
	f, err := os.CreateTemp(dir, ".fetch-")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return name, nil
}
