package core

import (
	"io"
	"os"
	"path/filepath"
)

// assembleFile concatenates the given source files, in order, into dst via a
// temp file in the same directory, fsyncs it, renames it into place, then
// fsyncs the directory so the rename itself is durable. This is the same
// temp-then-rename discipline the teacher's writeFileAtomic uses for its
// manifest file, generalized here for the node cache and way-tag cache
// finish() paths (§4.4/§4.5), which each assemble header+index+data from
// separately-written temp files into one final cache file.
func assembleFile(dst string, parts ...string) (rerr error) {
	dir := filepath.Dir(dst)
	tmpPath := dst + ".tmp"

	tmpf, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	defer func() {
		if rerr != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	for _, p := range parts {
		if err := copyFileInto(tmpf, p); err != nil {
			_ = tmpf.Close()
			return err
		}
	}

	if err := tmpf.Sync(); err != nil {
		_ = tmpf.Close()
		return err
	}

	if err := tmpf.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close() // nolint:errcheck

	return d.Sync()
}

// copyFileInto appends the full contents of src onto w via a bulk
// channel-to-channel style transfer (io.Copy delegates to the OS's
// copy_file_range/sendfile fast path where available).
func copyFileInto(w io.Writer, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close() // nolint:errcheck

	_, err = io.Copy(w, f)
	return err
}

// createFileDurable creates (or truncates) name under dir and fsyncs both
// the file and its parent directory so the new file survives a crash before
// any of its content is written.
func createFileDurable(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, err
	}

	dfd, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer dfd.Close() // nolint:errcheck

	if err := dfd.Sync(); err != nil {
		return nil, err
	}

	return f, nil
}

// removeAll removes each path, ignoring every removal error; used to
// clean up spill/temp files on every exit path (success or failure).
func removeAll(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
