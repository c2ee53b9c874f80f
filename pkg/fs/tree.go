package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Create opens name for writing, truncating it or creating it with perm.
func Create(fsys Filesystem, name string, perm os.FileMode) (io.WriteCloser, error) {
	return fsys.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
}

// Append opens an existing or new file for appending. New files get 0o644.
func Append(fsys Filesystem, name string) (io.WriteCloser, error) {
	return fsys.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// Exists reports whether name is present in the tree. Errors other than
// "not exist" are returned.
func Exists(tree afero.Fs, name string) (bool, error) {
	_, err := tree.Stat(cleanPath(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadText returns the full contents of name as a string.
func ReadText(tree afero.Fs, name string) (string, error) {
	data, err := afero.ReadFile(tree, cleanPath(name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// cleanPath turns a partition relative path into the form every backend
// expects: slash separated, no leading slash, no dot segments.
func cleanPath(name string) string {
	p := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	return strings.TrimPrefix(p, "/")
}

// mkdirAll creates every missing component of name with perm and chmods it
// explicitly so the result does not depend on the process umask.
func mkdirAll(tree afero.Fs, name string, perm os.FileMode, created func(string) error) error {
	name = cleanPath(name)
	if name == "" {
		return nil
	}

	var current string
	for _, part := range strings.Split(name, "/") {
		current = path.Join(current, part)

		info, err := tree.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("mkdir %s: %w", current, ErrNotDirectory)
			}
			continue
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", current, err)
		}

		if err := mkdirOne(tree, current, perm); err != nil {
			return err
		}
		if created != nil {
			if err := created(current); err != nil {
				return err
			}
		}
	}

	return nil
}

func mkdirOne(tree afero.Fs, name string, perm os.FileMode) error {
	if err := tree.Mkdir(name, perm); err != nil {
		return fmt.Errorf("mkdir %s: %w", name, err)
	}
	if err := tree.Chmod(name, perm); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	return nil
}
