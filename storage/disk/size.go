package disk

import (
	"errors"
	"os"

	"github.com/spf13/afero"
)

// Usage returns the total size in bytes of all files under the backend root.
func (b *Backend) Usage() (int64, error) {
	var total int64
	err := afero.Walk(b.fs, b.root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}

// walk lists regular files and directories under root in lexical order.
// root itself is not included.
func walk(fsys afero.Fs, root string) (files, dirs []string, err error) {
	err = afero.Walk(fsys, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		switch {
		case info.IsDir():
			if path != root {
				dirs = append(dirs, path)
			}
		case info.Mode().IsRegular():
			files = append(files, path)
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	return files, dirs, err
}
