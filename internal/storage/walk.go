package storage

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// walkTree visits root depth-first using an explicit stack instead of
// recursion. It returns every non-directory entry (regular files, symlinks,
// sockets, FIFOs) and every subdirectory below root, root itself excluded.
// Entries are not followed: a symlink to a directory is reported as a file.
// dirs comes back in discovery order, so walking it backwards yields children
// before their parents. Directories that cannot be read, or vanish mid-walk,
// are skipped.
func walkTree(fsys afero.Fs, root string) (files []fileNode, dirs []string) {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		infos, err := afero.ReadDir(fsys, dir)
		if err != nil {
			continue
		}
		for _, fi := range infos {
			full := filepath.Join(dir, fi.Name())
			if fi.IsDir() {
				dirs = append(dirs, full)
				stack = append(stack, full)
				continue
			}
			files = append(files, fileNode{path: full, info: fi})
		}
	}
	return files, dirs
}

type fileNode struct {
	path string
	info os.FileInfo
}

func (f fileNode) regular() bool {
	return f.info.Mode().IsRegular()
}

// removeTree deletes everything under root, files first and then directories
// deepest-first, and finally root itself. It keeps going past failures and
// returns the first one.
func removeTree(fsys afero.Fs, root string) error {
	if ok, _ := afero.DirExists(fsys, root); !ok {
		return nil
	}
	files, dirs := walkTree(fsys, root)

	var first error
	keep := func(err error) {
		if err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	for _, f := range files {
		keep(fsys.Remove(f.path))
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		keep(fsys.Remove(dirs[i]))
	}
	keep(fsys.Remove(root))
	return first
}
