package storage

import "os"

func renameFile(src, dst string) error {
	return os.Rename(src, dst)
}
