//go:build !linux

package ingest

func renameNoReplace(oldPath, newPath string) error {
	return linkRename(oldPath, newPath)
}
