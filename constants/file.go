package constants

import (
	"path/filepath"
	"strings"
)

// ReadyPrefix marks a file whose writer has finished with it.
const ReadyPrefix = "ready_"

const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// AllowedExtensions holds the default allowed file extensions for receipt intake.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat returns PDF, IMAGE or "" for unsupported extensions.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png", "tif", "tiff":
		return IMAGE
	default:
		return ""
	}
}

// IsAllowed reports whether path carries one of exts (nil means AllowedExtensions).
func IsAllowed(path string, exts map[string]struct{}) bool {
	if exts == nil {
		exts = AllowedExtensions
	}
	_, ok := exts[NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsReadyName reports whether the base name carries the ready prefix.
func IsReadyName(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ReadyPrefix)
}

// ReadyPath returns the ready-prefixed sibling of path.
func ReadyPath(path string) string {
	return filepath.Join(filepath.Dir(path), ReadyPrefix+filepath.Base(path))
}

// OriginalName strips the ready prefix from a base name.
func OriginalName(path string) string {
	return strings.TrimPrefix(filepath.Base(path), ReadyPrefix)
}
