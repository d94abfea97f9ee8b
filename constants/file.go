package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for upload intake.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tiff": {},
	"bmp":  {},
}

// MediaTypes maps a normalized extension to its media type.
var MediaTypes = map[string]string{
	"pdf":  "application/pdf",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtAllowed reports whether a file extension is accepted for processing.
func ExtAllowed(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MediaTypeForExt returns the media type for an extension, or
// "application/octet-stream" when unknown.
func MediaTypeForExt(ext string) string {
	if mt, ok := MediaTypes[NormalizeExt(ext)]; ok {
		return mt
	}
	return "application/octet-stream"
}
