package threatscan

import (
	"path/filepath"
	"strings"
)

// Common media types used throughout the package
const (
	MediaTypeUnknown = "application/octet-stream"

	MediaTypePDF  = "application/pdf"
	MediaTypeZip  = "application/zip"
	MediaTypeGzip = "application/gzip"
	MediaTypeTar  = "application/x-tar"
	MediaTypeSVG  = "image/svg+xml"
	MediaTypeXML  = "application/xml"

	MediaTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaTypePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

	MediaTypeDOCM = "application/vnd.ms-word.document.macroEnabled.12"
	MediaTypeXLSM = "application/vnd.ms-excel.sheet.macroEnabled.12"
	MediaTypePPTM = "application/vnd.ms-powerpoint.presentation.macroEnabled.12"
)

// extensionToType maps common file extensions to the media type the content
// is expected to carry. Used by the engine's strict extension check.
var extensionToType = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "text/javascript",
	".json": "application/json",
	".xml":  MediaTypeXML,
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  MediaTypeSVG,
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".pdf":  MediaTypePDF,
	".zip":  MediaTypeZip,
	".gz":   MediaTypeGzip,
	".tgz":  MediaTypeGzip,
	".tar":  MediaTypeTar,
	".bz2":  "application/x-bzip2",
	".xz":   "application/x-xz",
	".7z":   "application/x-7z-compressed",
	".rar":  "application/x-rar-compressed",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".docx": MediaTypeDOCX,
	".xlsx": MediaTypeXLSX,
	".pptx": MediaTypePPTX,
	".docm": MediaTypeDOCM,
	".xlsm": MediaTypeXLSM,
	".pptm": MediaTypePPTM,
	".woff": "font/woff",
	".ttf":  "font/ttf",
	".otf":  "font/otf",
}

// TypeForExtension returns the media type expected for a file extension
// (including the dot), or empty string if unknown.
func TypeForExtension(ext string) string {
	return extensionToType[strings.ToLower(ext)]
}

// TypeForName returns the media type expected for a file name based on its
// extension, or empty string if unknown.
func TypeForName(name string) string {
	return TypeForExtension(filepath.Ext(name))
}

// archiveTypes are the media types the archive inspector handles.
var archiveTypes = map[string]bool{
	MediaTypeZip:                   true,
	MediaTypeGzip:                  true,
	MediaTypeTar:                   true,
	"application/x-bzip2":          true,
	"application/x-xz":             true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/java-archive":     true,
}

// IsArchiveType reports whether the media type denotes a supported archive
// container.
func IsArchiveType(mediaType string) bool {
	return archiveTypes[mediaType]
}

// officeTypes are the container-based office document media types.
var officeTypes = map[string]bool{
	MediaTypeDOCX: true,
	MediaTypeXLSX: true,
	MediaTypePPTX: true,
	MediaTypeDOCM: true,
	MediaTypeXLSM: true,
	MediaTypePPTM: true,
}

// IsOfficeType reports whether the media type denotes a container-based
// office document.
func IsOfficeType(mediaType string) bool {
	return officeTypes[mediaType]
}

// rasterImageTypes are the image types the metadata scanner handles.
var rasterImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/tiff": true,
	"image/webp": true,
}

// IsRasterImageType reports whether the media type denotes a raster image
// with scannable embedded metadata.
func IsRasterImageType(mediaType string) bool {
	return rasterImageTypes[mediaType]
}

// IsBinaryMediaType reports whether the media type denotes binary content
// that cannot host interpretable script text. The code injection scanner
// skips these outright to avoid false positives from incidental byte
// sequences inside compressed or encoded payloads.
func IsBinaryMediaType(mediaType string) bool {
	if mediaType == MediaTypeSVG {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "font/"):
		return true
	}
	return IsArchiveType(mediaType) || IsOfficeType(mediaType)
}

// IsExecutableType reports whether the media type indicates a native
// executable.
func IsExecutableType(mediaType string) bool {
	switch mediaType {
	case "application/x-msdownload",
		"application/x-msdos-program",
		"application/x-executable",
		"application/x-mach-binary",
		"application/x-sharedlib",
		"application/x-dosexec":
		return true
	}
	return false
}
