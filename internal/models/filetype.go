package models

import (
	"path/filepath"
	"slices"
	"strings"
)

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// DetectFileType infers the file type from a MIME type and file name.
// The MIME prefix wins; extension allowlists are consulted after.
func DetectFileType(mimeType, fileName string) FileType {
	mime := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mime, "video/"):
		return FileTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return FileTypeAudio
	case strings.HasPrefix(mime, "image/"):
		return FileTypeImage
	case strings.Contains(mime, "pdf"), strings.Contains(mime, "document"):
		return FileTypeDocument
	}

	ext := Extension(fileName)
	if ext == "" {
		return FileTypeUnknown
	}
	for _, m := range AllModalities {
		if slices.Contains(SupportedExtensions[m], ext) {
			return FileType(m)
		}
	}
	return FileTypeUnknown
}

var mimeByExtension = map[string]string{
	"mp4": "video/mp4", "mov": "video/quicktime", "avi": "video/x-msvideo",
	"mkv": "video/x-matroska", "webm": "video/webm", "flv": "video/x-flv", "wmv": "video/x-ms-wmv",
	"mp3": "audio/mpeg", "wav": "audio/wav", "m4a": "audio/mp4", "flac": "audio/flac",
	"ogg": "audio/ogg", "aac": "audio/aac", "wma": "audio/x-ms-wma",
	"pdf": "application/pdf", "doc": "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain", "md": "text/markdown", "rtf": "application/rtf",
	"png": "image/png", "jpg": "image/jpeg", "jpeg": "image/jpeg", "gif": "image/gif",
	"webp": "image/webp", "bmp": "image/bmp", "tiff": "image/tiff",
}

// MimeTypeFor returns the MIME type registered for the file's extension,
// or "application/octet-stream".
func MimeTypeFor(fileName string) string {
	if m, ok := mimeByExtension[Extension(fileName)]; ok {
		return m
	}
	return "application/octet-stream"
}
