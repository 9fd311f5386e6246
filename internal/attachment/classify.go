// Package attachment classifies attachment URLs by file extension.
package attachment

import (
	"path"
	"strings"
)

// Kind is the media category of an attachment URL.
type Kind string

const (
	// KindUnknown is returned when the URL path has no extension.
	KindUnknown Kind = "unknown"
	// KindImage covers still and animated images.
	KindImage Kind = "image"
	// KindVideo covers video containers.
	KindVideo Kind = "video"
	// KindFile covers every other extension.
	KindFile Kind = "file"
)

var extensionKinds = map[string]Kind{
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".bmp":  KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
	".mkv":  KindVideo,
	".avi":  KindVideo,
	".m4v":  KindVideo,
}

// Classify returns the media category of rawURL.
func Classify(rawURL string) Kind {
	ext := strings.ToLower(path.Ext(urlPath(rawURL)))
	if ext == "" || ext == "." {
		return KindUnknown
	}
	if kind, ok := extensionKinds[ext]; ok {
		return kind
	}

	return KindFile
}

// urlPath strips the query string, fragment, scheme and host from rawURL.
func urlPath(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	if _, rest, ok := strings.Cut(rawURL, "://"); ok {
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return ""
		}
		rawURL = rest[slash:]
	}

	return rawURL
}
