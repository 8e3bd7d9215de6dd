package data

import (
	"path/filepath"
	"strings"
)

const (
	MimeTextPlain   = "text/plain"
	MimeTextHTML    = "text/html"
	MimeTextCSS     = "text/css"
	MimeTextJS      = "text/javascript"
	MimeTextCSV     = "text/csv"
	MimeTextMD      = "text/markdown"
	MimeImageJPEG   = "image/jpeg"
	MimeImagePNG    = "image/png"
	MimeImageGIF    = "image/gif"
	MimeImageWebP   = "image/webp"
	MimeImageSVG    = "image/svg+xml"
	MimeAudioMpeg   = "audio/mpeg"
	MimeAudioOGG    = "audio/ogg"
	MimeVideoMP4    = "video/mp4"
	MimeVideoWebM   = "video/webm"
	MimePDF         = "application/pdf"
	MimeZip         = "application/zip"
	MimeGZip        = "application/gzip"
	MimeJSON        = "application/json"
	MimeYAML        = "application/yaml"
	MimeXML         = "application/xml"
	MimeOctetStream = "application/octet-stream"
)

// extensionToMime maps blob name extensions to mime types
var extensionToMime = map[string]string{
	".txt":  MimeTextPlain,
	".log":  MimeTextPlain,
	".html": MimeTextHTML,
	".css":  MimeTextCSS,
	".js":   MimeTextJS,
	".csv":  MimeTextCSV,
	".md":   MimeTextMD,
	".jpg":  MimeImageJPEG,
	".jpeg": MimeImageJPEG,
	".png":  MimeImagePNG,
	".gif":  MimeImageGIF,
	".webp": MimeImageWebP,
	".svg":  MimeImageSVG,
	".mp3":  MimeAudioMpeg,
	".ogg":  MimeAudioOGG,
	".mp4":  MimeVideoMP4,
	".webm": MimeVideoWebM,
	".pdf":  MimePDF,
	".zip":  MimeZip,
	".gz":   MimeGZip,
	".json": MimeJSON,
	".yaml": MimeYAML,
	".yml":  MimeYAML,
	".xml":  MimeXML,
}

// MimeForName guesses the mime type of a blob from its name.
func MimeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))

	if mime, exists := extensionToMime[ext]; exists {
		return mime
	}

	// Default to octet-stream for unknown types
	return MimeOctetStream
}
