package airsync

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const fallbackMIME = "application/octet-stream"

// probeMIME resolves a file's MIME type: extension table first, content
// sniffing second, octet-stream last.
func probeMIME(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		if idx := strings.IndexByte(t, ';'); idx >= 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	if detected, err := mimetype.DetectFile(path); err == nil {
		return detected.String()
	}
	return fallbackMIME
}
