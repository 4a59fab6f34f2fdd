// Package format holds the stateless presentation helpers consumed by the
// frontend-facing API: human-readable byte sizes and file-type glyphs.
package format

import (
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FileSize renders a byte count using binary (base-1024) units with up to two
// decimal places. Zero is special-cased as "0 Bytes".
func FileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}

	exp := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if exp >= len(sizeUnits) {
		exp = len(sizeUnits) - 1
	}

	value := float64(bytes) / math.Pow(1024, float64(exp))
	value = math.Round(value*100) / 100

	// FormatFloat with -1 drops trailing zeros, so 10.00 -> "10", 1.50 -> "1.5".
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizeUnits[exp]
}

// Glyph identifiers understood by the frontend icon set.
const (
	GlyphPDF   = "pdf"
	GlyphWord  = "word"
	GlyphImage = "image"
	GlyphFile  = "file"
)

// TypeGlyph maps a MIME type to an icon glyph. Unknown types fall back to the
// generic file glyph; the mapping carries no behavioral contract beyond being
// deterministic.
func TypeGlyph(mimeType string) string {
	switch {
	case mimeType == "application/pdf":
		return GlyphPDF
	case mimeType == "application/msword",
		mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return GlyphWord
	case strings.HasPrefix(mimeType, "image/"):
		return GlyphImage
	default:
		return GlyphFile
	}
}
