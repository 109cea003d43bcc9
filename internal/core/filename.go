package core

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
	nonAlphanumeric     = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// SanitizeFilename reduces an uploaded filename to a safe storage name:
// path components are stripped, accented characters are folded to their base
// letters, anything outside [a-zA-Z0-9-_] becomes an underscore, the base is
// capped at 100 characters and the extension at 16 (lowercased). An empty
// result falls back to "document".
func SanitizeFilename(filename string) string {
	trimmed := strings.TrimSpace(filename)
	withoutPath := trimmed
	if i := strings.LastIndexAny(withoutPath, "/\\"); i >= 0 {
		withoutPath = withoutPath[i+1:]
	}
	if withoutPath == "" {
		withoutPath = trimmed
	}

	parts := strings.Split(withoutPath, ".")
	extension := ""
	if len(parts) > 1 {
		extension = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}
	baseName := strings.Join(parts, ".")
	if baseName == "" {
		baseName = "document"
	}

	safeBase := unsafeFilenameChars.ReplaceAllString(foldToASCII(baseName), "_")
	safeBase = underscoreRuns.ReplaceAllString(safeBase, "_")
	safeBase = strings.Trim(safeBase, "_")
	if len(safeBase) > 100 {
		safeBase = safeBase[:100]
	}
	if safeBase == "" {
		safeBase = "document"
	}

	safeExtension := nonAlphanumeric.ReplaceAllString(foldToASCII(extension), "")
	if len(safeExtension) > 16 {
		safeExtension = safeExtension[:16]
	}

	if safeExtension == "" {
		return safeBase
	}
	return safeBase + "." + strings.ToLower(safeExtension)
}

// foldToASCII decomposes accented characters and drops the combining marks,
// so "résumé" becomes "resume".
func foldToASCII(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
