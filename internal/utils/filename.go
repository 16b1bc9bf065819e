package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// Characters invalid in filenames on most filesystems
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	// Whitespace characters to normalize
	whitespaceChars = regexp.MustCompile(`[\r\n\t]`)
	// Multiple spaces to collapse
	multipleSpaces = regexp.MustCompile(`\s+`)
)

// SanitizeFilename makes a filename safe to use as the last segment of a
// blob key or a local path. It removes path separators and characters that
// are invalid on common filesystems and keeps the extension intact.
func SanitizeFilename(filename string) string {
	ext := BookExtension(filename)
	base := strings.TrimSuffix(filename, ext)

	base = invalidFilenameChars.ReplaceAllString(base, "")
	base = whitespaceChars.ReplaceAllString(base, " ")
	base = multipleSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)
	base = strings.Trim(base, ".")

	// Limit length (most filesystems support 255, but leave room for extension)
	if len(base) > 200 {
		base = strings.TrimSpace(base[:200])
	}

	if base == "" {
		base = "Untitled"
	}

	return base + strings.ToLower(ext)
}

// KnownBookExtensions contains file extensions commonly used for e-books.
// Compound extensions come first so they win over their suffixes.
var KnownBookExtensions = []string{
	".fb2.zip",
	".kepub.epub",
	".epub",
	".fb2",
	".pdf",
	".mobi",
	".azw3",
	".azw",
	".djvu",
	".txt",
}

// BookExtension returns the known book extension of name (lower-cased
// match, original casing preserved) or "" if it has none.
func BookExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range KnownBookExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[len(name)-len(ext):]
		}
	}
	return ""
}

// IsBookFile reports whether name has a known e-book extension.
func IsBookFile(name string) bool {
	return BookExtension(name) != ""
}

// TitleAuthorFromFilename splits names like "Title - Author.epub" into a
// title and author. Without a separator the whole base name is the title.
func TitleAuthorFromFilename(name string) (title, author string) {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, BookExtension(base))
	if ext := filepath.Ext(base); BookExtension(name) == "" && ext != "" {
		base = strings.TrimSuffix(base, ext)
	}

	if idx := strings.LastIndex(base, " - "); idx > 0 {
		title = strings.TrimSpace(base[:idx])
		author = strings.TrimSpace(base[idx+3:])
		return title, author
	}
	return strings.TrimSpace(base), ""
}
