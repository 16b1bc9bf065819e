package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "removes invalid characters",
			input:    `file<>:"/\|?*name.epub`,
			expected: "filename.epub",
		},
		{
			name:     "replaces newlines and tabs with spaces",
			input:    "file\nname\twith\rspaces.epub",
			expected: "file name with spaces.epub",
		},
		{
			name:     "collapses multiple spaces",
			input:    "file   name  with    spaces.epub",
			expected: "file name with spaces.epub",
		},
		{
			name:     "strips path traversal",
			input:    "../../etc/passwd.epub",
			expected: "etcpasswd.epub",
		},
		{
			name:     "lower-cases extension",
			input:    "Novel.EPUB",
			expected: "Novel.epub",
		},
		{
			name:     "returns Untitled for empty",
			input:    ".epub",
			expected: "Untitled.epub",
		},
		{
			name:     "returns Untitled for only special chars",
			input:    "<>:?*",
			expected: "Untitled",
		},
		{
			name:     "truncates long names",
			input:    strings.Repeat("a", 250) + ".epub",
			expected: strings.Repeat("a", 200) + ".epub",
		},
		{
			name:     "handles unicode",
			input:    "Pamiętnik znaleziony w wannie.epub",
			expected: "Pamiętnik znaleziony w wannie.epub",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestIsBookFile(t *testing.T) {
	assert.True(t, IsBookFile("novel.epub"))
	assert.True(t, IsBookFile("NOVEL.EPUB"))
	assert.True(t, IsBookFile("war.fb2.zip"))
	assert.False(t, IsBookFile("cover.jpg"))
	assert.False(t, IsBookFile(".tmp-download-123"))
	assert.Equal(t, ".fb2.zip", BookExtension("war.fb2.zip"))
}

func TestTitleAuthorFromFilename(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		title  string
		author string
	}{
		{"title and author", "/books/The Hobbit - J.R.R. Tolkien.epub", "The Hobbit", "J.R.R. Tolkien"},
		{"compound extension", "War and Peace - Leo Tolstoy.fb2.zip", "War and Peace", "Leo Tolstoy"},
		{"no author", "The Hobbit.epub", "The Hobbit", ""},
		{"dash in title", "Spider-Man - Stan Lee.epub", "Spider-Man", "Stan Lee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, author := TitleAuthorFromFilename(tt.input)
			assert.Equal(t, tt.title, title)
			assert.Equal(t, tt.author, author)
		})
	}
}
