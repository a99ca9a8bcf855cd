package acsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const tokenWithTitle = `<?xml version="1.0"?>
<fulfillmentToken xmlns="http://ns.adobe.com/adept">
  <resourceItemInfo>
    <metadata>
      <title xmlns="http://purl.org/dc/elements/1.1/">The Go Programming Language</title>
    </metadata>
    <src>https://acs.example.com/media/The%20Go%20Programming%20Language.epub</src>
  </resourceItemInfo>
</fulfillmentToken>`

const tokenWithSrcOnly = `<?xml version="1.0"?>
<fulfillmentToken xmlns="http://ns.adobe.com/adept">
  <resourceItemInfo>
    <src>https://acs.example.com/media/Effective%20Concurrency.pdf</src>
  </resourceItemInfo>
</fulfillmentToken>`

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "mybook", "mybook"},
		{"spaces become underscores", "my great book", "my_great_book"},
		{"path separators stripped", "a/b\\c", "a_b_c"},
		{"repeated underscores collapsed", "a   -  b", "a_-_b"},
		{"leading and trailing junk trimmed", "._-book-_.", "book"},
		{"empty falls back", "", "input"},
		{"only unsafe chars falls back", "///", "input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.input))
		})
	}
}

func TestTitleFromToken(t *testing.T) {
	t.Run("prefers dc:title metadata", func(t *testing.T) {
		assert.Equal(t, "The Go Programming Language", TitleFromToken(tokenWithTitle))
	})

	t.Run("falls back to src URL filename", func(t *testing.T) {
		assert.Equal(t, "Effective Concurrency", TitleFromToken(tokenWithSrcOnly))
	})

	t.Run("invalid xml yields empty", func(t *testing.T) {
		assert.Equal(t, "", TitleFromToken("not xml at all"))
	})

	t.Run("empty token yields empty", func(t *testing.T) {
		assert.Equal(t, "", TitleFromToken("<fulfillmentToken/>"))
	})
}

func TestDeriveBaseName(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		url      string
		content  string
		want     string
	}{
		{
			name:     "explicit filename wins",
			explicit: "My Book.acsm",
			url:      "https://example.com/other.acsm",
			want:     "My_Book",
		},
		{
			name: "url path segment",
			url:  "https://example.com/downloads/Deep%20Work.acsm?id=42",
			want: "Deep_Work",
		},
		{
			name:    "title from content when nothing else",
			content: tokenWithTitle,
			want:    "The_Go_Programming_Language",
		},
		{
			name: "fixed fallback",
			want: "input",
		},
		{
			name:    "generic url base falls through to content title",
			url:     "https://example.com/input.acsm",
			content: tokenWithTitle,
			want:    "The_Go_Programming_Language",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveBaseName(tt.explicit, tt.url, tt.content))
		})
	}
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "My Great Book", DisplayTitle("My_Great_Book"))
}
