// Package acsm derives display names for converted documents from the
// fulfillment token. Naming is cosmetic only; it never affects the
// conversion path.
package acsm

import (
	"encoding/xml"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const fallbackBase = "input"

var (
	pathSeparators = regexp.MustCompile(`[\r\n\t\\/]+`)
	unsafeChars    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	repeatedScore  = regexp.MustCompile(`_+`)
)

// fulfillmentToken models only the parts of the ACSM XML needed for naming.
// Both the <dc:title> metadata element and the <src> download URL are
// matched regardless of namespace prefix.
type fulfillmentToken struct {
	Title string `xml:"resourceItemInfo>metadata>title"`
	Src   string `xml:"resourceItemInfo>src"`
}

// SanitizeName sanitizes a filename component for safe object-store key use.
func SanitizeName(name string) string {
	name = pathSeparators.ReplaceAllString(name, "_")
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(repeatedScore.ReplaceAllString(name, "_"), "._-")
	if name == "" {
		return fallbackBase
	}
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

// TitleFromToken extracts the book title from ACSM XML content. It prefers
// the dc:title metadata element and falls back to the filename embedded in
// the src download URL. Returns "" when neither yields a usable title.
func TitleFromToken(content string) string {
	var token fulfillmentToken
	if err := xml.Unmarshal([]byte(content), &token); err != nil {
		return ""
	}

	if title := strings.TrimSpace(token.Title); title != "" {
		return title
	}

	src := strings.TrimSpace(token.Src)
	if src == "" {
		return ""
	}
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	candidate := path.Base(u.Path)
	if candidate == "." || candidate == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(candidate); err == nil {
		candidate = unescaped
	}
	title := strings.TrimSuffix(candidate, path.Ext(candidate))
	if title == "" || strings.EqualFold(title, fallbackBase) {
		return ""
	}
	return title
}

// DeriveBaseName determines the output base name for a request. Preference
// order: explicit filename, the token URL's final path segment, title
// embedded in the token content, then a fixed fallback. A URL segment that
// matches the fallback is treated as generic and skipped.
func DeriveBaseName(explicit, tokenURL, tokenContent string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		base := strings.TrimSuffix(name, path.Ext(name))
		return SanitizeName(base)
	}

	base := fallbackBase
	if tokenURL != "" {
		if u, err := url.Parse(tokenURL); err == nil {
			candidate := path.Base(u.Path)
			if candidate != "." && candidate != "/" {
				if unescaped, err := url.PathUnescape(candidate); err == nil {
					candidate = unescaped
				}
				candidate = strings.TrimSuffix(candidate, path.Ext(candidate))
				if candidate != "" {
					base = SanitizeName(candidate)
				}
			}
		}
	}

	if base == fallbackBase && tokenContent != "" {
		if title := TitleFromToken(tokenContent); title != "" {
			base = SanitizeName(title)
		}
	}

	return base
}

// DisplayTitle converts a sanitized base name back into a user-facing title.
func DisplayTitle(base string) string {
	return strings.ReplaceAll(base, "_", " ")
}
