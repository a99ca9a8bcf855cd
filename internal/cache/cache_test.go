package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	t.Run("content preferred over url", func(t *testing.T) {
		withBoth := Digest("https://example.com/book.acsm", "<fulfillmentToken/>")
		contentOnly := Digest("", "<fulfillmentToken/>")
		assert.Equal(t, contentOnly, withBoth)
	})

	t.Run("url used when no content", func(t *testing.T) {
		a := Digest("https://example.com/a.acsm", "")
		b := Digest("https://example.com/b.acsm", "")
		assert.NotEqual(t, a, b)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Digest("", "token"), Digest("", "token"))
	})

	t.Run("hex sha256 length", func(t *testing.T) {
		assert.Len(t, Digest("", "token"), 64)
	})
}
