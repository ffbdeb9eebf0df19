// Package cache provides the two cache tiers of a run: a content cache keyed
// by document content and a query cache keyed by the question text.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// normalize lowercases and trims s so trivially different inputs share a key.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(normalize(s)))
	return hex.EncodeToString(sum[:])
}

// HashContent returns the content cache key for a document body.
func HashContent(content string) string {
	return hash(content)
}

// HashQuery returns the query cache key for a question.
func HashQuery(query string) string {
	return hash(query)
}
