package cache

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// unscoped stands in for an empty catalog or user id inside fast-tier keys.
const unscoped = "_"

// NormalizeText lowercases, trims and collapses whitespace so trivially
// different phrasings of the same text share a hash.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// HashText is the content hash used for query and embedding cache keys.
func HashText(text string) string {
	sum := blake2b.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

type keyspace struct {
	prefix string
}

func (k keyspace) query(catalogID, userID, hash string) string {
	return k.prefix + ":cache:" + scopePart(catalogID) + ":" + scopePart(userID) + ":" + hash
}

func (k keyspace) embedding(hash string) string {
	return k.prefix + ":emb:" + hash
}

func (k keyspace) userPattern(userID string) string {
	return k.prefix + ":cache:*:" + escapeGlob(userID) + ":*"
}

func (k keyspace) catalogPattern(catalogID string) string {
	return k.prefix + ":cache:" + escapeGlob(catalogID) + ":*"
}

func (k keyspace) queryPattern() string {
	return k.prefix + ":cache:*"
}

func (k keyspace) embeddingPattern() string {
	return k.prefix + ":emb:*"
}

func scopePart(id string) string {
	if id == "" {
		return unscoped
	}
	return id
}

// escapeGlob quotes the redis glob metacharacters in a literal key part.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
