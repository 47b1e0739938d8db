// Package gameid generates compact, time-sortable identifiers for game
// instances and socket handles: a UUIDv7 encoded as 26 characters of
// Crockford base32.
package gameid

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"
)

// Crockford base32, lowercase: no i, l, o or u.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

var encoding = base32.NewEncoding(alphabet).WithPadding(base32.NoPadding)

// RandSource allows deterministic randomness injection in tests.
type RandSource interface {
	Intn(n int) int
}

// Generator produces ids, optionally from an injected RandSource.
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator. A nil randSource uses crypto/rand.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// Generate creates a new id with the default generator.
func Generate() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new id: 48-bit millisecond timestamp, then version and
// variant bits per UUIDv7, the rest random.
func (g *Generator) Generate() string {
	var uuid [16]byte

	now := time.Now().UnixMilli()
	uuid[0] = byte(now >> 40)
	uuid[1] = byte(now >> 32)
	uuid[2] = byte(now >> 24)
	uuid[3] = byte(now >> 16)
	uuid[4] = byte(now >> 8)
	uuid[5] = byte(now)

	if g.randSource != nil {
		for i := 6; i < 16; i++ {
			uuid[i] = byte(g.randSource.Intn(256))
		}
	} else if _, err := rand.Read(uuid[6:]); err != nil {
		panic("gameid: crypto/rand failed: " + err.Error())
	}

	uuid[6] = (uuid[6] & 0x0f) | 0x70
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return encoding.EncodeToString(uuid[:])
}

// validate checks that id is a well-formed generated identifier.
func validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("id must be 26 characters, got %d", len(id))
	}
	for i, c := range id {
		if !strings.ContainsRune(alphabet, c) {
			return fmt.Errorf("invalid character %q at position %d", c, i)
		}
	}
	// 128 bits in 26 base32 characters leaves 2 spare bits; the encoder pads
	// them as the low bits of the final character
	if strings.IndexByte(alphabet, id[25])%4 != 0 {
		return fmt.Errorf("trailing character %q carries padding bits", id[25])
	}
	return nil
}
