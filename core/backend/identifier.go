package backend

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// Resource identifiers are three dash-separated hex fields: a 4-character
// prefix derived from the resource type, a 32-character random part, and an
// 8-character checksum over type and random part. The prefix makes it obvious
// in logs which type an identifier belongs to, the checksum lets us reject
// garbage identifiers without hitting the database.
//
// Example: ee26-448134794a2f6da110a178def79d1d8f-e954e909

const identifierLength = 4 + 1 + 32 + 1 + 8

func hexSHA512(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// makeID assembles an identifier from a resource type and a 32-character
// random hex string.
func makeID(resource string, random string) string {
	typeField := hexSHA512(resource)[:4]
	checksumField := hexSHA512(typeField + random)[:8]
	return typeField + "-" + random + "-" + checksumField
}

// newID returns a fresh identifier for the given resource type.
func newID(resource string) string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("cannot read random bytes: %s", err))
	}
	return makeID(resource, hex.EncodeToString(buf))
}

// validID reports whether id has the shape and checksum of an identifier
// for the given resource type. It does not guarantee that the resource
// exists, only that a lookup is worth doing.
func validID(resource string, id string) bool {
	if len(id) != identifierLength {
		return false
	}
	parts := strings.Split(id, "-")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 32 || len(parts[2]) != 8 {
		return false
	}
	if parts[0] != hexSHA512(resource)[:4] {
		return false
	}
	return parts[2] == hexSHA512(parts[0]+parts[1])[:8]
}

const maxNameLength = 63

// chopLongName shortens a database identifier to maxlen characters. Postgres
// truncates names silently at 63 bytes, which can make two long names collide.
// Chopped names keep a readable prefix and end in a hash of the full name.
func chopLongName(name string, maxlen int) string {
	if len(name) <= maxlen {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	digest := hex.EncodeToString(sum[:])
	return name[:maxlen-7] + "_" + digest[len(digest)-6:]
}
