package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrMalformedHash = errors.New("malformed password hash")

// argonCost is the Argon2id work factor recorded in every role hash.
type argonCost struct {
	memory  uint32 // KiB
	passes  uint32
	threads uint8
}

// Sized for the small machines that usually host a panel server.
var panelCost = argonCost{memory: 64 * 1024, passes: 3, threads: 2}

const (
	saltBytes = 16
	keyBytes  = 32
)

// roleHash is a parsed role password hash in the PHC string form
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>, as printed by
// `panelctl hash-password`.
type roleHash struct {
	cost argonCost
	salt []byte
	key  []byte
}

// HashPassword returns the encoded hash of a role password, ready for the
// auth.*_password_hash config keys.
func HashPassword(password string) (string, error) {
	h := roleHash{cost: panelCost, salt: make([]byte, saltBytes)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	h.key = h.derive(password, keyBytes)
	return h.String(), nil
}

func parseRoleHash(s string) (roleHash, error) {
	fields := strings.Split(strings.TrimPrefix(s, "$"), "$")
	if len(fields) != 5 || fields[0] != "argon2id" {
		return roleHash{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[1], "v=%d", &version); err != nil || version != argon2.Version {
		return roleHash{}, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[1])
	}

	var h roleHash
	if _, err := fmt.Sscanf(fields[2], "m=%d,t=%d,p=%d", &h.cost.memory, &h.cost.passes, &h.cost.threads); err != nil {
		return roleHash{}, fmt.Errorf("%w: cost %q", ErrMalformedHash, fields[2])
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[3]); err != nil {
		return roleHash{}, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil || len(h.key) == 0 {
		return roleHash{}, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return h, nil
}

func (h roleHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.cost.memory, h.cost.passes, h.cost.threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key))
}

func (h roleHash) derive(password string, n uint32) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.cost.passes, h.cost.memory, h.cost.threads, n)
}

// matches reports whether password derives the stored key, in constant time.
func (h roleHash) matches(password string) bool {
	return subtle.ConstantTimeCompare(h.key, h.derive(password, uint32(len(h.key)))) == 1
}
