// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for new bcrypt hashes.
const DefaultBcryptCost = 10

// Hasher algorithm names accepted by NewPasswordHasher.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

const argon2Prefix = "$argon2id$"

// PasswordHasher provides one-way password hashing and verification.
// Implementations never log or return the plaintext.
type PasswordHasher interface {
	// Hash produces a salted hash that embeds its own parameters.
	Hash(password string) (string, error)

	// Verify checks if the password matches the hash.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on malformed hash.
	Verify(password, hash string) (bool, error)
}

// HashUpgrader reports whether a stored hash was written with another
// algorithm or different parameters than new hashes would use.
type HashUpgrader interface {
	NeedsUpgrade(hash string) bool
}

// NewPasswordHasher returns a hasher that writes new hashes with the named
// algorithm and verifies hashes produced by either supported algorithm.
func NewPasswordHasher(algorithm string, bcryptCost int) (PasswordHasher, error) {
	bc, err := NewBcryptHasher(bcryptCost)
	if err != nil {
		return nil, err
	}
	a2 := NewArgon2idHasher()

	switch algorithm {
	case "", HasherBcrypt:
		return &MultiHasher{primary: bc, fallbacks: []PasswordHasher{a2}}, nil
	case HasherArgon2id:
		return &MultiHasher{primary: a2, fallbacks: []PasswordHasher{bc}}, nil
	default:
		return nil, oops.Code("AUTH_UNKNOWN_HASHER").
			With("algorithm", algorithm).
			Errorf("unknown password hasher %q", algorithm)
	}
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost of 0 selects DefaultBcryptCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("AUTH_INVALID_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt hash of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("algorithm", HasherBcrypt).Wrap(err)
	}
	return string(out), nil
}

// Verify checks if the password matches the bcrypt hash.
// Passwords over MaxPasswordBytes never match; bcrypt would only see a prefix.
func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return false, oops.Code("AUTH_INVALID_HASH").With("algorithm", HasherBcrypt).Wrap(err)
		}
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("AUTH_INVALID_HASH").With("algorithm", HasherBcrypt).Wrap(err)
	}
}

// NeedsUpgrade reports true for non-bcrypt hashes and bcrypt hashes of another cost.
func (h *BcryptHasher) NeedsUpgrade(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.cost
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id hash of the password in PHC string format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_HASH_FAILED").With("algorithm", HasherArgon2id).Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks if the password matches the argon2id hash.
func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	invalid := oops.Code("AUTH_INVALID_HASH").With("algorithm", HasherArgon2id)

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, invalid.Errorf("invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, invalid.Wrap(err)
	}
	if version != argon2.Version {
		return false, invalid.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, invalid.Wrap(err)
	}
	if iterations == 0 {
		return false, invalid.Errorf("iterations must be positive")
	}
	if threads == 0 || threads > 255 {
		return false, invalid.Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, invalid.Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, invalid.Wrap(err)
	}
	if len(expected) == 0 || len(expected) > 1<<10 {
		return false, invalid.Errorf("invalid hash key length: %d", len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade reports true unless hash is argon2id with the current parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	want := fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$", argon2Prefix, argon2.Version, argon2Memory, argon2Time, argon2Threads)
	return !strings.HasPrefix(hash, want)
}

// MultiHasher hashes with a primary algorithm and verifies hashes written by
// any of its configured algorithms, chosen by hash prefix.
type MultiHasher struct {
	primary   PasswordHasher
	fallbacks []PasswordHasher
}

// Hash produces a hash with the primary algorithm.
func (m *MultiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password) //nolint:wrapcheck // already coded by the primary hasher
}

// Verify dispatches to the hasher that produced hash.
func (m *MultiHasher) Verify(password, hash string) (bool, error) {
	for _, h := range append([]PasswordHasher{m.primary}, m.fallbacks...) {
		if owns(h, hash) {
			return h.Verify(password, hash) //nolint:wrapcheck // already coded by the owning hasher
		}
	}
	return false, oops.Code("AUTH_INVALID_HASH").Errorf("unrecognized hash format")
}

// NeedsUpgrade defers to the primary hasher.
func (m *MultiHasher) NeedsUpgrade(hash string) bool {
	up, ok := m.primary.(HashUpgrader)
	return ok && up.NeedsUpgrade(hash)
}

func owns(h PasswordHasher, hash string) bool {
	switch h.(type) {
	case *Argon2idHasher:
		return strings.HasPrefix(hash, argon2Prefix)
	case *BcryptHasher:
		return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
	default:
		return false
	}
}
