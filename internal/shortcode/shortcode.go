// Package shortcode mints short human-shareable codes from a
// confusable-free alphabet, resolving collisions against a caller-supplied
// uniqueness store with bounded retries and a widening fallback.
package shortcode

import (
	"context"
	"math/rand"
	"regexp"
)

// Alphabet excludes 0, O, I and 1 to avoid visual confusion.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the default code length.
const Length = 4

// MaxAttempts bounds the collision-retry loop before widening to a
// five-character code.
const MaxAttempts = 10

// The optional fifth character is the widened-fallback digit suffix, which
// may be any decimal digit including 0 and 1.
var codePattern = regexp.MustCompile(`^[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{4}[0-9]?$`)

// Valid reports whether code has the expected 4-5 character format.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// ExistsFunc reports whether a candidate code is already taken. The
// allocator is storage agnostic; callers inject the existence check.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator allocates unique short codes.
type Generator struct {
	exists ExistsFunc
	intn   func(n int) int // rand source, injectable for tests
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandInt overrides the random source. Intended for tests.
func WithRandInt(intn func(n int) int) Option {
	return func(g *Generator) {
		g.intn = intn
	}
}

// NewGenerator creates a Generator backed by the given existence check.
func NewGenerator(exists ExistsFunc, opts ...Option) *Generator {
	g := &Generator{
		exists: exists,
		intn:   rand.Intn,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Allocate mints a unique code. It generates 4-character candidates and
// checks each against the store, retrying up to MaxAttempts times on
// collision. If every attempt collides it widens the code by appending one
// random decimal digit and returns without a further existence check: the
// residual collision probability is accepted and backstopped by the
// storage-level uniqueness constraint. Errors from the existence check
// propagate unchanged.
func (g *Generator) Allocate(ctx context.Context) (string, error) {
	var code string
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		code = g.random(Length)
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	// Widen to 5 characters with a decimal digit suffix.
	return g.random(Length) + string(rune('0'+g.intn(10))), nil
}

func (g *Generator) random(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = Alphabet[g.intn(len(Alphabet))]
	}
	return string(b)
}
