// Package referrals mints and resolves the short referral codes printed on
// yard signs and shared between households.
package referrals

import (
	"context"
	"log/slog"

	"kidscan/internal/shortcode"
	"kidscan/internal/types"
)

// Store is the profile access the minter needs. The referral_code column
// carries a unique index; SetReferralCode surfaces a lost race as a
// conflict error.
type Store interface {
	Get(ctx context.Context, userID int64) (*types.Profile, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	SetReferralCode(ctx context.Context, userID int64, code string) error
	GetByReferralCode(ctx context.Context, code string) (*types.Profile, error)
}

// Minter allocates referral codes for profiles that lack one.
type Minter struct {
	store  Store
	gen    *shortcode.Generator
	logger *slog.Logger
}

// NewMinter creates a Minter backed by the store's existence check.
func NewMinter(store Store, logger *slog.Logger, opts ...shortcode.Option) *Minter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Minter{
		store:  store,
		gen:    shortcode.NewGenerator(store.ReferralCodeExists, opts...),
		logger: logger,
	}
}

// Mint assigns a referral code to the user, returning the existing code
// unchanged when one is already set. Minting is idempotent per user.
func (m *Minter) Mint(ctx context.Context, userID int64) (string, error) {
	profile, err := m.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if profile.ReferralCode != "" {
		return profile.ReferralCode, nil
	}

	code, err := m.gen.Allocate(ctx)
	if err != nil {
		return "", err
	}
	if err := m.store.SetReferralCode(ctx, userID, code); err != nil {
		return "", err
	}

	m.logger.InfoContext(ctx, "referral code minted",
		"user_id", userID,
		"code", code,
	)
	return code, nil
}

// Resolve maps a referral code to its owning profile. Unknown or malformed
// codes return not found; the format check avoids a query for garbage
// input.
func (m *Minter) Resolve(ctx context.Context, code string) (*types.Profile, error) {
	if !shortcode.Valid(code) {
		return nil, types.NewAppError(types.ErrCodeNotFoundReferral, "referral code not found", nil)
	}
	return m.store.GetByReferralCode(ctx, code)
}
