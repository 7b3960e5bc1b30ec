package db

import (
	"context"

	"kidscan/internal/types"
)

// ProfileRepo provides data access for the profiles table. Referral codes
// are backed by a unique index; the allocator treats a unique violation as
// a lost race and retries.
type ProfileRepo struct {
	db DBTX
}

// NewProfileRepo creates a new ProfileRepo backed by the given database
// connection (pool or transaction).
func NewProfileRepo(db DBTX) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Get loads a profile by user ID.
func (r *ProfileRepo) Get(ctx context.Context, userID int64) (*types.Profile, error) {
	var p types.Profile
	err := r.db.QueryRow(ctx, `
		SELECT user_id, display_name, role, COALESCE(referral_code, '')
		FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Role, &p.ReferralCode)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundProfile, "profile not found")
	}
	return &p, nil
}

// ReferralCodeExists reports whether any profile already holds the code.
func (r *ProfileRepo) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE referral_code = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check referral code", err)
	}
	return exists, nil
}

// SetReferralCode assigns the code to the user's profile. A concurrent
// allocation of the same code surfaces as a conflict via the unique index.
func (r *ProfileRepo) SetReferralCode(ctx context.Context, userID int64, code string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE profiles SET referral_code = $1, updated_at = NOW()
		WHERE user_id = $2`,
		code, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictConcurrent, "referral code already taken", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set referral code", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}

// GetByReferralCode resolves a referral code to its owning profile.
func (r *ProfileRepo) GetByReferralCode(ctx context.Context, code string) (*types.Profile, error) {
	var p types.Profile
	err := r.db.QueryRow(ctx, `
		SELECT user_id, display_name, role, referral_code
		FROM profiles WHERE referral_code = $1`,
		code,
	).Scan(&p.UserID, &p.DisplayName, &p.Role, &p.ReferralCode)
	if err != nil {
		return nil, notFound(err, types.ErrCodeNotFoundReferral, "referral code not found")
	}
	return &p, nil
}
