package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kidscan/internal/core"
	"kidscan/internal/types"
)

// ReferralMinter mints and resolves referral codes.
type ReferralMinter interface {
	Mint(ctx context.Context, userID int64) (string, error)
	Resolve(ctx context.Context, code string) (*types.Profile, error)
}

// ReferralCodeResponse is the response for POST /v1/referrals/code.
type ReferralCodeResponse struct {
	Code string `json:"code"`
}

// ReferralProfileResponse is the response for GET /v1/referrals/{code}.
// Only the public fields of the owning profile are exposed.
type ReferralProfileResponse struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// ReferralHandler handles the referral code endpoints.
type ReferralHandler struct {
	minter ReferralMinter
	logger *slog.Logger
}

// NewReferralHandler creates a ReferralHandler.
func NewReferralHandler(minter ReferralMinter, logger *slog.Logger) *ReferralHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralHandler{minter: minter, logger: logger}
}

// RegisterRoutes mounts the referral endpoints.
func (h *ReferralHandler) RegisterRoutes(r chi.Router) {
	r.Post("/referrals/code", h.Mint)
	r.Get("/referrals/{code}", h.Resolve)
}

// Mint handles POST /v1/referrals/code. Minting is idempotent: a profile
// that already has a code gets it back unchanged.
func (h *ReferralHandler) Mint(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	code, err := h.minter.Mint(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReferralCodeResponse{Code: code}})
}

// Resolve handles GET /v1/referrals/{code}. Codes are matched
// case-insensitively; the alphabet is uppercase only.
func (h *ReferralHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))

	profile, err := h.minter.Resolve(r.Context(), code)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ReferralProfileResponse{
		DisplayName: profile.DisplayName,
		Role:        string(profile.Role),
	}})
}
