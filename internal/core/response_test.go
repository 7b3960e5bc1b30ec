package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidscan/internal/types"
)

// ============================================================
// JSON
// ============================================================

func TestJSONWritesEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusCreated, APIResponse{Data: map[string]any{"id": 42}})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, data["id"])
}

func TestJSONMarshalFailureFallsBackTo500(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	// Channels cannot be marshalled to JSON.
	JSON(w, r, http.StatusOK, make(chan int))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
}

// ============================================================
// Error
// ============================================================

func TestErrorWritesAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-abc"))

	err := types.NewAppErrorWithDetails(
		types.ErrCodeNotFoundService,
		"service not found",
		errors.New("sql: no rows"),
		map[string]any{"service_id": 7},
	)
	Error(w, r, err)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeNotFoundService), body.Error.Code)
	assert.Equal(t, "service not found", body.Error.Message)
	assert.Equal(t, "req-abc", body.Error.RequestID)
	assert.EqualValues(t, 7, body.Error.Details["service_id"])

	// Wrapped internals must never leak to the client.
	assert.NotContains(t, w.Body.String(), "sql: no rows")
}

func TestErrorUnwrapsNestedAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeConflictTaskNotPending, "task already completed", nil)
	Error(w, r, &wrappedErr{err: inner})

	assert.Equal(t, http.StatusConflict, w.Code)

	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeConflictTaskNotPending), body.Error.Code)
}

// wrappedErr wraps an error one level deep, as callers commonly do with %w.
type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "complete task: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }

func TestErrorUnknownErrorIs500(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body APIErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), body.Error.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

// ============================================================
// DecodeJSON
// ============================================================

type decodeTarget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func decodeErr(t *testing.T, body string) *types.AppError {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr
}

func TestDecodeJSONSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"alpha","count":3}`))

	var dst decodeTarget
	require.NoError(t, DecodeJSON(w, r, &dst))
	assert.Equal(t, "alpha", dst.Name)
	assert.Equal(t, 3, dst.Count)
}

func TestDecodeJSONRejectsUnknownField(t *testing.T) {
	appErr := decodeErr(t, `{"name":"alpha","bogus":true}`)
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
	assert.Contains(t, appErr.Message, "unknown field")
}

func TestDecodeJSONRejectsEmptyBody(t *testing.T) {
	appErr := decodeErr(t, "")
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
	assert.Contains(t, appErr.Message, "empty")
}

func TestDecodeJSONRejectsMalformedJSON(t *testing.T) {
	appErr := decodeErr(t, `{"name":`)
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
}

func TestDecodeJSONRejectsWrongFieldType(t *testing.T) {
	appErr := decodeErr(t, `{"count":"three"}`)
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
	assert.Equal(t, "count", appErr.Details["field"])
}

func TestDecodeJSONRejectsTrailingValue(t *testing.T) {
	appErr := decodeErr(t, `{"name":"a"}{"name":"b"}`)
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
	assert.Contains(t, appErr.Message, "single JSON object")
}

func TestDecodeJSONEnforcesBodyLimit(t *testing.T) {
	big := `{"name":"` + strings.Repeat("x", maxRequestBodySize+1) + `"}`
	appErr := decodeErr(t, big)
	assert.Equal(t, types.ErrCodeValidationBody, appErr.Code)
	assert.Contains(t, appErr.Message, "1MB")
}
