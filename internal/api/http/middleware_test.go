package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stacdex/stacdex/internal/errors"
)

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "given-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, "given-id", captured)
	assert.Equal(t, "given-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(apperrors.KindUnknown), body.Code)
}

func TestWriteAppErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperrors.New(apperrors.KindUriNotFound, "missing"), http.StatusNotFound},
		{apperrors.New(apperrors.KindSnapshotConflict, "rolled"), http.StatusConflict},
		{apperrors.New(apperrors.KindMissingIndex, "no index"), http.StatusServiceUnavailable},
		{apperrors.NewUnknownField("bogus"), http.StatusBadRequest},
		{apperrors.New(apperrors.KindInvalidToken, "bad token"), http.StatusBadRequest},
		{apperrors.New(apperrors.KindUnknown, "boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeAppError(rec, httptest.NewRequest("GET", "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, "kind %s", apperrors.GetKind(tc.err))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(apperrors.GetKind(tc.err)), body.Code)
	}
}
