package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Wrap(ErrNotFound, errors.New("student")), http.StatusNotFound},
		{Wrap(ErrValidation, errors.New("amount")), http.StatusBadRequest},
		{Wrap(ErrConflict, errors.New("cycle")), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestDecodeValidReportsFieldErrors(t *testing.T) {
	type payload struct {
		Amount *float64 `json:"amount" validate:"required,gte=0"`
	}
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": -1}`))
	var p payload
	err := DecodeValid(req, v, &p)
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Amount failed gte")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.ErrorIs(t, DecodeValid(req, v, &p), ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 12.5}`))
	require.NoError(t, DecodeValid(req, v, &p))
	require.Equal(t, 12.5, *p.Amount)
}
