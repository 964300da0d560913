package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsWrappedKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("workflow: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("workflow: %w", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("workflow: %w", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("workflow: %w", ErrConflict), http.StatusConflict},
		{errors.New("database exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code)
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: secret table missing"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body.Detail)
}
