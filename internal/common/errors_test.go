package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_StatusAndCode(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		code   string
	}{
		{Validation("invalid_sha256"), http.StatusBadRequest, "invalid_sha256"},
		{NotFound("job_not_found"), http.StatusNotFound, "job_not_found"},
		{Conflict("job_not_abortable"), http.StatusConflict, "job_not_abortable"},
		{RateLimited("ip_rate_limit"), http.StatusTooManyRequests, "ip_rate_limit"},
		{Internal("complete_failed", errors.New("boom")), http.StatusInternalServerError, "complete_failed"},
		{Misconfigured(errors.New("no bucket")), http.StatusInternalServerError, "server_misconfigured"},
		{Unauthorized("missing_token"), http.StatusUnauthorized, "missing_token"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestAPIError_UnwrapAndCodeOf(t *testing.T) {
	cause := errors.New("s3 down")
	err := fmt.Errorf("complete: %w", Internal("complete_failed", cause))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "complete_failed", CodeOf(err))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "complete_failed: s3 down", Internal("complete_failed", cause).Error())
	assert.Equal(t, "job_not_found", NotFound("job_not_found").Error())
}
