package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"gorisk/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"validation", core.NewValidationError("n_samples", "must be positive"), CodeValidationError},
		{"duplicate", &core.DuplicateParameterError{Name: "x"}, CodeValidationError},
		{"wrapped not found", fmt.Errorf("load: %w", core.ErrRunNotFound), CodeNotFound},
		{"initialization", &core.InitializationError{Chains: 4, Attempts: 100}, CodeInitializationError},
		{"simulation failure", &core.SimulationFailureError{Rate: 0.2, Threshold: 0.05}, CodeSimulationFailure},
		{"canceled", context.Canceled, CodeCanceled},
		{"other", fmt.Errorf("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromDomain(tt.err)
			assert.Equal(t, tt.code, GetCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Nil(t, FromDomain(nil))
}

func TestFromDomain_KeepsAppError(t *testing.T) {
	orig := ConfigInvalid("DATABASE_URL is malformed")
	assert.Same(t, orig, FromDomain(orig))
}

func TestDatabaseError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := DatabaseError(cause, "failed to store simulation")
	assert.Equal(t, CodeDatabaseError, GetCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to store simulation")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(GetCode(FromDomain(err))))

	assert.Nil(t, DatabaseError(nil, "nothing failed"))
}

func TestNotFound(t *testing.T) {
	err := NotFound("run 42")
	assert.Equal(t, CodeNotFound, err.Code)
	assert.Equal(t, "run 42 not found", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(CodeValidationError))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(CodeSimulationFailure))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("UNKNOWN"))
}

func TestWrap_PreservesCode(t *testing.T) {
	err := Wrap(ConfigInvalid("PORT is required"), "failed to load server configuration")
	assert.Equal(t, CodeConfigInvalid, GetCode(err))
	assert.Contains(t, err.Error(), "PORT is required")
}
