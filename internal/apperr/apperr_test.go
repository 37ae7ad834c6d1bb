package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "direct", err: NotFound("task"), want: KindNotFound},
		{name: "wrapped", err: fmt.Errorf("load: %w", Validation("title", "required")), want: KindValidation},
		{name: "deadline", err: fmt.Errorf("query: %w", context.DeadlineExceeded), want: KindUnavailable},
		{name: "plain", err: errors.New("boom"), want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorMessageIncludesField(t *testing.T) {
	err := Validation("deadline", "must not be in the past")
	assert.Equal(t, "deadline: must not be in the past", err.Error())
}

func TestUnavailableIsOnlyRetryableKind(t *testing.T) {
	assert.True(t, IsRetryable(Unavailable(errors.New("busy"))))
	assert.False(t, IsRetryable(Conflict("stale")))
	assert.False(t, IsRetryable(Validation("status", "illegal")))
}

func TestUnwrapKeepsCause(t *testing.T) {
	cause := errors.New("disk")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
