package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ErrValidation{Message: "title is required"}, http.StatusBadRequest},
		{"unauthorized", &ErrUnauthorized{}, http.StatusUnauthorized},
		{"not found", &ErrNotFound{Resource: "job", ID: "x"}, http.StatusNotFound},
		{"upstream", &ErrUpstream{Message: "engine down"}, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatusUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", &ErrNotFound{Resource: "job", ID: "y"})
	assert.Equal(t, http.StatusNotFound, HTTPStatus(wrapped))
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&ErrValidation{Message: "bad"}).Error(), "bad")
	assert.Contains(t, (&ErrNotFound{Resource: "template", ID: "abc"}).Error(), "template")
	assert.Contains(t, (&ErrUpstream{Message: "timeout"}).Error(), "timeout")
}
