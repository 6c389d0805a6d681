package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{400, ErrBadRequest},
		{401, ErrUnauthorized},
		{403, ErrUnauthorized},
		{511, ErrUnauthorized},
		{404, ErrNotFound},
		{500, ErrUnavailable},
		{503, ErrUnavailable},
	}
	for _, tc := range tests {
		err := NewStatusError(tc.status)
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != tc.status {
			t.Errorf("status %d: expected StatusError with status, got %#v", tc.status, err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("search: %w", ErrBadRequest), KindBadRequest},
		{NewStatusError(401), KindUnauthorized},
		{ErrTokenExpired, KindUnauthorized},
		{NewStatusError(404), KindNotFound},
		{fmt.Errorf("decode: %w", ErrMalformed), KindNoData},
		{errors.New("connection reset"), KindUnavailable},
	}
	for _, tc := range tests {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
