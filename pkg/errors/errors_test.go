package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrConflict, ErrValidation, ErrUnavailable, ErrUnauthorized}
	for i, sentinel := range sentinels {
		err := fmt.Errorf("call queue service: %w", fmt.Errorf("%w: detail", sentinel))
		for j, other := range sentinels {
			if got := errors.Is(err, other); got != (i == j) {
				t.Fatalf("errors.Is(%v, %v) = %v", err, other, got)
			}
		}
	}
}
