package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestUnbalancedErrorUnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("finalize: %w", &UnbalancedError{Difference: decimal.RequireFromString("50.00")})

	assert.True(t, errors.Is(err, ErrUnbalanced))

	var unbalanced *UnbalancedError
	assert.True(t, errors.As(err, &unbalanced))
	assert.Equal(t, "50.00", unbalanced.Difference.StringFixed(2))
	assert.Contains(t, unbalanced.Error(), "50.00")
}

func TestVarianceErrorUnwrapsToValidation(t *testing.T) {
	err := fmt.Errorf("finalize: %w", &VarianceError{
		Amount:  decimal.RequireFromString("2000"),
		Percent: decimal.RequireFromString("20"),
	})

	assert.True(t, errors.Is(err, ErrValidation))

	var variance *VarianceError
	assert.True(t, errors.As(err, &variance))
	assert.Contains(t, variance.Error(), "20.00%")
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{ErrNotFound, ErrConflict, ErrInvalidTransition, ErrUnbalanced, ErrValidation}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}
