package pricing

import (
	"fmt"
	"math"

	"github.com/basketlabs/bvm/internal/types"
)

const maxInt64 = math.MaxInt64

// checkedMul multiplies two int64 values, failing on overflow instead of
// wrapping.
func checkedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	result := a * b
	if result/b != a {
		return 0, fmt.Errorf("%w: %d * %d", types.ErrMathOverflow, a, b)
	}
	return result, nil
}

// checkedAdd adds two int64 values, failing on overflow.
func checkedAdd(a, b int64) (int64, error) {
	result := a + b
	if (b > 0 && result < a) || (b < 0 && result > a) {
		return 0, fmt.Errorf("%w: %d + %d", types.ErrMathOverflow, a, b)
	}
	return result, nil
}

// checkedDiv divides a by b, failing on division by zero and on the single
// int64 overflow case (MinInt64 / -1).
func checkedDiv(a, b int64) (int64, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: division by zero", types.ErrMathOverflow)
	}
	if a == math.MinInt64 && b == -1 {
		return 0, fmt.Errorf("%w: %d / %d", types.ErrMathOverflow, a, b)
	}
	return a / b, nil
}

// pow10 returns 10^n as int64. n beyond 18 cannot be represented.
func pow10(n uint32) (int64, error) {
	if n > 18 {
		return 0, fmt.Errorf("%w: 10^%d exceeds 64 bits", types.ErrMathOverflow, n)
	}
	result := int64(1)
	for i := uint32(0); i < n; i++ {
		result *= 10
	}
	return result, nil
}

// CheckedAdd is the exported form used by the valuation engine for TVL
// summation.
func CheckedAdd(a, b int64) (int64, error) { return checkedAdd(a, b) }

// CheckedMul is the exported form used by allocation math.
func CheckedMul(a, b int64) (int64, error) { return checkedMul(a, b) }

// CheckedDiv is the exported form used by allocation math.
func CheckedDiv(a, b int64) (int64, error) { return checkedDiv(a, b) }
