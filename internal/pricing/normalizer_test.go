package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/basketlabs/bvm/internal/types"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		rawPrice int64
		rawExpo  int32
		want     int64
		wantErr  error
	}{
		{"ExpoMatchesUsd", 1_500_000, -6, 1_500_000, nil},
		{"ExpoEightDividesDown", 6_000_000_000, -8, 60_000_000, nil},
		{"ExpoThreeMultipliesUp", 1_500, -3, 1_500_000, nil},
		{"ExpoZero", 42, 0, 42_000_000, nil},
		{"OneDollarAtExpoEight", 100_000_000, -8, 1_000_000, nil},
		{"SubMicroRoundsToZero", 1, -8, 0, types.ErrInvalidPrice},
		{"ZeroPrice", 0, -6, 0, types.ErrInvalidPrice},
		{"NegativePrice", -5, -6, 0, types.ErrInvalidPrice},
		{"ExpoTooSmall", 1, -30, 0, types.ErrMathOverflow},
		{"MultiplyOverflow", math.MaxInt64, 0, 0, types.ErrMathOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.rawPrice, tt.rawExpo)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Normalize() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() unexpected error: %v", err)
			}
			if got.UsdMicro != tt.want {
				t.Errorf("Normalize() = %d, want %d", got.UsdMicro, tt.want)
			}
		})
	}
}

func TestUsdToTokens(t *testing.T) {
	price := NormalizedPrice{UsdMicro: 2_000_000} // $2.00

	tests := []struct {
		name     string
		usdMicro int64
		decimals uint8
		want     int64
		wantErr  bool
	}{
		{"TenDollarsSixDecimals", 10_000_000, 6, 5_000_000, false},
		{"TenDollarsNineDecimals", 10_000_000, 9, 5_000_000_000, false},
		{"TruncatesTowardZero", 1, 0, 0, false},
		{"DecimalsOutOfRange", 1_000_000, 19, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := price.UsdToTokens(tt.usdMicro, tt.decimals)
			if tt.wantErr {
				if err == nil {
					t.Fatal("UsdToTokens() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("UsdToTokens() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("UsdToTokens() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTokensToUsd(t *testing.T) {
	price := NormalizedPrice{UsdMicro: 1_500_000} // $1.50

	got, err := price.TokensToUsd(4_000_000, 6)
	if err != nil {
		t.Fatalf("TokensToUsd() unexpected error: %v", err)
	}
	if got != 6_000_000 {
		t.Errorf("TokensToUsd() = %d, want 6000000", got)
	}
}

// Converting USD to tokens and back loses at most one micro-unit to integer
// truncation.
func TestRoundTripWithinOneUnit(t *testing.T) {
	prices := []int64{1, 999_999, 1_000_000, 1_500_000, 64_000_000_000}
	amounts := []int64{1_000_000, 123_456_789, 42, 5_000_000_000}

	for _, p := range prices {
		price := NormalizedPrice{UsdMicro: p}
		for _, usd := range amounts {
			tokens, err := price.UsdToTokens(usd, 6)
			if err != nil {
				t.Fatalf("UsdToTokens(%d) at price %d: %v", usd, p, err)
			}
			if tokens == 0 {
				continue
			}
			back, err := price.TokensToUsd(uint64(tokens), 6)
			if err != nil {
				t.Fatalf("TokensToUsd at price %d: %v", p, err)
			}
			if back > usd {
				t.Errorf("round trip grew value: %d -> %d at price %d", usd, back, p)
			}
			diff := usd - back
			lost := price.UsdMicro / 1_000_000
			if lost < 1 {
				lost = 1
			}
			if diff > lost {
				t.Errorf("round trip lost %d micro at price %d, tolerance %d", diff, p, lost)
			}
		}
	}
}

func TestCheckedHelpers(t *testing.T) {
	if _, err := CheckedMul(math.MaxInt64, 2); !errors.Is(err, types.ErrMathOverflow) {
		t.Error("CheckedMul overflow not detected")
	}
	if _, err := CheckedAdd(math.MaxInt64, 1); !errors.Is(err, types.ErrMathOverflow) {
		t.Error("CheckedAdd overflow not detected")
	}
	if _, err := CheckedDiv(1, 0); !errors.Is(err, types.ErrMathOverflow) {
		t.Error("CheckedDiv by zero not detected")
	}
	if _, err := CheckedDiv(math.MinInt64, -1); !errors.Is(err, types.ErrMathOverflow) {
		t.Error("CheckedDiv MinInt64/-1 not detected")
	}
	got, err := CheckedMul(-3, 7)
	if err != nil || got != -21 {
		t.Errorf("CheckedMul(-3, 7) = %d, %v", got, err)
	}
}
