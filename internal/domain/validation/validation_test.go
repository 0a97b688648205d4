package validation

import (
	"math/big"
	"testing"

	"github.com/archon-research/token-cache/internal/domain/entity"
)

func TestValidateMulticallResponse(t *testing.T) {
	tests := []struct {
		name     string
		results  [][]byte
		expected int
		want     Result
	}{
		{
			name:     "four populated entries",
			results:  [][]byte{{1}, {2}, {3}, {4}},
			expected: 4,
			want:     nil,
		},
		{
			name:     "count mismatch",
			results:  [][]byte{{1}},
			expected: 2,
			want:     Result{{Field: "MultiCall", Message: "MultiCall returned unexpected number of results."}},
		},
		{
			name:     "count mismatch hides empty entries",
			results:  [][]byte{{}, {}, {}},
			expected: 4,
			want:     Result{{Field: "MultiCall", Message: "MultiCall returned unexpected number of results."}},
		},
		{
			name:     "empty second entry",
			results:  [][]byte{{1}, {}},
			expected: 2,
			want:     Result{{Field: "Symbol", Message: "Symbol call returned no data."}},
		},
		{
			name:     "nil entry counts as empty",
			results:  [][]byte{{1}, {2}, nil, {4}},
			expected: 4,
			want:     Result{{Field: "Decimals", Message: "Decimals call returned no data."}},
		},
		{
			name:     "all failing positions reported",
			results:  [][]byte{{}, {1}, {}, {}},
			expected: 4,
			want: Result{
				{Field: "Name", Message: "Name call returned no data."},
				{Field: "Decimals", Message: "Decimals call returned no data."},
				{Field: "TotalSupply", Message: "TotalSupply call returned no data."},
			},
		},
		{
			name:     "positions beyond known fields",
			results:  [][]byte{{1}, {1}, {1}, {1}, {}},
			expected: 5,
			want:     Result{{Field: "Call[4]", Message: "Call[4] call returned no data."}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateMulticallResponse(tt.results, tt.expected)
			assertResult(t, got, tt.want)
		})
	}
}

func TestValidateTokenMetadata(t *testing.T) {
	valid := func() *entity.TokenMetadata {
		return &entity.TokenMetadata{Name: "Token", Symbol: "TKN", Decimals: 18, TotalSupply: big.NewInt(0)}
	}

	tests := []struct {
		name   string
		mutate func(md *entity.TokenMetadata)
		want   Result
	}{
		{
			name:   "valid",
			mutate: func(md *entity.TokenMetadata) {},
			want:   nil,
		},
		{
			name:   "missing name",
			mutate: func(md *entity.TokenMetadata) { md.Name = "" },
			want:   Result{{Field: "Name", Message: "Name is missing."}},
		},
		{
			name:   "missing symbol",
			mutate: func(md *entity.TokenMetadata) { md.Symbol = "" },
			want:   Result{{Field: "Symbol", Message: "Symbol is missing."}},
		},
		{
			name:   "negative supply",
			mutate: func(md *entity.TokenMetadata) { md.TotalSupply = big.NewInt(-1) },
			want:   Result{{Field: "TotalSupply", Message: "TotalSupply is negative."}},
		},
		{
			name:   "nil supply",
			mutate: func(md *entity.TokenMetadata) { md.TotalSupply = nil },
			want:   Result{{Field: "TotalSupply", Message: "TotalSupply is negative."}},
		},
		{
			name:   "max decimals is fine",
			mutate: func(md *entity.TokenMetadata) { md.Decimals = 255 },
			want:   nil,
		},
		{
			name: "every rule failing",
			mutate: func(md *entity.TokenMetadata) {
				md.Name = ""
				md.Symbol = ""
				md.TotalSupply = big.NewInt(-5)
			},
			want: Result{
				{Field: "Name", Message: "Name is missing."},
				{Field: "Symbol", Message: "Symbol is missing."},
				{Field: "TotalSupply", Message: "TotalSupply is negative."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := valid()
			tt.mutate(md)
			assertResult(t, ValidateTokenMetadata(md), tt.want)
		})
	}
}

func TestResult_Helpers(t *testing.T) {
	r := Result{
		{Field: "Name", Message: "Name is missing."},
		{Field: "Symbol", Message: "Symbol is missing."},
	}
	if r.Valid() {
		t.Error("Valid() = true, want false")
	}
	if got := r.Error(); got != "Name is missing.; Symbol is missing." {
		t.Errorf("Error() = %q", got)
	}
	if !Result(nil).Valid() {
		t.Error("nil Result should be valid")
	}
}

func TestPositionField(t *testing.T) {
	for i, want := range []string{"Name", "Symbol", "Decimals", "TotalSupply", "Call[4]", "Call[10]"} {
		idx := i
		if i == 5 {
			idx = 10
		}
		if got := PositionField(idx); got != want {
			t.Errorf("PositionField(%d) = %s, want %s", idx, got, want)
		}
	}
}

func assertResult(t *testing.T, got, want Result) {
	t.Helper()
	if got.Valid() != want.Valid() {
		t.Fatalf("Valid() = %v, want %v (got %v)", got.Valid(), want.Valid(), got)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d failures %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("failure[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
