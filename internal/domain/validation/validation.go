// Package validation checks aggregated multicall responses and decoded token
// metadata before anything is persisted.
//
// Validators never short-circuit on the first problem: a Result carries every
// failing field so a single error can explain everything that was wrong.
package validation

import (
	"fmt"
	"strings"

	"github.com/archon-research/token-cache/internal/domain/entity"
)

// Field names reported for the fixed multicall positions.
const (
	FieldMultiCall   = "MultiCall"
	FieldName        = "Name"
	FieldSymbol      = "Symbol"
	FieldDecimals    = "Decimals"
	FieldTotalSupply = "TotalSupply"
)

var positionalFields = []string{FieldName, FieldSymbol, FieldDecimals, FieldTotalSupply}

// Failure is one failed rule.
type Failure struct {
	Field   string
	Message string
}

// Result aggregates zero or more failures. An empty Result is valid.
type Result []Failure

// Valid reports whether no rule failed.
func (r Result) Valid() bool {
	return len(r) == 0
}

// Messages returns the failure messages in the order they were found.
func (r Result) Messages() []string {
	msgs := make([]string, len(r))
	for i, f := range r {
		msgs[i] = f.Message
	}
	return msgs
}

func (r Result) Error() string {
	return strings.Join(r.Messages(), "; ")
}

// PositionField maps a multicall position to the field it carries.
func PositionField(index int) string {
	if index >= 0 && index < len(positionalFields) {
		return positionalFields[index]
	}
	return fmt.Sprintf("Call[%d]", index)
}

// ValidateMulticallResponse checks that results has exactly expected entries
// and that none of them is empty. A count mismatch is reported alone.
func ValidateMulticallResponse(results [][]byte, expected int) Result {
	if len(results) != expected {
		return Result{{
			Field:   FieldMultiCall,
			Message: "MultiCall returned unexpected number of results.",
		}}
	}

	var res Result
	for i, data := range results {
		if len(data) == 0 {
			field := PositionField(i)
			res = append(res, Failure{Field: field, Message: field + " call returned no data."})
		}
	}
	return res
}

// ValidateTokenMetadata checks the business invariants of decoded metadata.
func ValidateTokenMetadata(md *entity.TokenMetadata) Result {
	var res Result
	if md.Name == "" {
		res = append(res, Failure{Field: FieldName, Message: "Name is missing."})
	}
	if md.Symbol == "" {
		res = append(res, Failure{Field: FieldSymbol, Message: "Symbol is missing."})
	}
	// Decimals is a uint8, so the 0..255 range check can never fail.
	if md.TotalSupply == nil || md.TotalSupply.Sign() < 0 {
		res = append(res, Failure{Field: FieldTotalSupply, Message: "TotalSupply is negative."})
	}
	return res
}
