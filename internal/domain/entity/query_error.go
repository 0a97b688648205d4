package entity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// QueryError reports that metadata for Token could not be obtained in a
// usable shape. Reasons are human-readable and name the offending fields.
type QueryError struct {
	Token   common.Address
	Reasons []string
	Err     error
}

// NewQueryError builds a QueryError for token with the given reasons.
func NewQueryError(token common.Address, reasons ...string) *QueryError {
	return &QueryError{Token: token, Reasons: reasons}
}

func (e *QueryError) Error() string {
	msg := strings.Join(e.Reasons, "; ")
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return fmt.Sprintf("[ERC20 %s] %s", e.Token.Hex(), msg)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
