package dynamodb

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/archon-research/token-cache/internal/domain/entity"
)

// Attribute names of the token table.
const (
	attrHashKey     = "HashKey"
	attrChainID     = "ChainId"
	attrAddress     = "Address"
	attrName        = "Name"
	attrSymbol      = "Symbol"
	attrDecimals    = "Decimals"
	attrTotalSupply = "TotalSupply"
)

// maxNumberDigits is the precision limit of the DynamoDB number type.
const maxNumberDigits = 38

// ErrNumberPrecision is returned when a value has more significant digits
// than a DynamoDB number can hold.
var ErrNumberPrecision = errors.New("number exceeds dynamodb precision")

func significantDigits(d decimal.Decimal) int {
	return len(strings.TrimRight(new(big.Int).Abs(d.Coefficient()).String(), "0"))
}

// numeric stores a decimal as a native DynamoDB number without going
// through float64.
type numeric decimal.Decimal

func (n numeric) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: decimal.Decimal(n).String()}, nil
}

func (n *numeric) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	num, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("expected number attribute, got %T", av)
	}
	d, err := decimal.NewFromString(num.Value)
	if err != nil {
		return fmt.Errorf("parsing number %q: %w", num.Value, err)
	}
	*n = numeric(d)
	return nil
}

// tokenItem is the table row.
type tokenItem struct {
	HashKey     string  `dynamodbav:"HashKey"`
	ChainID     int64   `dynamodbav:"ChainId"`
	Address     string  `dynamodbav:"Address"`
	Name        string  `dynamodbav:"Name"`
	Symbol      string  `dynamodbav:"Symbol"`
	Decimals    uint8   `dynamodbav:"Decimals"`
	TotalSupply numeric `dynamodbav:"TotalSupply"`
}

func marshalEntry(e *entity.CacheEntry) (map[string]types.AttributeValue, error) {
	if digits := significantDigits(e.TotalSupply); digits > maxNumberDigits {
		return nil, fmt.Errorf("%w: total supply %s has %d significant digits, limit %d",
			ErrNumberPrecision, e.TotalSupply.String(), digits, maxNumberDigits)
	}
	item, err := attributevalue.MarshalMap(tokenItem{
		HashKey:     e.HashKey,
		ChainID:     e.ChainID,
		Address:     e.Address,
		Name:        e.Name,
		Symbol:      e.Symbol,
		Decimals:    e.Decimals,
		TotalSupply: numeric(e.TotalSupply),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal token item: %w", err)
	}
	return item, nil
}

func unmarshalEntry(av map[string]types.AttributeValue) (*entity.CacheEntry, error) {
	var item tokenItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal token item: %w", err)
	}
	return &entity.CacheEntry{
		HashKey:     item.HashKey,
		ChainID:     item.ChainID,
		Address:     item.Address,
		Name:        item.Name,
		Symbol:      item.Symbol,
		Decimals:    item.Decimals,
		TotalSupply: decimal.Decimal(item.TotalSupply),
	}, nil
}

func keyOf(hashKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrHashKey: &types.AttributeValueMemberS{Value: hashKey},
	}
}
