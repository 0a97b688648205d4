// Package dynamodb provides the durable token tier on a single DynamoDB table
// keyed by the token hash key.
//
// Fault policy: every fault propagates unless Config.MissOnFault is set, in
// which case faults are logged and reported as a miss. Faults classified as
// outbound.ErrBackendUnavailable (throttling, 5xx, network) always propagate.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// dynamoDBAPI defines the subset of DynamoDB operations needed by TokenStorage.
type dynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ outbound.ExtendedStorageBackend[*entity.CacheEntry] = (*TokenStorage)(nil)

// Config holds DynamoDB storage configuration.
type Config struct {
	// TableName is the token table. Its partition key is the string attribute HashKey.
	TableName string

	// ConsistentRead makes TryGet use strongly consistent reads.
	ConsistentRead bool

	// MissOnFault reports faults other than ErrBackendUnavailable as a miss
	// instead of an error.
	MissOnFault bool
}

// ConfigDefaults returns sensible defaults for DynamoDB storage configuration.
func ConfigDefaults() Config {
	return Config{
		TableName: "TokensInfoCache",
	}
}

// TokenStorage is a DynamoDB implementation of the durable token tier.
type TokenStorage struct {
	client dynamoDBAPI
	config Config
	logger *slog.Logger
}

// NewTokenStorage creates a DynamoDB-backed token store.
func NewTokenStorage(cfg aws.Config, storageConfig Config, logger *slog.Logger, optFns ...func(*dynamodb.Options)) (*TokenStorage, error) {
	return newTokenStorage(dynamodb.NewFromConfig(cfg, optFns...), storageConfig, logger)
}

func newTokenStorage(client dynamoDBAPI, cfg Config, logger *slog.Logger) (*TokenStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client cannot be nil")
	}
	if cfg.TableName == "" {
		cfg.TableName = ConfigDefaults().TableName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStorage{
		client: client,
		config: cfg,
		logger: logger.With("component", "dynamodb-token-storage", "table", cfg.TableName),
	}, nil
}

// TryGet loads the entry stored under hashKey.
func (s *TokenStorage) TryGet(ctx context.Context, hashKey string) (*entity.CacheEntry, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            keyOf(hashKey),
		ConsistentRead: aws.Bool(s.config.ConsistentRead),
	})
	if err != nil {
		return nil, false, s.fault("get item", hashKey, err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	entry, err := unmarshalEntry(out.Item)
	if err != nil {
		return nil, false, s.fault("decode item", hashKey, err)
	}
	return entry, true, nil
}

// Store upserts the entry.
func (s *TokenStorage) Store(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	item, err := s.itemFor(hashKey, entry)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.TableName),
		Item:      item,
	})
	if err != nil {
		return classify("put item", err)
	}
	return nil
}

// Update overwrites an existing entry and returns outbound.ErrNotFound if it is absent.
func (s *TokenStorage) Update(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	item, err := s.itemFor(hashKey, entry)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.config.TableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(#hk)"),
		ExpressionAttributeNames: map[string]string{
			"#hk": attrHashKey,
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("dynamodb update %s: %w", hashKey, outbound.ErrNotFound)
	}
	if err != nil {
		return classify("update item", err)
	}
	return nil
}

// Remove deletes the entry.
func (s *TokenStorage) Remove(ctx context.Context, hashKey string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       keyOf(hashKey),
	})
	if err != nil {
		return classify("delete item", err)
	}
	return nil
}

// ContainsKey reports whether an entry exists, fetching only the key attribute.
func (s *TokenStorage) ContainsKey(ctx context.Context, hashKey string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.config.TableName),
		Key:                      keyOf(hashKey),
		ProjectionExpression:     aws.String("#hk"),
		ExpressionAttributeNames: map[string]string{"#hk": attrHashKey},
	})
	if err != nil {
		return false, classify("get item", err)
	}
	return len(out.Item) > 0, nil
}

// EnsureTable creates the table with on-demand billing if it does not exist.
func (s *TokenStorage) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.config.TableName),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return classify("describe table", err)
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.config.TableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrHashKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrHashKey), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return classify("create table", err)
	}
	s.logger.Info("created token table")
	return nil
}

func (s *TokenStorage) itemFor(hashKey string, entry *entity.CacheEntry) (map[string]types.AttributeValue, error) {
	if entry == nil {
		return nil, fmt.Errorf("cannot store nil entry under %s", hashKey)
	}
	if entry.HashKey != hashKey {
		return nil, fmt.Errorf("entry hash key %s does not match storage key %s", entry.HashKey, hashKey)
	}
	return marshalEntry(entry)
}

// fault applies the read fault policy.
func (s *TokenStorage) fault(op, hashKey string, err error) error {
	err = classify(op, err)
	if s.config.MissOnFault && !errors.Is(err, outbound.ErrBackendUnavailable) {
		s.logger.Warn("treating dynamodb fault as miss", "hashKey", hashKey, "error", err)
		return nil
	}
	return err
}

// unavailableCodes are API error codes that mean the service could not serve the request.
var unavailableCodes = map[string]bool{
	"ServiceUnavailable":                     true,
	"InternalServerError":                    true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("dynamodb %s: %w: %w", op, outbound.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("dynamodb %s: %w", op, err)
}

func isUnavailable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && unavailableCodes[apiErr.ErrorCode()] {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
