// Package cache_warmer consumes token warm-up requests from SQS and resolves
// each token through the metadata service so later lookups hit the cache.
package cache_warmer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/pkg/retry"
	"github.com/archon-research/token-cache/internal/ports/inbound"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

var _ inbound.HealthChecker = (*Service)(nil)

// Config holds configuration for the cache warmer.
type Config struct {
	MaxMessages  int
	PollInterval time.Duration

	// HealthyWithin is how recent the last successful poll must be for
	// IsHealthy. Must exceed the long-poll wait of the consumer.
	HealthyWithin time.Duration

	// Redelivery sets the visibility delay of messages that failed for a
	// transient reason, indexed by the SQS receive count.
	Redelivery retry.Config

	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		MaxMessages:   10,
		PollInterval:  100 * time.Millisecond,
		HealthyWithin: 2 * time.Minute,
		Redelivery: retry.Config{
			InitialBackoff: 5 * time.Second,
			MaxBackoff:     5 * time.Minute,
			BackoffFactor:  2.0,
		},
		Logger: slog.Default(),
	}
}

// warmRequest is the SQS message payload.
type warmRequest struct {
	ChainID int64  `json:"chainId"`
	Address string `json:"address"`
	// Refresh re-reads the total supply of an already cached token.
	Refresh bool `json:"refresh,omitempty"`
}

// Service polls the queue and warms the cache.
type Service struct {
	config   Config
	consumer outbound.SQSConsumer
	tokens   inbound.TokenMetadataService

	ready    atomic.Bool
	lastPoll atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a new cache warmer.
func NewService(config Config, consumer outbound.SQSConsumer, tokens inbound.TokenMetadataService) (*Service, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token service cannot be nil")
	}

	defaults := configDefaults()
	if config.MaxMessages == 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.HealthyWithin == 0 {
		config.HealthyWithin = defaults.HealthyWithin
	}
	if config.Redelivery == (retry.Config{}) {
		config.Redelivery = defaults.Redelivery
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		consumer: consumer,
		tokens:   tokens,
		logger:   config.Logger.With("component", "cache-warmer"),
	}, nil
}

// Start begins processing messages in the background.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.processLoop()

	s.logger.Info("cache warmer started", "maxMessages", s.config.MaxMessages)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cache warmer stopped")
	return nil
}

// IsReady reports whether the queue has been polled successfully at least once.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether the last successful poll is recent enough.
func (s *Service) IsHealthy() bool {
	last := s.lastPoll.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) <= s.config.HealthyWithin
}

func (s *Service) processLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.processMessages(s.ctx); err != nil && s.ctx.Err() == nil {
				s.logger.Error("error processing messages", "error", err)
			}
		}
	}
}

func (s *Service) processMessages(ctx context.Context) error {
	messages, err := s.consumer.ReceiveMessages(ctx, s.config.MaxMessages)
	if err != nil {
		return fmt.Errorf("receiving messages: %w", err)
	}
	s.lastPoll.Store(time.Now().UnixNano())
	s.ready.Store(true)

	if len(messages) == 0 {
		return nil
	}
	s.logger.Debug("received messages", "count", len(messages))

	var errs []error
	for _, msg := range messages {
		err := s.processMessage(ctx, msg)
		if err != nil && !isPermanent(err) {
			s.logger.Error("failed to warm token, leaving message for redelivery",
				"messageId", msg.MessageID,
				"receiveCount", msg.ReceiveCount,
				"error", err)
			errs = append(errs, err)

			delay := s.config.Redelivery.Backoff(max(msg.ReceiveCount, 1))
			if releaseErr := s.consumer.ReleaseMessage(ctx, msg.ReceiptHandle, delay); releaseErr != nil {
				s.logger.Warn("failed to release message", "messageId", msg.MessageID, "error", releaseErr)
			}
			continue
		}
		if err != nil {
			s.logger.Warn("dropping message that can never succeed", "messageId", msg.MessageID, "error", err)
		}

		if deleteErr := s.consumer.DeleteMessage(ctx, msg.ReceiptHandle); deleteErr != nil {
			s.logger.Error("failed to delete message", "messageId", msg.MessageID, "error", deleteErr)
		}
	}

	return errors.Join(errs...)
}

// errMalformed marks a message body that cannot be parsed into a request.
var errMalformed = errors.New("malformed warm-up request")

func (s *Service) processMessage(ctx context.Context, msg outbound.SQSMessage) error {
	var req warmRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}
	key, err := entity.NewHashKey(req.ChainID, req.Address)
	if err != nil {
		return err
	}

	var entry *entity.CacheEntry
	if req.Refresh {
		entry, err = s.tokens.RefreshTotalSupply(ctx, key)
	} else {
		entry, err = s.tokens.GetOrAdd(ctx, key)
	}
	if err != nil {
		return err
	}

	s.logger.Info("warmed token",
		"chainId", entry.ChainID,
		"address", entry.Address,
		"symbol", entry.Symbol,
		"refresh", req.Refresh)
	return nil
}

// isPermanent reports errors that no amount of redelivery will fix.
func isPermanent(err error) bool {
	var qe *entity.QueryError
	return errors.Is(err, errMalformed) ||
		errors.Is(err, entity.ErrInvalidArgument) ||
		errors.As(err, &qe)
}
