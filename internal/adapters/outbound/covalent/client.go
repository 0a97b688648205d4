// Package covalent fetches ERC20 metadata from a Covalent-style token indexing API.
package covalent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/yosida95/uritemplate/v3"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/domain/validation"
	"github.com/archon-research/token-cache/internal/pkg/httpclient"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// DefaultURLTemplate is the token holders endpoint. Variables: chainId,
// contractAddress, apiKey.
const DefaultURLTemplate = "https://api.covalenthq.com/v1/{chainId}/tokens/{contractAddress}/token_holders_v2/?page-size=100&page-number=0&key={apiKey}"

var _ outbound.MetadataSource = (*Client)(nil)

// Config configures the API client.
type Config struct {
	URLTemplate string
	APIKey      string
	// ItemIndex selects which element of data.items carries the metadata.
	ItemIndex int
	HTTP      httpclient.Config
	Logger    *slog.Logger
}

// ConfigDefaults returns the default configuration without an API key.
func ConfigDefaults() Config {
	return Config{
		URLTemplate: DefaultURLTemplate,
		HTTP:        httpclient.DefaultConfig(),
	}
}

// Client implements outbound.MetadataSource over HTTP.
type Client struct {
	tmpl      *uritemplate.Template
	apiKey    string
	itemIndex int
	http      *httpclient.Client
	logger    *slog.Logger
}

// NewClient parses the URL template and builds the HTTP client.
func NewClient(cfg Config) (*Client, error) {
	defaults := ConfigDefaults()
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = defaults.URLTemplate
	}
	if cfg.HTTP == (httpclient.Config{}) {
		cfg.HTTP = defaults.HTTP
	}
	if cfg.ItemIndex < 0 {
		return nil, fmt.Errorf("item index must not be negative, got %d", cfg.ItemIndex)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tmpl, err := uritemplate.New(cfg.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing URL template: %w", err)
	}

	logger := cfg.Logger.With("component", "covalent-client")
	return &Client{
		tmpl:      tmpl,
		apiKey:    cfg.APIKey,
		itemIndex: cfg.ItemIndex,
		http:      httpclient.NewClient(cfg.HTTP, logger, parseAPIError),
		logger:    logger,
	}, nil
}

type response struct {
	Data struct {
		Items []item `json:"items"`
	} `json:"data"`
}

type item struct {
	ContractDecimals     *int   `json:"contract_decimals"`
	ContractName         string `json:"contract_name"`
	ContractTickerSymbol string `json:"contract_ticker_symbol"`
	TotalSupply          string `json:"total_supply"`
}

type apiError struct {
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	ErrorCode    int    `json:"error_code"`
}

func parseAPIError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error {
		return fmt.Errorf("covalent API error %d: %s", e.ErrorCode, e.ErrorMessage)
	}
	return &httpclient.StatusError{StatusCode: statusCode, Body: string(body)}
}

// URL expands the template for key.
func (c *Client) URL(key entity.HashKey) (string, error) {
	values := uritemplate.Values{}
	values.Set("chainId", uritemplate.String(strconv.FormatInt(key.ChainID, 10)))
	values.Set("contractAddress", uritemplate.String(key.Address.Hex()))
	values.Set("apiKey", uritemplate.String(c.apiKey))
	return c.tmpl.Expand(values)
}

// FetchMetadata queries the API for key. A response without the configured
// item, or with an unusable item, yields *entity.QueryError.
func (c *Client) FetchMetadata(ctx context.Context, key entity.HashKey) (*entity.TokenMetadata, error) {
	url, err := c.URL(key)
	if err != nil {
		return nil, fmt.Errorf("expanding URL template: %w", err)
	}

	var resp response
	if err := c.http.GetJSON(ctx, httpclient.RequestConfig{URL: url}, &resp); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return nil, &entity.QueryError{Token: key.Address, Reasons: []string{"malformed API response"}, Err: err}
		}
		return nil, err
	}

	if len(resp.Data.Items) <= c.itemIndex {
		return nil, entity.NewQueryError(key.Address,
			fmt.Sprintf("API returned %d items, need index %d.", len(resp.Data.Items), c.itemIndex))
	}
	it := resp.Data.Items[c.itemIndex]

	md, reasons := it.metadata(key)
	if len(reasons) > 0 {
		return nil, entity.NewQueryError(key.Address, reasons...)
	}
	if res := validation.ValidateTokenMetadata(md); !res.Valid() {
		return nil, entity.NewQueryError(key.Address, res.Messages()...)
	}

	c.logger.Debug("fetched token metadata", "chainId", key.ChainID, "address", key.Address.Hex(), "symbol", md.Symbol)
	return md, nil
}

func (it item) metadata(key entity.HashKey) (*entity.TokenMetadata, []string) {
	var reasons []string

	var decimals uint8
	switch {
	case it.ContractDecimals == nil:
		reasons = append(reasons, "Decimals is missing.")
	case *it.ContractDecimals < 0 || *it.ContractDecimals > 255:
		reasons = append(reasons, fmt.Sprintf("Decimals %d is out of range.", *it.ContractDecimals))
	default:
		decimals = uint8(*it.ContractDecimals)
	}

	supply, ok := new(big.Int).SetString(it.TotalSupply, 10)
	if !ok {
		reasons = append(reasons, fmt.Sprintf("TotalSupply %q is not an integer.", it.TotalSupply))
	}

	return &entity.TokenMetadata{
		Address:     key.Address,
		Name:        it.ContractName,
		Symbol:      it.ContractTickerSymbol,
		Decimals:    decimals,
		TotalSupply: supply,
	}, reasons
}
