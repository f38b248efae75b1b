// Package structured calls an external structured-extraction service that
// reads a page and returns JSON items shaped by a schema.
package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/specialdays/internal/observance"
)

// Config points the client at the extraction service.
type Config struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// ItemSchema is the JSON schema requested for every extracted observance.
var ItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"day":        map[string]any{"type": "integer", "minimum": 1, "maximum": 31},
		"month_name": map[string]any{"type": "string", "description": "full English month name"},
		"name":       map[string]any{"type": "string"},
		"url":        map[string]any{"type": "string"},
		"emoji":      map[string]any{"type": "string"},
	},
	"required": []string{"day", "month_name", "name"},
}

// ErrNotConfigured is returned when no endpoint is set.
var ErrNotConfigured = errors.New("extraction endpoint not configured")

type request struct {
	URL         string         `json:"url"`
	Instruction string         `json:"instruction"`
	Schema      map[string]any `json:"schema"`
	Model       string         `json:"model,omitempty"`
}

// Client implements extract.Extractor over HTTP.
type Client struct {
	cfg     Config
	fetcher observance.Fetcher
}

// New builds a Client that sends its requests through fetcher.
func New(cfg Config, fetcher observance.Fetcher) *Client {
	return &Client{cfg: cfg, fetcher: fetcher}
}

// Extract asks the service to extract observances from url.
func (c *Client) Extract(ctx context.Context, url, instruction string) ([]byte, error) {
	if c.cfg.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(request{
		URL:         url,
		Instruction: instruction,
		Schema:      ItemSchema,
		Model:       c.cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("encode extraction request: %w", err)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.fetcher.Fetch(ctx, observance.FetchRequest{
		URL:     c.cfg.Endpoint,
		Method:  http.MethodPost,
		Body:    body,
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("post extraction request: %w", err)
	}
	return resp.Body, nil
}
