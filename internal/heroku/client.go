// Package heroku is a minimal client for the Heroku Platform API v3 covering
// the calls needed to provision and tear down a bot deployment.
package heroku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/botdeploy/internal/deployment"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.heroku.com"

	acceptHeader       = "application/vnd.heroku+json; version=3"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBodyBytes  = 64 << 10
)

// APIError is a non-2xx answer from the platform API.
type APIError struct {
	StatusCode int
	ID         string
	Message    string
}

// Error returns the formatted message.
func (apiError *APIError) Error() string {
	if apiError.ID == "" {
		return fmt.Sprintf("heroku api status %d: %s", apiError.StatusCode, apiError.Message)
	}
	return fmt.Sprintf("heroku api status %d (%s): %s", apiError.StatusCode, apiError.ID, apiError.Message)
}

// HTTPStatus exposes the upstream status code.
func (apiError *APIError) HTTPStatus() int {
	return apiError.StatusCode
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the platform API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ deployment.Platform = (*Client)(nil)

// NewClient builds a Client, filling defaults for unset fields.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse heroku base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// CreateApp creates an application named name.
func (client *Client) CreateApp(ctx context.Context, credential string, name string) (deployment.App, error) {
	body, err := client.do(ctx, credential, http.MethodPost, "/apps", map[string]string{"name": name})
	if err != nil {
		return deployment.App{}, err
	}
	parsed := gjson.ParseBytes(body)
	return deployment.App{
		ID:     parsed.Get("id").String(),
		WebURL: parsed.Get("web_url").String(),
	}, nil
}

// SetConfigVars merges vars into the application's config vars.
func (client *Client) SetConfigVars(ctx context.Context, credential string, name string, vars map[string]string) error {
	_, err := client.do(ctx, credential, http.MethodPatch, "/apps/"+url.PathEscape(name)+"/config-vars", vars)
	return err
}

// TriggerBuild starts a build from a source tarball.
func (client *Client) TriggerBuild(ctx context.Context, credential string, name string, sourceTarballURL string) error {
	payload := map[string]any{"source_blob": map[string]string{"url": sourceTarballURL}}
	_, err := client.do(ctx, credential, http.MethodPost, "/apps/"+url.PathEscape(name)+"/builds", payload)
	return err
}

// DeleteApp destroys the application.
func (client *Client) DeleteApp(ctx context.Context, credential string, name string) error {
	_, err := client.do(ctx, credential, http.MethodDelete, "/apps/"+url.PathEscape(name), nil)
	return err
}

func (client *Client) do(ctx context.Context, credential string, method string, path string, payload any) ([]byte, error) {
	var requestBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode heroku request: %w", err)
		}
		requestBody = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, requestBody)
	if err != nil {
		return nil, fmt.Errorf("build heroku request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+credential)
	request.Header.Set("Accept", acceptHeader)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("heroku %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read heroku response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiError := parseAPIError(response.StatusCode, body)
		client.logger.Debug("heroku api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("id", apiError.ID),
		)
		return nil, apiError
	}
	return body, nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		apiError.ID = parsed.Get("id").String()
		apiError.Message = parsed.Get("message").String()
	}
	if apiError.Message == "" {
		apiError.Message = strings.TrimSpace(string(body))
	}
	if apiError.Message == "" {
		apiError.Message = http.StatusText(statusCode)
	}
	return apiError
}
