// Package fetcher queries the Hugging Face Hub for model metadata and checks
// that the configured model suits the configured task.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultHubURL = "https://huggingface.co"

// ModelInfoFetcher returns Hub metadata for one model id.
type ModelInfoFetcher interface {
	Fetch(ctx context.Context, modelID string) (*ModelInfo, error)
}

// GateMode is the Hub "gated" field. The API sends false for open models
// and the approval mode ("auto" or "manual") for gated ones.
type GateMode string

func (g *GateMode) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case nil:
		*g = ""
	case bool:
		*g = ""
		if v {
			*g = "true"
		}
	case string:
		*g = GateMode(strings.TrimSpace(v))
	default:
		return fmt.Errorf("gated: unexpected %T", v)
	}
	return nil
}

// Gated reports whether downloading the weights needs an approved token.
func (g GateMode) Gated() bool { return g != "" && g != "false" }

// ModelInfo is the part of GET /api/models/:id the compatibility check
// and the provenance export read.
type ModelInfo struct {
	ID          string   `json:"id"`
	ModelID     string   `json:"modelId"`
	Author      string   `json:"author"`
	PipelineTag string   `json:"pipeline_tag"`
	LibraryName string   `json:"library_name"`
	Tags        []string `json:"tags"`
	SHA         string   `json:"sha"`
	Gated       GateMode `json:"gated"`
	Private     bool     `json:"private"`
	Config      struct {
		ModelType     string   `json:"model_type"`
		Architectures []string `json:"architectures"`
	} `json:"config"`
	CardData struct {
		License  any      `json:"license"`
		Datasets []string `json:"datasets"`
	} `json:"cardData"`
}

// HubError is a non-2xx answer from the Hub.
type HubError struct {
	ModelID    string
	StatusCode int
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub: model %q: status %d", e.ModelID, e.StatusCode)
}

// IsNotFound reports whether err is a HubError with status 404.
func IsNotFound(err error) bool {
	var e *HubError
	return errors.As(err, &e) && e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a HubError with status 401 or 403,
// usually a private or gated repo without a valid token.
func IsUnauthorized(err error) bool {
	var e *HubError
	return errors.As(err, &e) && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// HubOptions configures NewHubClient. Zero values mean the public Hub, no
// token, no timeout and no retries.
type HubOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Retries int
	// Transport replaces the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// HubClient reads model metadata from the Hub API.
type HubClient struct {
	client *resty.Client
}

func NewHubClient(opts HubOptions) *HubClient {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultHubURL
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetHeader("Accept", "application/json")
	if token := strings.TrimSpace(opts.Token); token != "" {
		client.SetAuthToken(token)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}
	return &HubClient{client: client}
}

// Fetch retrieves the metadata of modelID ("org/name").
func (h *HubClient) Fetch(ctx context.Context, modelID string) (*ModelInfo, error) {
	id := strings.Trim(strings.TrimSpace(modelID), "/")
	if id == "" {
		return nil, errors.New("hub: empty model id")
	}
	logf(id, "GET /api/models/%s", id)

	res, err := h.client.R().SetContext(ctx).Get("/api/models/" + id)
	if err != nil {
		return nil, fmt.Errorf("hub: model %q: %w", id, err)
	}
	if !res.IsSuccess() {
		return nil, &HubError{ModelID: id, StatusCode: res.StatusCode()}
	}
	var info ModelInfo
	if err := json.Unmarshal(res.Body(), &info); err != nil {
		return nil, fmt.Errorf("hub: model %q: decode response: %w", id, err)
	}
	if info.ID == "" {
		info.ID = id
	}
	return &info, nil
}
