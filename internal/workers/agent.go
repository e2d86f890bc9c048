package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alaamer12/pixcrawler/internal/errkind"
	"github.com/alaamer12/pixcrawler/internal/interfaces"
	"github.com/alaamer12/pixcrawler/internal/models"
)

// Fetcher executes the actual image crawl for one chunk. The crawl itself
// is opaque to the orchestrator; implementations receive primitives and
// return primitives.
type Fetcher interface {
	FetchChunk(ctx context.Context, payload interfaces.TaskPayload) ([]models.ImageRecord, error)
}

// Validator executes one image validation at a given level.
type Validator interface {
	ValidateImage(ctx context.Context, imageID string, level models.ValidationLevel) (models.ValidationResult, error)
}

// AgentClient talks to the external crawler agent over HTTP. The agent does
// the downloading and validating; this client only moves primitive JSON and
// classifies responses through the shared taxonomy.
type AgentClient struct {
	baseURL string
	client  *http.Client
}

// NewAgentClient creates a client for the configured agent URL.
func NewAgentClient(baseURL string, timeout time.Duration) *AgentClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AgentClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchChunk asks the agent to crawl one chunk and returns the image
// records it produced.
func (c *AgentClient) FetchChunk(ctx context.Context, payload interfaces.TaskPayload) ([]models.ImageRecord, error) {
	var out struct {
		Images []models.ImageRecord `json:"images"`
	}
	if err := c.post(ctx, "/crawl", payload, &out); err != nil {
		return nil, err
	}
	return out.Images, nil
}

// ValidateImage asks the agent to validate one image.
func (c *AgentClient) ValidateImage(ctx context.Context, imageID string, level models.ValidationLevel) (models.ValidationResult, error) {
	var out models.ValidationResult
	err := c.post(ctx, "/validate", map[string]interface{}{
		"image_id": imageID,
		"level":    string(level),
	}, &out)
	return out, err
}

func (c *AgentClient) post(ctx context.Context, path string, in interface{}, out interface{}) error {
	if c.baseURL == "" {
		return errkind.Infrastructure("no crawler agent configured", nil)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return errkind.Validationf("agent request is not serializable: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errkind.Infrastructure("failed to build agent request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errkind.KindOf(err) == errkind.KindTimeout {
			return errkind.Timeout("crawler agent did not answer in time", err)
		}
		return errkind.Network("crawler agent unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := errkind.FromHTTPStatus(resp.StatusCode)
		msg := fmt.Sprintf("crawler agent returned %d", resp.StatusCode)
		switch kind {
		case errkind.KindRateLimited:
			return errkind.RateLimited(msg, retryAfterOf(resp))
		case errkind.KindServiceUnavailable:
			return errkind.ServiceUnavailable(msg, nil)
		default:
			return errkind.Validationf("%s", msg)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Validationf("crawler agent returned an unreadable response: %v", err)
	}
	return nil
}

// retryAfterOf reads the agent's suggested wait, if any.
func retryAfterOf(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
