package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smm-planner/internal/domain"
	"smm-planner/internal/infra/metrics"
)

// Config задаёт параметры Graph API.
type Config struct {
	GraphURL   string
	APIVersion string
	Timeout    time.Duration
}

// Client публикует посты через Facebook Graph API.
type Client struct {
	client     *http.Client
	graphURL   string
	apiVersion string
}

var _ domain.Publisher = (*Client)(nil)

// NewClient создаёт клиент Graph API.
func NewClient(cfg Config) *Client {
	if cfg.GraphURL == "" {
		cfg.GraphURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		client:     &http.Client{Timeout: cfg.Timeout},
		graphURL:   strings.TrimRight(cfg.GraphURL, "/"),
		apiVersion: cfg.APIVersion,
	}
}

type publishResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Publish отправляет пост на страницу. Ответ с ошибкой Graph API превращается
// в *domain.PublisherError, чтобы диспетчер сохранил структурированный отказ.
func (c *Client) Publish(ctx context.Context, post domain.PostRecord, creds domain.ChannelCredentials) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/feed", c.graphURL, c.apiVersion, url.PathEscape(creds.PageID))

	form := url.Values{}
	form.Set("message", BuildMessage(post))
	form.Set("access_token", creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.ObserveNetworkRequest("facebook", "publish", creds.PageID, start, err)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed publishResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: status %d: %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		kind := parsed.Error.Type
		if kind == "" {
			kind = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return "", &domain.PublisherError{Kind: kind, Message: parsed.Error.Message}
	}
	if parsed.ID == "" {
		return "", &domain.PublisherError{Kind: fmt.Sprintf("http_%d", resp.StatusCode), Message: strings.TrimSpace(string(body))}
	}
	return parsed.ID, nil
}

// BuildMessage собирает текст публикации: контент, призыв к действию и хэштеги.
func BuildMessage(post domain.PostRecord) string {
	parts := []string{strings.TrimSpace(post.Text)}
	if cta := strings.TrimSpace(post.CallToAction); cta != "" {
		parts = append(parts, cta)
	}
	if len(post.Hashtags) > 0 {
		tags := make([]string, 0, len(post.Hashtags))
		for _, tag := range post.Hashtags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if !strings.HasPrefix(tag, "#") {
				tag = "#" + tag
			}
			tags = append(tags, tag)
		}
		if len(tags) > 0 {
			parts = append(parts, strings.Join(tags, " "))
		}
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, "\n\n")
}
