package library

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Progress actions understood by the remote gateway.
const (
	ActionMarkRead       = "markRead"
	ActionToggleFavorite = "toggleFavorite"
	ActionToggleArchive  = "toggleArchive"
	ActionSetProgress    = "setProgress"
)

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ProgressValue carries the explicit values for a setProgress action.
type ProgressValue struct {
	ReadCount int  `json:"readCount"`
	Favorite  bool `json:"favorite"`
	Archived  bool `json:"archived"`
}

type SeedResult struct {
	Success         bool `json:"success"`
	InsertedContent int  `json:"insertedContent"`
	UpdatedProgress int  `json:"updatedProgress"`
}

// Remote is the content gateway: four content operations, the progress
// update and the destructive clear. Implementations return domain-shaped
// items.
type Remote interface {
	FetchContent(ctx context.Context, deviceID string) ([]Item, error)
	CreateContent(ctx context.Context, title, contentType, content string) (Item, error)
	UpdateContent(ctx context.Context, id int64, title, content string) (Item, error)
	UpdateProgress(ctx context.Context, deviceID string, contentID int64, action string, value *ProgressValue) error
	SeedContent(ctx context.Context, deviceID string, items []Item) (SeedResult, error)
	ClearContent(ctx context.Context, deviceID string) error
}

// contentRecord is the transport shape of a content row.
type contentRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	ReadCount int    `json:"read_count"`
	Favorite  bool   `json:"favorite"`
	Archived  bool   `json:"archived"`
	CreatedAt string `json:"created_at"`
}

// itemFromRecord maps the transport shape into the domain shape. Missing
// numeric and boolean fields decode to their zero values, which is exactly
// the defaulting the loader requires.
func itemFromRecord(rec contentRecord) Item {
	return Item{
		ID:        rec.ID,
		Title:     rec.Title,
		Type:      rec.Type,
		Content:   rec.Content,
		ReadCount: rec.ReadCount,
		Favorite:  rec.Favorite,
		Archived:  rec.Archived,
		CreatedAt: rec.CreatedAt,
	}
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) FetchContent(ctx context.Context, deviceID string) ([]Item, error) {
	q := url.Values{}
	if strings.TrimSpace(deviceID) != "" {
		q.Set("deviceId", strings.TrimSpace(deviceID))
	}
	var records []contentRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/content?"+q.Encode(), nil, &records); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, itemFromRecord(rec))
	}
	return items, nil
}

func (c *HTTPClient) CreateContent(ctx context.Context, title, contentType, content string) (Item, error) {
	body := map[string]any{
		"title":   title,
		"type":    contentType,
		"content": content,
	}
	var rec contentRecord
	if err := c.doJSON(ctx, http.MethodPost, "/api/content", body, &rec); err != nil {
		return Item{}, err
	}
	return itemFromRecord(rec), nil
}

func (c *HTTPClient) UpdateContent(ctx context.Context, id int64, title, content string) (Item, error) {
	body := map[string]any{
		"id":      id,
		"title":   title,
		"content": content,
	}
	var rec contentRecord
	if err := c.doJSON(ctx, http.MethodPut, "/api/content", body, &rec); err != nil {
		return Item{}, err
	}
	return itemFromRecord(rec), nil
}

func (c *HTTPClient) UpdateProgress(ctx context.Context, deviceID string, contentID int64, action string, value *ProgressValue) error {
	body := map[string]any{
		"deviceId":  deviceID,
		"contentId": contentID,
		"action":    action,
	}
	if value != nil {
		body["value"] = value
	}
	return c.doJSON(ctx, http.MethodPost, "/api/progress", body, nil)
}

func (c *HTTPClient) SeedContent(ctx context.Context, deviceID string, items []Item) (SeedResult, error) {
	body := map[string]any{
		"items": items,
	}
	if strings.TrimSpace(deviceID) != "" {
		body["deviceId"] = strings.TrimSpace(deviceID)
	}
	var out SeedResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/seed", body, &out); err != nil {
		return SeedResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) ClearContent(ctx context.Context, deviceID string) error {
	q := url.Values{}
	q.Set("deviceId", strings.TrimSpace(deviceID))
	return c.doJSON(ctx, http.MethodDelete, "/api/clear?"+q.Encode(), nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errPayload.Error,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
