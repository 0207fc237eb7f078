// Package review integrates the external code-review collaborator. The
// session layer only knows the narrow interface; generation happens in a
// separate service.
package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

var ErrUnavailable = errors.New("code review service is not configured")

// Reviewer produces a review for a code snippet.
type Reviewer interface {
	Review(ctx context.Context, code, language string) (string, error)
}

// HTTPReviewer posts snippets to a configured review endpoint.
type HTTPReviewer struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

var _ Reviewer = (*HTTPReviewer)(nil)

func NewHTTPReviewer(logger *slog.Logger, endpoint, apiKey string, timeout time.Duration) *HTTPReviewer {
	return &HTTPReviewer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(slog.String("component", "reviewer")),
	}
}

type reviewRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type reviewResponse struct {
	Review string `json:"review"`
}

func (r *HTTPReviewer) Review(ctx context.Context, code, language string) (string, error) {
	if r.endpoint == "" {
		return "", ErrUnavailable
	}

	body, err := json.Marshal(reviewRequest{Code: code, Language: language})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("review request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("review service returned status %d", resp.StatusCode)
	}

	var parsed reviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode review response: %w", err)
	}
	if parsed.Review == "" {
		return "", errors.New("review service returned an empty review")
	}
	return parsed.Review, nil
}
