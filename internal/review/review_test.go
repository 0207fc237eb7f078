package review_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sameer2210/CodeX-sub000/internal/review"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestReviewSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Code     string `json:"code"`
			Language string `json:"language"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "go", req.Language)

		json.NewEncoder(w).Encode(map[string]string{"review": "looks good"})
	}))
	defer srv.Close()

	r := review.NewHTTPReviewer(newTestLogger(), srv.URL, "test-key", time.Second)
	out, err := r.Review(context.Background(), "package main", "go")
	require.NoError(t, err)
	require.Equal(t, "looks good", out)
}

func TestReviewServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := review.NewHTTPReviewer(newTestLogger(), srv.URL, "", time.Second)
	_, err := r.Review(context.Background(), "code", "go")
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}

func TestReviewUnconfigured(t *testing.T) {
	r := review.NewHTTPReviewer(newTestLogger(), "", "", time.Second)
	_, err := r.Review(context.Background(), "code", "go")
	require.ErrorIs(t, err, review.ErrUnavailable)
}
