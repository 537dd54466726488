package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"idxwatch/internal/config"
	apperrors "idxwatch/internal/errors"
	"idxwatch/pkg/contracts/domain"
)

// maxStoreResponseBytes caps result-listing payloads.
const maxStoreResponseBytes = 64 << 20

// RemoteStore talks to the result service over its JSON API.
type RemoteStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteStore builds a store client from configuration.
func NewRemoteStore(cfg config.StoreConfig, logger *slog.Logger) *RemoteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteStore{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: logger.With(slog.String("component", "store")),
	}
}

func (s *RemoteStore) Save(ctx context.Context, res *domain.Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", res.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/results", bytes.NewReader(body))
	if err != nil {
		return NewStoreError("save", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return NewStoreError("save", fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return NewStoreError("save", fmt.Errorf("%w: result service returned %d", apperrors.ErrStoreUnavailable, resp.StatusCode))
	}

	s.logger.DebugContext(ctx, "result persisted",
		slog.String("result_id", res.ID.String()),
		slog.String("table", string(res.Table)))
	return nil
}

func (s *RemoteStore) Recent(ctx context.Context, limit int) ([]*domain.Result, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return s.list(ctx, "recent", q)
}

func (s *RemoteStore) Since(ctx context.Context, cutoff time.Time) ([]*domain.Result, error) {
	q := url.Values{}
	q.Set("since", cutoff.UTC().Format(time.RFC3339))
	return s.list(ctx, "since", q)
}

func (s *RemoteStore) list(ctx context.Context, op string, q url.Values) ([]*domain.Result, error) {
	u := s.baseURL + "/api/results"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, NewStoreError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, NewStoreError(op, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, NewStoreError(op, fmt.Errorf("%w: result service returned %d", apperrors.ErrStoreUnavailable, resp.StatusCode))
	}

	var payload struct {
		Results []*domain.Result `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStoreResponseBytes)).Decode(&payload); err != nil {
		return nil, NewStoreError(op, fmt.Errorf("decoding result listing: %w", err))
	}
	return payload.Results, nil
}
