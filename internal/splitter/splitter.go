// Package splitter implements the asynchronous semantic sentence-boundary
// helper described in spec §4.3, invoked when the ASR stream produces long
// unpunctuated runs.
package splitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Splitter proposes semantic sentence boundaries (word indices into the
// given word list) for unpunctuated text.
type Splitter interface {
	Split(ctx context.Context, words []string) ([]int, error)
}

// TriggerWordCount is the remaining_words length that an unpunctuated tail
// must exceed before the Speaker Pipeline dispatches a splitter task, if
// none is already in flight (spec §4.2 step 7).
const TriggerWordCount = 15

// HTTPSplitter calls an external semantic segmentation service.
type HTTPSplitter struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPSplitter(baseURL string) *HTTPSplitter {
	return &HTTPSplitter{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

type splitRequest struct {
	Words []string `json:"words"`
}

type splitResponse struct {
	BoundaryWordIndices []int `json:"boundary_word_indices"`
}

func (s *HTTPSplitter) Split(ctx context.Context, words []string) ([]int, error) {
	body, err := json.Marshal(splitRequest{Words: words})
	if err != nil {
		return nil, fmt.Errorf("splitter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/split", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("splitter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("splitter: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("splitter: status %d", resp.StatusCode)
	}

	var out splitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("splitter: decode response: %w", err)
	}
	return out.BoundaryWordIndices, nil
}
