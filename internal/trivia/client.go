package trivia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is a Source backed by the trivia-generation service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type questionsRequest struct {
	Topic       string `json:"topic"`
	Difficulty  string `json:"difficulty"`
	Count       int    `json:"count"`
	RequesterID string `json:"requesterId"`
}

type questionsResponse struct {
	Questions []Question `json:"questions"`
}

func (c *Client) Questions(ctx context.Context, topic, difficulty string, count int, requesterID string) ([]Question, error) {
	if count <= 0 || count > MaxBatch {
		count = MaxBatch
	}
	body, err := json.Marshal(questionsRequest{
		Topic:       topic,
		Difficulty:  difficulty,
		Count:       count,
		RequesterID: requesterID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding questions request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/questions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building questions request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trivia service returned status %d", resp.StatusCode)
	}

	var decoded questionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding questions response: %w", err)
	}
	if len(decoded.Questions) == 0 {
		return nil, fmt.Errorf("trivia service returned no questions")
	}
	return decoded.Questions, nil
}
