package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const tavilyMaxResults = 5

// tavilyClient calls the Tavily search API. It is the primary search
// provider because its key is the required search credential.
type tavilyClient struct {
	apiKey string
	depth  string
	client *http.Client
}

type tavilySearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func newTavilyClient(apiKey, depth string) *tavilyClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if depth == "" {
		depth = "basic"
	}
	return &tavilyClient{
		apiKey: apiKey,
		depth:  depth,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Search posts a query to Tavily, backing off and retrying on 429, and
// returns the top results serialized as JSON for the agent.
func (t *tavilyClient) Search(ctx context.Context, query string) (string, error) {
	body := map[string]any{
		"query":   query,
		"api_key": t.apiKey,
		"depth":   t.depth,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return "", err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", err
	}

	results := make([]tavilySearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, tavilySearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= tavilyMaxResults {
			break
		}
	}
	if len(results) == 0 {
		return "", errors.New("tavily returned no results")
	}
	out, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
