package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/your-org/fanarchive/internal/config"
)

const (
	// maxTitles and maxQueries bound how much search noise reaches the
	// reconciliation model.
	maxTitles  = 20
	maxQueries = 5
)

// LensClient queries the google_lens engine of the SerpApi search service
// for pages visually matching an image URL.
type LensClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewLensClient(cfg config.LensConfig) *LensClient {
	return &LensClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// LensResult holds the identification signals extracted from a search
// response: titles of visually matching pages and related search queries.
type LensResult struct {
	Titles  []string
	Queries []string
}

// Empty reports whether the search produced no usable signals.
func (r *LensResult) Empty() bool {
	return len(r.Titles) == 0 && len(r.Queries) == 0
}

type lensResponse struct {
	VisualMatches []struct {
		Title string `json:"title"`
	} `json:"visual_matches"`
	RelatedContent []struct {
		Query string `json:"query"`
	} `json:"related_content"`
	Error string `json:"error"`
}

// Search runs a reverse image search for the given image URL.
func (c *LensClient) Search(ctx context.Context, imageURL string) (*LensResult, error) {
	params := url.Values{}
	params.Set("engine", "google_lens")
	params.Set("url", imageURL)
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build lens request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call lens api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read lens response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lens api status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed lensResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse lens response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("lens api error: %s", parsed.Error)
	}

	result := &LensResult{}
	for _, m := range parsed.VisualMatches {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			continue
		}
		result.Titles = append(result.Titles, title)
		if len(result.Titles) == maxTitles {
			break
		}
	}
	for _, rc := range parsed.RelatedContent {
		query := strings.TrimSpace(rc.Query)
		if query == "" {
			continue
		}
		result.Queries = append(result.Queries, query)
		if len(result.Queries) == maxQueries {
			break
		}
	}

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
