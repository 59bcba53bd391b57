// Package identify confirms who an uploaded photo depicts. One verdict is
// composed of two external calls behind a single gateway operation: a
// reverse image search over the stored photo's URL, and a language-model
// reconciliation of the search signals against the uploader's claim.
package identify

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

//go:embed prompts/identify_header.txt
var identifyHeaderPrompt string

//go:embed prompts/identify_rules.txt
var identifyRulesPrompt string

const unknownField = "unknown"

// Verdict is the gateway's answer for one image.
type Verdict struct {
	ImageURL    string        `json:"image_url"`
	StorageKey  string        `json:"storage_key,omitempty"`
	Titles      []string      `json:"titles"`
	Queries     []string      `json:"queries"`
	RawAnalysis string        `json:"raw_analysis"`
	Person      string        `json:"identified_person"`
	Group       string        `json:"identified_group"`
	Matched     bool          `json:"matched"`
	Reason      string        `json:"match_reason"`
	Elapsed     time.Duration `json:"-"`
}

// Gateway identifies the person depicted by an image. Errors are transport
// or model failures; an unrecognized person is a verdict, not an error.
type Gateway interface {
	IdentifyUpload(ctx context.Context, data []byte, contentType, fileName, groupHint, personHint string) (*Verdict, error)
	IdentifyURL(ctx context.Context, imageURL, groupHint, personHint string) (*Verdict, error)
}

// ObjectStore is the slice of the storage layer the gateway needs.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, contentType, fileName string) (key, publicURL string, err error)
	Remove(ctx context.Context, key string) error
}

// Service is the production Gateway: object storage + lens search + chat
// reconciliation.
type Service struct {
	lens        *LensClient
	chat        *ChatClient
	objects     ObjectStore
	maxFileSize int64
}

func NewService(lens *LensClient, chat *ChatClient, objects ObjectStore, maxFileSize int64) *Service {
	return &Service{
		lens:        lens,
		chat:        chat,
		objects:     objects,
		maxFileSize: maxFileSize,
	}
}

// IdentifyUpload stores the image bytes, identifies the person from the
// stored URL, and removes the object again when the verdict is a non-match
// or the pipeline errors out. The URL stays in the verdict either way.
func (s *Service) IdentifyUpload(ctx context.Context, data []byte, contentType, fileName, groupHint, personHint string) (*Verdict, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	if s.maxFileSize > 0 && int64(len(data)) > s.maxFileSize {
		return nil, fmt.Errorf("file exceeds %d byte limit", s.maxFileSize)
	}

	key, publicURL, err := s.objects.Put(ctx, data, contentType, fileName)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	verdict, err := s.IdentifyURL(ctx, publicURL, groupHint, personHint)
	if err != nil {
		s.removeObject(ctx, key)
		return nil, err
	}
	verdict.StorageKey = key

	if !verdict.Matched {
		// Non-matching uploads are not kept in object storage.
		s.removeObject(ctx, key)
		verdict.StorageKey = ""
	}

	return verdict, nil
}

// IdentifyURL runs the search + reconciliation flow for an already
// reachable image URL.
func (s *Service) IdentifyURL(ctx context.Context, imageURL, groupHint, personHint string) (*Verdict, error) {
	start := time.Now()

	search, err := s.lens.Search(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}

	if search.Empty() {
		// Nothing to reconcile; that's a non-match, not a failure.
		return &Verdict{
			ImageURL:    imageURL,
			Titles:      []string{},
			Queries:     []string{},
			RawAnalysis: `{"name": "unknown", "group_name": "unknown", "is_match": false, "match_reason": "no data extracted from image search"}`,
			Person:      unknownField,
			Group:       unknownField,
			Matched:     false,
			Reason:      "image search produced no identification signals",
			Elapsed:     time.Since(start),
		}, nil
	}

	prompt := buildIdentificationPrompt(search.Titles, search.Queries, groupHint, personHint)
	answer, err := s.chat.CompleteJSON(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reconcile search results: %w", err)
	}

	verdict := parseVerdict(answer)
	verdict.ImageURL = imageURL
	verdict.Titles = search.Titles
	verdict.Queries = search.Queries
	verdict.Elapsed = time.Since(start)

	return verdict, nil
}

func (s *Service) removeObject(ctx context.Context, key string) {
	if err := s.objects.Remove(ctx, key); err != nil {
		slog.Warn("remove stored image", "key", key, "error", err)
	}
}

func buildIdentificationPrompt(titles, queries []string, groupHint, personHint string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(identifyHeaderPrompt))
	b.WriteString("\n\n")

	if len(titles) > 0 {
		b.WriteString("Search result titles:\n")
		for _, t := range titles {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	if len(queries) > 0 {
		b.WriteString("Related queries:\n")
		for _, q := range queries {
			fmt.Fprintf(&b, "- %s\n", q)
		}
		b.WriteString("\n")
	}

	if strings.TrimSpace(personHint) != "" || strings.TrimSpace(groupHint) != "" {
		b.WriteString("User's favorite:\n")
		if strings.TrimSpace(personHint) != "" {
			fmt.Fprintf(&b, "- Favorite person: %s\n", personHint)
		}
		if strings.TrimSpace(groupHint) != "" {
			fmt.Fprintf(&b, "- Favorite group: %s\n", groupHint)
		}
		b.WriteString("\n")
	}

	b.WriteString(strings.TrimSpace(identifyRulesPrompt))
	return b.String()
}

type verdictJSON struct {
	Name        string `json:"name"`
	GroupName   string `json:"group_name"`
	IsMatch     bool   `json:"is_match"`
	MatchReason string `json:"match_reason"`
}

// parseVerdict extracts the verdict fields from a model answer. The model
// is instructed to return bare JSON, but code fences and surrounding prose
// are tolerated.
func parseVerdict(answer string) *Verdict {
	raw := answer

	cleaned := answer
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var parsed verdictJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		slog.Warn("unparseable identification answer", "error", err)
		return &Verdict{
			RawAnalysis: raw,
			Person:      unknownField,
			Group:       unknownField,
			Matched:     false,
			Reason:      "could not parse identification answer",
		}
	}

	v := &Verdict{
		RawAnalysis: raw,
		Person:      strings.TrimSpace(parsed.Name),
		Group:       strings.TrimSpace(parsed.GroupName),
		Matched:     parsed.IsMatch,
		Reason:      strings.TrimSpace(parsed.MatchReason),
	}
	if v.Person == "" {
		v.Person = unknownField
	}
	if v.Group == "" {
		v.Group = unknownField
	}
	return v
}
