package directus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// JobDescription is the enrichment record an automated agent fills in while
// it sits on a call. Array-typed fields travel over the wire as JSON-encoded
// strings and are normalized here, at the boundary, so the rest of the
// engine only ever sees canonical slices.
type JobDescription struct {
	ID          string
	Title       string
	CompanyName string
	Seniority   string
	Location    string
	Summary     string
	Skills      []string
	Languages   []string
	Benefits    []string
}

func (c *Client) getJobDescription(ctx context.Context, id string) (*JobDescription, error) {
	if id == "" {
		return nil, fmt.Errorf("job description id is required")
	}

	var raw map[string]any
	path := fmt.Sprintf("/items/%s/%s", CollectionJobDescription, url.PathEscape(id))
	if err := c.getJSON(ctx, path, nil, &raw); err != nil {
		return nil, err
	}

	jd := ParseJobDescription(raw, c.logger)
	return &jd, nil
}

func (c *Client) patchItem(ctx context.Context, collection, id string, fields map[string]any) error {
	if id == "" {
		return fmt.Errorf("item id is required")
	}

	path := fmt.Sprintf("/items/%s/%s", collection, url.PathEscape(id))
	return c.patchJSON(ctx, path, fields)
}

// ParseJobDescription normalizes a raw Directus record into a JobDescription.
// Unspecified fields come back as empty strings or empty slices, never nil.
func ParseJobDescription(raw map[string]any, logger *zap.Logger) JobDescription {
	if raw == nil {
		raw = map[string]any{}
	}

	return JobDescription{
		ID:          valueAsString(raw["id"]),
		Title:       valueAsString(raw["title"]),
		CompanyName: valueAsString(raw["company_name"]),
		Seniority:   valueAsString(raw["seniority"]),
		Location:    valueAsString(raw["location"]),
		Summary:     valueAsString(raw["summary"]),
		Skills:      DecodeStringList(raw["skills"], "skills", logger),
		Languages:   DecodeStringList(raw["languages"], "languages", logger),
		Benefits:    DecodeStringList(raw["benefits"], "benefits", logger),
	}
}

// PatchPayload converts the description back into the wire shape, with
// array-typed fields JSON-encoded as the backend expects.
func (jd *JobDescription) PatchPayload() map[string]any {
	return map[string]any{
		"title":        jd.Title,
		"company_name": jd.CompanyName,
		"seniority":    jd.Seniority,
		"location":     jd.Location,
		"summary":      jd.Summary,
		"skills":       encodeStringList(jd.Skills),
		"languages":    encodeStringList(jd.Languages),
		"benefits":     encodeStringList(jd.Benefits),
	}
}

// DecodeStringList accepts the three forms an array-typed field can arrive
// in (absent, already an array, or a JSON-encoded string) and returns a
// canonical slice. A malformed JSON string yields an empty list and a
// warning; one bad field must not block the rest of the record.
func DecodeStringList(v any, field string, logger *zap.Logger) []string {
	switch typed := v.(type) {
	case nil:
		return []string{}
	case []string:
		out := make([]string, 0, len(typed))
		return append(out, typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, valueAsString(item))
		}
		return out
	case string:
		if typed == "" {
			return []string{}
		}
		var out []string
		if err := json.Unmarshal([]byte(typed), &out); err != nil {
			if logger != nil {
				logger.Warn("malformed list field, substituting empty list",
					zap.String("field", field),
					zap.Error(err),
				)
			}
			return []string{}
		}
		if out == nil {
			out = []string{}
		}
		return out
	default:
		if logger != nil {
			logger.Warn("unexpected list field type, substituting empty list",
				zap.String("field", field),
				zap.String("type", fmt.Sprintf("%T", v)),
			)
		}
		return []string{}
	}
}

func encodeStringList(values []string) string {
	if values == nil {
		values = []string{}
	}

	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}

	return string(encoded)
}

func valueAsString(v any) string {
	if v == nil {
		return ""
	}

	switch typed := v.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	case fmt.Stringer:
		return typed.String()
	case float64:
		// Directus numeric ids decode as float64; render without exponent.
		return trimFloat(typed)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}

	return fmt.Sprintf("%v", f)
}
