package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bounteer/jobsync/internal/ai"
	"github.com/bounteer/jobsync/internal/directus"
	"github.com/bounteer/jobsync/internal/logger"
	"go.uber.org/zap"
)

const defaultMaxLogLength = 200

const drafterSystemPrompt = `You draft candidate search queries for a recruiting platform.
Given a job description as JSON, respond with a JSON object of the form
{"query": "<free-text search query>"}.
The query must be a single line combining the most selective skills, the
seniority and the location. Do not include explanations or markdown.`

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Drafter produces a search query suggestion from a job description.
type Drafter struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewDrafter(generator contentGenerator, log *zap.Logger, maxLogLength int) *Drafter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Drafter{
		generator: generator,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

func (d *Drafter) Draft(ctx context.Context, jd *directus.JobDescription) (*ai.QueryDraft, error) {
	if jd == nil {
		return nil, fmt.Errorf("job description is required")
	}

	payload, err := json.MarshalIndent(jd, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job description: %w", err)
	}

	d.logger.Debug("gemini draft query request",
		zap.String("resource_id", jd.ID),
		zap.String("model", d.generator.Model()),
		zap.Int("payload_length", utf8.RuneCountInString(string(payload))),
		zap.String("payload_preview", logger.TruncateForLog(string(payload), d.maxLogLen)),
	)

	raw, err := d.generator.GenerateContent(ctx, drafterSystemPrompt, string(payload))
	if err != nil {
		return nil, err
	}

	d.logger.Debug("gemini draft query response",
		zap.String("resource_id", jd.ID),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, d.maxLogLen)),
	)

	query, err := parseDraftResponse(raw)
	if err != nil {
		return nil, err
	}

	return &ai.QueryDraft{Query: query, Raw: raw}, nil
}

func parseDraftResponse(raw string) (string, error) {
	cleaned := extractJSON(raw)

	var data struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(cleaned), &data); err == nil {
		if query := strings.TrimSpace(data.Query); query != "" {
			return query, nil
		}
		return "", fmt.Errorf("gemini response contains no query")
	}

	// Not JSON. Some model configurations answer with the bare query text;
	// take the first non-empty line.
	for _, line := range strings.Split(cleaned, "\n") {
		if line = strings.Trim(strings.TrimSpace(line), `"`); line != "" {
			return line, nil
		}
	}

	return "", fmt.Errorf("gemini response contains no query")
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
