package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/telemetry"
)

// Classification is the typed result of classifying one complaint.
type Classification struct {
	NormalizedText string           `json:"normalized_text"`
	Title          string           `json:"title"`
	Category       models.Category  `json:"category"`
	Urgency        models.Urgency   `json:"urgency"`
	Sentiment      models.Sentiment `json:"sentiment"`
	Tags           []string         `json:"tags"`
	// Degraded is set when the result is the fallback default.
	Degraded bool `json:"degraded"`
}

// DefaultClassification is the safe result used whenever classification fails.
func DefaultClassification(text string) Classification {
	normalized := strings.Join(strings.Fields(text), " ")
	return Classification{
		NormalizedText: normalized,
		Title:          defaultTitle(normalized),
		Category:       models.CategoryOther,
		Urgency:        models.UrgencyMedium,
		Sentiment:      models.SentimentNeutral,
		Tags:           []string{},
		Degraded:       true,
	}
}

func defaultTitle(text string) string {
	words := strings.Fields(text)
	if len(words) > 8 {
		words = append(words[:8], "...")
	}
	return strings.Join(words, " ")
}

type classificationWire struct {
	NormalizedText string   `json:"normalized_text"`
	Title          string   `json:"title"`
	Category       string   `json:"category"`
	Urgency        string   `json:"urgency"`
	Sentiment      string   `json:"sentiment"`
	Tags           []string `json:"tags"`
}

const classifySystem = `You classify Indonesian citizen complaints for a government review desk.
Answer with one JSON object and nothing else, with exactly these fields:
"normalized_text" (the complaint rewritten as clear, neutral Indonesian),
"title" (at most ten words),
"category" (one of: %s),
"urgency" (low, medium or high),
"sentiment" (positive, negative or neutral),
"tags" (3 to 7 short lowercase keywords, words joined by hyphens).`

// Classifier implements the classification contract on top of a Provider.
type Classifier struct {
	provider Provider
	timeout  time.Duration
	log      logger.Logger
	metrics  *telemetry.Metrics
}

func NewClassifier(p Provider, timeout time.Duration, log logger.Logger, m *telemetry.Metrics) *Classifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Classifier{
		provider: p,
		timeout:  timeout,
		log:      log.With(logger.String("component", "classifier")),
		metrics:  m,
	}
}

// Classify never fails. Timeouts, provider errors and malformed answers all
// yield DefaultClassification.
func (c *Classifier) Classify(ctx context.Context, text, region string) Classification {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Region: %s\n\nComplaint:\n%s", region, text)
	raw, err := c.provider.Complete(ctx, fmt.Sprintf(classifySystem, categoryList()), prompt)
	if err != nil {
		return c.fallback(text, "provider", err)
	}
	result, err := parseClassification(raw)
	if err != nil {
		return c.fallback(text, "decode", err)
	}
	return result
}

func (c *Classifier) fallback(text, stage string, err error) Classification {
	c.log.Warn("classification fell back to default", logger.String("stage", stage), logger.Error(err))
	c.metrics.LLMFallback("classify")
	return DefaultClassification(text)
}

// parseClassification turns a raw answer into a validated Classification.
func parseClassification(raw string) (Classification, error) {
	var w classificationWire
	if err := decodeObject(raw, &w); err != nil {
		return Classification{}, err
	}

	category, ok := models.ParseCategory(w.Category)
	if !ok {
		return Classification{}, fmt.Errorf("unknown category %q", w.Category)
	}
	urgency := models.Urgency(strings.ToLower(strings.TrimSpace(w.Urgency)))
	if !urgency.Valid() {
		return Classification{}, fmt.Errorf("unknown urgency %q", w.Urgency)
	}
	sentiment := models.Sentiment(strings.ToLower(strings.TrimSpace(w.Sentiment)))
	if !sentiment.Valid() {
		return Classification{}, fmt.Errorf("unknown sentiment %q", w.Sentiment)
	}
	normalized := strings.TrimSpace(w.NormalizedText)
	if normalized == "" {
		return Classification{}, fmt.Errorf("empty normalized_text")
	}
	title := strings.TrimSpace(w.Title)
	if title == "" {
		title = defaultTitle(normalized)
	}

	return Classification{
		NormalizedText: normalized,
		Title:          title,
		Category:       category,
		Urgency:        urgency,
		Sentiment:      sentiment,
		Tags:           normalizeTags(w.Tags, config.MaxTags),
	}, nil
}

func categoryList() string {
	names := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
