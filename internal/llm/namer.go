package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/telemetry"
)

// Sample is the part of a complaint shown to the model.
type Sample struct {
	Text     string
	Category models.Category
	Region   string
	Tags     []string
}

// SampleOf builds a Sample from a stored complaint.
func SampleOf(c *models.Complaint) Sample {
	text := c.NormalizedText
	if text == "" {
		text = c.RawText
	}
	return Sample{Text: text, Category: c.Category, Region: c.Region, Tags: c.Tags}
}

// ClusterName is the naming collaborator's answer.
type ClusterName struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Degraded    bool     `json:"-"`
}

// ReportInput describes the report being summarized.
type ReportInput struct {
	Category models.Category
	Region   string
	CutoffAt time.Time
}

const nameSystem = `You name groups of similar citizen complaints for government reviewers.
Answer with one JSON object and nothing else, with exactly these fields:
"name" (at most six words, Indonesian), "description" (one sentence),
"keywords" (3 to 7 lowercase keywords).`

const summarySystem = `You write short briefings for government reviewers.
Summarize the complaints below in one Indonesian paragraph of at most five
sentences: the common problem, where it happens and how urgent it looks.
Answer with plain text only.`

// maxSamples bounds how many complaints go into one prompt.
const maxSamples = 20

// Namer names new clusters and summarizes reports.
type Namer struct {
	provider Provider
	timeout  time.Duration
	log      logger.Logger
	metrics  *telemetry.Metrics
}

func NewNamer(p Provider, timeout time.Duration, log logger.Logger, m *telemetry.Metrics) *Namer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Namer{
		provider: p,
		timeout:  timeout,
		log:      log.With(logger.String("component", "namer")),
		metrics:  m,
	}
}

// NameCluster never fails; it falls back to SyntheticClusterName.
func (n *Namer) NameCluster(ctx context.Context, samples []Sample) ClusterName {
	if len(samples) == 0 {
		return SyntheticClusterName(nil)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	raw, err := n.provider.Complete(ctx, nameSystem, renderSamples(samples))
	if err != nil {
		return n.nameFallback(samples, err)
	}
	var name ClusterName
	if err := decodeObject(raw, &name); err != nil {
		return n.nameFallback(samples, err)
	}
	name.Name = strings.TrimSpace(name.Name)
	name.Description = strings.TrimSpace(name.Description)
	if name.Name == "" {
		return n.nameFallback(samples, fmt.Errorf("empty cluster name"))
	}
	name.Keywords = normalizeTags(name.Keywords, config.MaxTags)
	if len(name.Keywords) == 0 {
		name.Keywords = topTags(samples, config.MaxTags)
	}
	return name
}

func (n *Namer) nameFallback(samples []Sample, err error) ClusterName {
	n.log.Warn("cluster naming fell back to synthetic name", logger.Error(err))
	n.metrics.LLMFallback("name_cluster")
	return SyntheticClusterName(samples)
}

// SyntheticClusterName derives a deterministic name from the category and
// region of the first sample.
func SyntheticClusterName(samples []Sample) ClusterName {
	if len(samples) == 0 {
		return ClusterName{Name: models.CategoryOther.Label(), Description: "Uncategorized complaints", Degraded: true}
	}
	first := samples[0]
	name := first.Category.Label()
	if first.Region != "" {
		name = fmt.Sprintf("%s - %s", name, first.Region)
	}
	return ClusterName{
		Name:        name,
		Description: fmt.Sprintf("Complaints about %s in %s", strings.ToLower(first.Category.Label()), regionOrUnknown(first.Region)),
		Keywords:    topTags(samples, config.MaxTags),
		Degraded:    true,
	}
}

// SummarizeReport never fails; it falls back to FallbackSummary.
func (n *Namer) SummarizeReport(ctx context.Context, report ReportInput, samples []Sample) string {
	if len(samples) == 0 {
		return FallbackSummary(report, samples)
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Category: %s\nRegion: %s\nComplaints up to %s:\n\n%s",
		report.Category, report.Region, report.CutoffAt.Format(time.RFC3339), renderSamples(samples))
	raw, err := n.provider.Complete(ctx, summarySystem, prompt)
	summary := strings.TrimSpace(raw)
	if err == nil && summary == "" {
		err = fmt.Errorf("empty summary")
	}
	if err != nil {
		n.log.Warn("report summary fell back to template", logger.Error(err))
		n.metrics.LLMFallback("summarize_report")
		return FallbackSummary(report, samples)
	}
	return summary
}

// FallbackSummary is a deterministic summary built from counts and tags.
func FallbackSummary(report ReportInput, samples []Sample) string {
	s := fmt.Sprintf("%d complaints about %s in %s up to %s.",
		len(samples), strings.ToLower(report.Category.Label()), regionOrUnknown(report.Region),
		report.CutoffAt.Format("2006-01-02 15:04"))
	if tags := topTags(samples, 5); len(tags) > 0 {
		s += " Most frequent tags: " + strings.Join(tags, ", ") + "."
	}
	return s
}

func renderSamples(samples []Sample) string {
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	var b strings.Builder
	for i, s := range samples {
		fmt.Fprintf(&b, "%d. [%s, %s] %s", i+1, s.Category, s.Region, s.Text)
		if len(s.Tags) > 0 {
			fmt.Fprintf(&b, " (tags: %s)", strings.Join(s.Tags, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// topTags returns the most frequent tags, ties broken alphabetically.
func topTags(samples []Sample, limit int) []string {
	counts := make(map[string]int)
	for _, s := range samples {
		for _, t := range normalizeTags(s.Tags, len(s.Tags)) {
			counts[t]++
		}
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

func regionOrUnknown(r string) string {
	if strings.TrimSpace(r) == "" {
		return "an unspecified region"
	}
	return r
}
