package ranking

import (
	"strings"

	"github.com/cloo-solutions/clipfinder/internal/catalog"
	"github.com/cloo-solutions/clipfinder/internal/domain"
)

const (
	defaultSnippetMaxChars = 220
	snippetLeadChars       = 60
	maxDocumentBodyChars   = 4000
)

// Query is a parsed search string.
type Query struct {
	Raw    string
	Phrase string
	Terms  []string
}

// ParseQuery lowercases and tokenizes q.
func ParseQuery(q string) Query {
	return Query{
		Raw:    q,
		Phrase: strings.Join(strings.Fields(strings.ToLower(q)), " "),
		Terms:  catalog.Terms(q),
	}
}

// FieldWeights sets how much a term hit in each field is worth.
type FieldWeights struct {
	Title    float64
	Tags     float64
	Topic    float64
	Category float64
	Body     float64
}

func DefaultFieldWeights() FieldWeights {
	return FieldWeights{Title: 3, Tags: 2, Topic: 2, Category: 1, Body: 1}
}

func (f FieldWeights) total() float64 {
	return f.Title + f.Tags + f.Topic + f.Category + f.Body
}

type fieldHit struct {
	field string
	terms []string
}

// lexicalVideo scores substring hits across metadata fields, normalized per term
// and averaged over the term count. A full-phrase title hit adds phraseBonus.
func lexicalVideo(q Query, v *domain.VideoRecord, fw FieldWeights, phraseBonus float64) (float64, []fieldHit) {
	if len(q.Terms) == 0 {
		return 0, nil
	}
	title := strings.ToLower(v.Title)
	tags := strings.ToLower(strings.Join(v.Tags, " "))
	topic := strings.ToLower(v.Topic)
	category := strings.ToLower(v.Category)
	body := strings.ToLower(v.TranscriptText)

	fields := []struct {
		name   string
		text   string
		weight float64
	}{
		{"title", title, fw.Title},
		{"tags", tags, fw.Tags},
		{"topic", topic, fw.Topic},
		{"category", category, fw.Category},
		{"transcript", body, fw.Body},
	}

	total := fw.total()
	if total <= 0 {
		return 0, nil
	}

	hits := make([]fieldHit, len(fields))
	var sum float64
	for _, term := range q.Terms {
		var termScore float64
		for i, f := range fields {
			if f.text != "" && strings.Contains(f.text, term) {
				termScore += f.weight
				hits[i].terms = append(hits[i].terms, term)
			}
		}
		sum += termScore / total
	}
	score := sum / float64(len(q.Terms))
	if len(q.Terms) > 1 && q.Phrase != "" && strings.Contains(title, q.Phrase) {
		score += phraseBonus
	}

	var matched []fieldHit
	for i, f := range fields {
		if len(hits[i].terms) > 0 {
			matched = append(matched, fieldHit{field: f.name, terms: hits[i].terms})
		}
	}
	return clamp01(score), matched
}

// lexicalText is the fraction of query terms present in text, plus phraseBonus when
// the whole phrase occurs.
func lexicalText(q Query, text string, phraseBonus float64) (float64, []string) {
	if len(q.Terms) == 0 || text == "" {
		return 0, nil
	}
	lower := strings.ToLower(text)
	var found []string
	for _, term := range q.Terms {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	score := float64(len(found)) / float64(len(q.Terms))
	if len(q.Terms) > 1 && q.Phrase != "" && strings.Contains(lower, q.Phrase) {
		score += phraseBonus
	}
	return clamp01(score), found
}

// DocumentText is the video-level text that gets embedded.
func DocumentText(v *domain.VideoRecord) string {
	parts := []string{v.Title, v.Topic, v.Category}
	if len(v.Tags) > 0 {
		parts = append(parts, strings.Join(v.Tags, " "))
	}
	if body := strings.TrimSpace(v.TranscriptText); body != "" {
		runes := []rune(body)
		if len(runes) > maxDocumentBodyChars {
			runes = runes[:maxDocumentBodyChars]
		}
		parts = append(parts, string(runes))
	}
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// makeSnippet collapses whitespace and cuts a window around the first term hit.
func makeSnippet(content string, terms []string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return ""
	}
	runes := []rune(clean)
	if len(runes) <= defaultSnippetMaxChars {
		return clean
	}

	start := 0
	lower := strings.ToLower(clean)
	for _, term := range terms {
		if idx := strings.Index(lower, term); idx >= 0 {
			start = len([]rune(lower[:idx])) - snippetLeadChars
			break
		}
	}
	if start < 0 {
		start = 0
	}
	if start > len(runes)-defaultSnippetMaxChars {
		start = len(runes) - defaultSnippetMaxChars
	}
	for start > 0 && runes[start-1] != ' ' {
		start--
	}

	end := start + defaultSnippetMaxChars - 3
	if end > len(runes) {
		end = len(runes)
	}
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
