package guidance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

const maxSuggestions = 4

// ResultSummary is the metadata of one top result. Guides see nothing else, so they
// cannot invent content the library does not have.
type ResultSummary struct {
	Title     string   `json:"title"`
	Topic     string   `json:"topic,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type Input struct {
	Query   string          `json:"query"`
	Results []ResultSummary `json:"results"`
}

type Guidance struct {
	Text             string   `json:"guidance"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// Guide writes next-step advice for a search.
type Guide interface {
	Suggest(ctx context.Context, in Input) (Guidance, error)
}

// Completer sends a prompt to a chat model and returns its JSON reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const chatSystemPrompt = `You help learners navigate a library of instructional videos.
You receive a search query and metadata of the top matching clips.
Reply with a JSON object {"guidance": string, "suggested_queries": [string]}.
"guidance" is at most two sentences pointing the learner to the most useful clip.
"suggested_queries" holds up to 4 short follow-up searches.
Only mention titles, topics and timestamps that appear in the input.`

// ChatGuide asks a language model for guidance.
type ChatGuide struct {
	completer Completer
}

func NewChatGuide(completer Completer) *ChatGuide {
	return &ChatGuide{completer: completer}
}

func (g *ChatGuide) Suggest(ctx context.Context, in Input) (Guidance, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Guidance{}, fmt.Errorf("failed to encode guide input: %w", err)
	}

	reply, err := g.completer.Complete(ctx, chatSystemPrompt, string(payload))
	if err != nil {
		return Guidance{}, err
	}

	var out Guidance
	if err := json.Unmarshal([]byte(reply), &out); err != nil {
		return Guidance{}, fmt.Errorf("failed to decode guide reply: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return Guidance{}, errors.New("guide returned no guidance")
	}
	out.SuggestedQueries = cleanSuggestions(in.Query, out.SuggestedQueries)
	return out, nil
}

// TemplateGuide builds guidance from the result metadata alone.
type TemplateGuide struct{}

func (TemplateGuide) Suggest(_ context.Context, in Input) (Guidance, error) {
	query := strings.TrimSpace(in.Query)
	if len(in.Results) == 0 {
		return Guidance{
			Text:             fmt.Sprintf("No clips matched %q. Try broader wording or remove filters.", query),
			SuggestedQueries: cleanSuggestions(query, broaden(query)),
		}, nil
	}

	top := in.Results[0]
	var b strings.Builder
	fmt.Fprintf(&b, "Start with %q", top.Title)
	if top.Timestamp != "" {
		fmt.Fprintf(&b, " at %s", top.Timestamp)
	}
	b.WriteString(".")
	if len(in.Results) > 1 && in.Results[1].Title != top.Title {
		fmt.Fprintf(&b, " %q covers related material.", in.Results[1].Title)
	}

	var suggestions []string
	for _, r := range in.Results {
		for _, tag := range r.Tags {
			if !strings.Contains(strings.ToLower(query), strings.ToLower(tag)) {
				suggestions = append(suggestions, query+" "+tag)
			}
		}
		if r.Topic != "" {
			suggestions = append(suggestions, r.Topic)
		}
	}

	return Guidance{
		Text:             b.String(),
		SuggestedQueries: cleanSuggestions(query, suggestions),
	}, nil
}

// broaden drops the last word of multi-word queries.
func broaden(query string) []string {
	words := strings.Fields(query)
	var out []string
	for i := len(words) - 1; i > 0; i-- {
		out = append(out, strings.Join(words[:i], " "))
	}
	return out
}

// Fallback uses Secondary whenever Primary fails.
type Fallback struct {
	Primary   Guide
	Secondary Guide
}

func (f Fallback) Suggest(ctx context.Context, in Input) (Guidance, error) {
	if f.Primary != nil {
		out, err := f.Primary.Suggest(ctx, in)
		if err == nil {
			return out, nil
		}
		log.Printf("guidance: primary guide failed, using template: %v", err)
	}
	return f.Secondary.Suggest(ctx, in)
}

func cleanSuggestions(query string, in []string) []string {
	seen := map[string]struct{}{strings.ToLower(strings.TrimSpace(query)): {}}
	out := []string{}
	for _, s := range in {
		s = strings.Join(strings.Fields(s), " ")
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
