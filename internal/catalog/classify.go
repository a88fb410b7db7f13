package catalog

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Derived holds metadata inferred from a file name.
type Derived struct {
	Title       string
	Category    string
	Topic       string
	Difficulty  string
	VersionTags []string
	Tags        []string
}

const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"

	CategoryGeneral = "general"
)

type categoryRule struct {
	category string
	keywords []string
}

// Rules are checked in order; the first keyword hit wins.
var categoryRules = []categoryRule{
	{"original-languages", []string{"word study", "greek", "hebrew", "aramaic", "lexicon", "morphology", "interlinear"}},
	{"bible-study", []string{"exegesis", "passage", "commentary", "sermon", "bible study", "cross reference"}},
	{"theology", []string{"theology", "doctrine", "systematic", "church history"}},
	{"getting-started", []string{"getting started", "setup", "install", "tour", "first steps", "welcome"}},
	{"workflow", []string{"workflow", "workflows", "layout", "layouts", "shortcut", "shortcuts", "search", "searching",
		"note", "notes", "highlight", "highlights", "highlighting", "sync", "syncing"}},
}

var (
	beginnerMarkers = []string{"beginner", "intro", "introduction", "basics", "getting started", "101", "fundamentals"}
	advancedMarkers = []string{"advanced", "deep dive", "masterclass", "expert", "power user"}

	versionRe     = regexp.MustCompile(`(?i)\bv(\d+(?:\.\d+)*)\b`)
	yearRe        = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	leadingNumRe  = regexp.MustCompile(`^\d+[\s._-]+`)
	separatorRe   = regexp.MustCompile(`[\s_\-.]+`)
	nonSlugRe     = regexp.MustCompile(`[^a-z0-9]+`)
	accentRemover = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "into": {}, "your": {},
	"you": {}, "how": {}, "what": {}, "why": {}, "use": {}, "using": {}, "part": {},
	"lesson": {}, "video": {}, "about": {}, "this": {}, "that": {}, "are": {}, "can": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "an": {}, "is": {}, "it": {}, "do": {},
	"at": {}, "by": {}, "or": {}, "my": {}, "me": {}, "we": {},
}

// IsStopword reports whether term carries no retrieval signal.
func IsStopword(term string) bool {
	_, ok := stopwords[term]
	return ok
}

// Classify derives title, category, topic, difficulty, version tags and tags from a
// file name such as "03_Greek_Word_Study_Basics_v10.mp4".
func Classify(fileName string) Derived {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	base = leadingNumRe.ReplaceAllString(strings.ReplaceAll(base, "_", " "), "")
	spaced := strings.TrimSpace(separatorRe.ReplaceAllString(protectVersions(base), " "))
	spaced = restoreVersions(spaced)
	lower := strings.ToLower(spaced)

	d := Derived{
		Title:      titleFor(spaced),
		Category:   CategoryGeneral,
		Difficulty: DifficultyIntermediate,
	}

	for _, rule := range categoryRules {
		if containsAny(lower, rule.keywords) {
			d.Category = rule.category
			break
		}
	}

	switch {
	case containsAny(lower, advancedMarkers):
		d.Difficulty = DifficultyAdvanced
	case containsAny(lower, beginnerMarkers):
		d.Difficulty = DifficultyBeginner
	}

	seen := map[string]struct{}{}
	for _, m := range versionRe.FindAllStringSubmatch(spaced, -1) {
		tag := "v" + m[1]
		if _, ok := seen[tag]; !ok {
			seen[tag] = struct{}{}
			d.VersionTags = append(d.VersionTags, tag)
		}
	}
	for _, y := range yearRe.FindAllString(spaced, -1) {
		if _, ok := seen[y]; !ok {
			seen[y] = struct{}{}
			d.VersionTags = append(d.VersionTags, y)
		}
	}

	d.Topic = topicFor(lower)
	d.Tags = tagsFor(lower)
	return d
}

// Slug returns an ASCII, dash-separated identifier for s.
func Slug(s string) string {
	folded, _, err := transform.String(accentRemover, s)
	if err != nil {
		folded = s
	}
	slug := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(folded), "-"), "-")
	if slug == "" {
		return "video"
	}
	return slug
}

// Terms splits text into lowercase alphanumeric terms, dropping stopwords and
// single-character tokens.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 || IsStopword(f) {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Dots inside version numbers would otherwise be treated as separators.
func protectVersions(s string) string {
	return versionRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "\x00")
	})
}

func restoreVersions(s string) string {
	return strings.ReplaceAll(s, "\x00", ".")
}

func titleFor(spaced string) string {
	caser := cases.Title(language.English)
	words := strings.Fields(spaced)
	for i, w := range words {
		if versionRe.MatchString(w) {
			words[i] = strings.ToLower(w)
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

func topicFor(lower string) string {
	cleaned := versionRe.ReplaceAllString(lower, " ")
	cleaned = yearRe.ReplaceAllString(cleaned, " ")
	single := map[string]struct{}{}
	for _, marker := range append(append([]string{}, beginnerMarkers...), advancedMarkers...) {
		if strings.Contains(marker, " ") {
			cleaned = strings.ReplaceAll(cleaned, marker, " ")
		} else {
			single[marker] = struct{}{}
		}
	}
	var kept []string
	for _, w := range strings.Fields(cleaned) {
		if _, ok := single[w]; !ok {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func tagsFor(lower string) []string {
	const maxTags = 12
	var tags []string
	for _, term := range Terms(lower) {
		if len(term) < 3 || isDigits(term) || versionRe.MatchString(term) {
			continue
		}
		tags = append(tags, term)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// containsAny reports whether any needle occurs in s as whole words, so "research"
// never matches "search".
func containsAny(s string, needles []string) bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, n := range needles {
		if strings.Contains(padded, " "+n+" ") {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
