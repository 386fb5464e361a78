package progress

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/samber/lo"
)

// Source records which step of the resolution cascade picked a topic.
type Source string

const (
	SourceNone      Source = ""
	SourceExplicit  Source = "explicit"
	SourceStageKey  Source = "stage_key"
	SourceCategory  Source = "category"
	SourceHeuristic Source = "heuristic"
	SourceDefault   Source = "default"
)

// stageTopics maps backend stage keys (normalized) to topics.
var stageTopics = map[string]Topic{
	"show_metadata":       TopicShows,
	"show_links":          TopicShows,
	"sync_show":           TopicShows,
	"tmdb_show":           TopicShows,
	"imdb_show":           TopicShows,
	"sync_seasons":        TopicSeasons,
	"season_sync":         TopicSeasons,
	"season_metadata":     TopicSeasons,
	"sync_episodes":       TopicEpisodes,
	"episode_sync":        TopicEpisodes,
	"season_episode_sync": TopicEpisodes,
	"episode_metadata":    TopicEpisodes,
	"cast_credits_sync":   TopicPeople,
	"sync_cast":           TopicPeople,
	"cast_profiles":       TopicPeople,
	"person_bio":          TopicPeople,
	"person_links":        TopicPeople,
	"fandom_profile":      TopicPeople,
	"tmdb_profile":        TopicPeople,
	"mirror_cast_photos":  TopicMedia,
	"mirror_show_images":  TopicMedia,
	"photo_mirroring":     TopicMedia,
	"image_ingest":        TopicMedia,
	"auto_count":          TopicMedia,
	"prune_media":         TopicMedia,
	"cleanup_media":       TopicMedia,
	"bravotv_cast":        TopicBravoTV,
	"bravotv_sync":        TopicBravoTV,
}

// categoryTopics maps free-text categories (normalized) to topics.
var categoryTopics = map[string]Topic{
	"show":          TopicShows,
	"shows":         TopicShows,
	"show metadata": TopicShows,
	"season":        TopicSeasons,
	"seasons":       TopicSeasons,
	"episode":       TopicEpisodes,
	"episodes":      TopicEpisodes,
	"cast":          TopicPeople,
	"cast members":  TopicPeople,
	"people":        TopicPeople,
	"person":        TopicPeople,
	"media":         TopicMedia,
	"images":        TopicMedia,
	"photos":        TopicMedia,
	"bravo":         TopicBravoTV,
	"bravo tv":      TopicBravoTV,
	"bravotv":       TopicBravoTV,
}

// rule is one step of the text heuristic cascade.
type rule struct {
	topic   Topic
	terms   []string
	pattern *regexp.Regexp
}

func (r rule) matches(text string) bool {
	if lo.ContainsBy(r.terms, func(term string) bool { return strings.Contains(text, term) }) {
		return true
	}
	return r.pattern != nil && r.pattern.MatchString(text)
}

// heuristicRules is evaluated top to bottom; the first match wins and
// anything unmatched falls through to TopicShows.
var heuristicRules = []rule{
	{topic: TopicBravoTV, terms: []string{"bravo"}},
	{topic: TopicEpisodes, terms: []string{"episode"}, pattern: regexp.MustCompile(`\bs\d{1,2}\s*e\d{1,3}\b|\bep\.?\s*\d+\b`)},
	{topic: TopicMedia, terms: []string{"media", "image", "photo", "mirror", "cleanup", "clean up", "prune", "pruning", "auto-count", "auto count", "autocount"}},
	{topic: TopicPeople, terms: []string{"person", "people", "cast profile", "cast-profile", "cast member", "fandom", "tmdb profile", "tmdb person"}},
	{topic: TopicSeasons, terms: []string{"season"}},
}

// wrapperCategory labels summary lines from the outer refresh wrapper.
const wrapperCategory = "refresh"

// ClassifyTopic maps an entry to a topic. It reports false when the entry
// should not claim any topic.
func ClassifyTopic(e Entry) (Topic, bool) {
	t, src := Explain(e)
	return t, src != SourceNone
}

// Explain is ClassifyTopic plus the cascade step that decided.
func Explain(e Entry) (Topic, Source) {
	if t, ok := ParseTopic(e.Topic); ok {
		return t, SourceExplicit
	}
	if key := normalizeStageKey(e.StageKey); key != "" {
		if t, ok := stageTopics[key]; ok {
			return t, SourceStageKey
		}
	}
	category := normalizeText(e.Category)
	if t, ok := categoryTopics[category]; ok {
		return t, SourceCategory
	}

	text := normalizeText(e.Category + " " + e.Message)
	for _, r := range heuristicRules {
		if r.matches(text) {
			return r.topic, SourceHeuristic
		}
	}
	// A wrapper summary must not overwrite the concrete topic already shown
	// for the same line.
	if category == wrapperCategory {
		return "", SourceNone
	}
	return TopicShows, SourceDefault
}

// IsDuplicate reports whether next carries nothing new compared to prev.
func IsDuplicate(prev, next Entry) bool {
	pt, pok := ClassifyTopic(prev)
	nt, nok := ClassifyTopic(next)
	if pok != nok || pt != nt {
		return false
	}
	if normalizeStageKey(prev.StageKey) != normalizeStageKey(next.StageKey) {
		return false
	}
	if normalizeText(prev.Message) != normalizeText(next.Message) {
		return false
	}
	return sameCount(prev.Current, next.Current) && sameCount(prev.Total, next.Total)
}

var completionTokens = []string{"complete", "completed", "success", "succeeded", "done", "refresh complete"}

// IsTerminalSuccess reports whether e marks its topic as finished.
func IsTerminalSuccess(e Entry) bool {
	if e.Current != nil && e.Total != nil && *e.Total > 0 && *e.Current >= *e.Total {
		return true
	}
	words := strings.FieldsFunc(strings.ToLower(e.Message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return false
	}
	// Match on word boundaries so "incomplete" and "abandoned" do not count.
	padded := " " + strings.Join(words, " ") + " "
	return lo.ContainsBy(completionTokens, func(tok string) bool {
		return strings.Contains(padded, " "+tok+" ")
	})
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeStageKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '.' {
			return '_'
		}
		return r
	}, s)
}

func sameCount(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
