// Package progress classifies free-form refresh progress entries into a
// small set of status-board topics and decides when an entry is noise or
// marks a topic as done.
package progress

import "strings"

// Topic is a coarse status-board row.
type Topic string

const (
	TopicShows    Topic = "shows"
	TopicSeasons  Topic = "seasons"
	TopicEpisodes Topic = "episodes"
	TopicPeople   Topic = "people"
	TopicMedia    Topic = "media"
	TopicBravoTV  Topic = "bravotv"
)

// Topics lists every topic in status-board order.
var Topics = []Topic{TopicShows, TopicSeasons, TopicEpisodes, TopicPeople, TopicMedia, TopicBravoTV}

// ParseTopic returns the topic named by s, ignoring case and surrounding
// space.
func ParseTopic(s string) (Topic, bool) {
	t := Topic(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Topics {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Entry is one raw progress line from a refresh pipeline.
type Entry struct {
	Topic    string `json:"topic,omitempty"`
	Category string `json:"category"`
	StageKey string `json:"stageKey,omitempty"`
	Message  string `json:"message"`
	Current  *int   `json:"current,omitempty"`
	Total    *int   `json:"total,omitempty"`
}
