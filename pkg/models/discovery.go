package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DiscoveryType classifies a piece of discovered content.
type DiscoveryType string

const (
	DiscoveryTypeArticle    DiscoveryType = "Article"
	DiscoveryTypeDiscussion DiscoveryType = "Discussion"
	DiscoveryTypeNews       DiscoveryType = "News"
	DiscoveryTypeResearch   DiscoveryType = "Research"
	DiscoveryTypeTool       DiscoveryType = "Tool"
	DiscoveryTypeOther      DiscoveryType = "Other"
)

// NormalizeDiscoveryType maps free-form backend output onto the closed enum,
// defaulting to Other for anything unrecognized.
func NormalizeDiscoveryType(raw string) DiscoveryType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "article", "blog", "blog post", "tutorial":
		return DiscoveryTypeArticle
	case "discussion", "forum", "thread":
		return DiscoveryTypeDiscussion
	case "news":
		return DiscoveryTypeNews
	case "research", "paper", "preprint", "study":
		return DiscoveryTypeResearch
	case "tool", "library", "framework", "product":
		return DiscoveryTypeTool
	default:
		return DiscoveryTypeOther
	}
}

// Score bounds for relevance.
const (
	MinRelevanceScore     = 0
	MaxRelevanceScore     = 10
	DefaultRelevanceScore = 5
)

// ClampRelevanceScore returns the default score when the candidate value is
// outside the 0-10 range.
func ClampRelevanceScore(score int) int {
	if score < MinRelevanceScore || score > MaxRelevanceScore {
		return DefaultRelevanceScore
	}
	return score
}

// UserFeedback carries explicit user judgement on a discovery.
// Useful/NotUseful are tri-state: nil means unset.
type UserFeedback struct {
	Useful    *bool  `json:"useful,omitempty"`
	NotUseful *bool  `json:"not_useful,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Discovery is a single piece of found content scored for relevance to a
// project. (ProjectID, Source) is the dedup key: a re-discovery with the same
// source merges into the existing record instead of duplicating it.
type Discovery struct {
	ID              uuid.UUID     `json:"id"`
	ProjectID       uuid.UUID     `json:"project_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Source          string        `json:"source"`
	RelevanceScore  int           `json:"relevance_score"`
	Categories      []string      `json:"categories"`
	Type            DiscoveryType `json:"type"`
	DiscoveredAt    time.Time     `json:"discovered_at"`
	PublicationDate *time.Time    `json:"publication_date,omitempty"`
	Viewed          bool          `json:"viewed"`
	Hidden          bool          `json:"hidden"`
	Presented       bool          `json:"presented"`
	Feedback        UserFeedback  `json:"user_feedback"`
}
