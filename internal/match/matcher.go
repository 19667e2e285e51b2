// Package match pairs podcast feed episodes with video channel uploads using
// weighted signal scoring. Matching is deterministic for a given input: ties
// are broken by date proximity and title similarity, never by input order.
package match

import (
	"sort"
	"strings"
	"time"

	"sermonsync/internal/sources"
)

const (
	// DefaultDateWindowDays is how far apart publish dates may be before the
	// date signal decays to zero.
	DefaultDateWindowDays = 3
	// DefaultAcceptThreshold is the minimum weighted confidence for a pair.
	DefaultAcceptThreshold = 0.6
)

// Candidate is one reconciliation unit: a matched pair, or a single-source
// episode carried through with full confidence.
type Candidate struct {
	Title       string
	Date        *time.Time
	Description string
	// Feed and Channel hold the source snapshots; at least one is set.
	Feed    *sources.Episode
	Channel *sources.Episode
	// Confidence is the weighted match score, or 1.0 for single-source
	// candidates (certainty about the episode, not about a pairing).
	Confidence float64
	// MatchReason explains which signals produced the pairing.
	MatchReason string
}

// Config tunes the matcher. Zero values fall back to defaults.
type Config struct {
	DateWindowDays  int
	AcceptThreshold float64
	// ContentKeywords gate which channel-only uploads are treated as
	// episodes rather than shorts, trailers, or announcements.
	ContentKeywords []string
}

// Matcher pairs episodes across the two sources.
type Matcher struct {
	cfg Config
}

// New creates a matcher, applying defaults for unset config fields.
func New(cfg Config) *Matcher {
	if cfg.DateWindowDays <= 0 {
		cfg.DateWindowDays = DefaultDateWindowDays
	}
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = DefaultAcceptThreshold
	}
	return &Matcher{cfg: cfg}
}

// episodeRef carries an episode plus its precomputed comparison signals.
type episodeRef struct {
	episode      *sources.Episode
	normTitle    string
	titleTokens  map[string]struct{}
	descTokens   map[string]struct{}
	episodeToken string
	matched      bool
}

// Match pairs feed episodes with channel uploads and returns the combined
// candidate list sorted by date, newest first.
func (m *Matcher) Match(feedEpisodes, channelEpisodes []sources.Episode) []Candidate {
	feedRefs := buildRefs(feedEpisodes)
	channelRefs := buildRefs(channelEpisodes)

	var candidates []Candidate

	// Forward pass: each feed episode greedily claims its best channel
	// upload above the threshold.
	for _, feedRef := range feedRefs {
		if best, score, ok := m.bestMatch(feedRef, channelRefs); ok {
			feedRef.matched = true
			best.matched = true
			candidates = append(candidates, m.pairCandidate(feedRef, best, score))
		}
	}

	// Reverse pass: leftover channel uploads that look like real episodes
	// get a second chance against leftover feed episodes, recovering pairs
	// the greedy consumption order missed.
	for _, channelRef := range channelRefs {
		if channelRef.matched || !m.looksLikeEpisode(channelRef.episode.Title) {
			continue
		}
		if best, score, ok := m.bestMatch(channelRef, feedRefs); ok {
			channelRef.matched = true
			best.matched = true
			candidates = append(candidates, m.pairCandidate(best, channelRef, score))
		}
	}

	// Residual singles: unmatched feed episodes always carry through;
	// unmatched channel uploads only when they pass the content gate.
	for _, feedRef := range feedRefs {
		if feedRef.matched {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       feedRef.episode.Title,
			Date:        feedRef.episode.PublishDate,
			Description: feedRef.episode.Description,
			Feed:        feedRef.episode,
			Confidence:  1.0,
			MatchReason: "feed only; no channel counterpart",
		})
	}
	for _, channelRef := range channelRefs {
		if channelRef.matched || !m.looksLikeEpisode(channelRef.episode.Title) {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       channelRef.episode.Title,
			Date:        channelRef.episode.PublishDate,
			Description: channelRef.episode.Description,
			Channel:     channelRef.episode,
			Confidence:  1.0,
			MatchReason: "channel only; no feed counterpart",
		})
	}

	sortCandidates(candidates)
	return candidates
}

// bestMatch finds the unmatched ref in pool scoring highest against ref, if
// any clears the acceptance threshold.
func (m *Matcher) bestMatch(ref *episodeRef, pool []*episodeRef) (*episodeRef, pairScore, bool) {
	var best *episodeRef
	var bestScore pairScore
	for _, other := range pool {
		if other.matched {
			continue
		}
		score := m.scorePair(ref, other)
		if score.total < m.cfg.AcceptThreshold {
			continue
		}
		if best == nil || score.betterThan(bestScore) {
			best = other
			bestScore = score
		}
	}
	return best, bestScore, best != nil
}

// pairCandidate merges a matched pair, preferring the feed's metadata.
func (m *Matcher) pairCandidate(feedRef, channelRef *episodeRef, score pairScore) Candidate {
	candidate := Candidate{
		Title:       feedRef.episode.Title,
		Date:        feedRef.episode.PublishDate,
		Description: feedRef.episode.Description,
		Feed:        feedRef.episode,
		Channel:     channelRef.episode,
		Confidence:  score.total,
		MatchReason: score.reason,
	}
	if candidate.Title == "" {
		candidate.Title = channelRef.episode.Title
	}
	if candidate.Date == nil {
		candidate.Date = channelRef.episode.PublishDate
	}
	if candidate.Description == "" {
		candidate.Description = channelRef.episode.Description
	}
	return candidate
}

// looksLikeEpisode reports whether a channel upload title passes the content
// keyword gate. An empty keyword list admits everything.
func (m *Matcher) looksLikeEpisode(title string) bool {
	if len(m.cfg.ContentKeywords) == 0 {
		return true
	}
	lowered := strings.ToLower(title)
	for _, keyword := range m.cfg.ContentKeywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func buildRefs(episodes []sources.Episode) []*episodeRef {
	refs := make([]*episodeRef, len(episodes))
	for i := range episodes {
		episode := &episodes[i]
		normTitle := normalizeTitle(episode.Title)
		refs[i] = &episodeRef{
			episode:      episode,
			normTitle:    normTitle,
			titleTokens:  tokenize(normTitle),
			descTokens:   tokenize(descriptionPrefix(episode.Description)),
			episodeToken: extractEpisodeToken(episode.Title),
		}
	}
	return refs
}

// sortCandidates orders newest first; undated candidates sort last. The sort
// is stable so equal dates keep pass order.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		left, right := candidates[i].Date, candidates[j].Date
		switch {
		case left == nil && right == nil:
			return false
		case left == nil:
			return false
		case right == nil:
			return true
		default:
			return left.After(*right)
		}
	})
}
