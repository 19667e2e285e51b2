package match

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	weightDate        = 0.5
	weightTitle       = 0.3
	weightEpisode     = 0.15
	weightDescription = 0.05

	// substringBonus rewards one normalized title containing the other.
	substringBonus = 0.2
	// descriptionTitleCeiling gates description scoring to pairs whose
	// titles diverge; bodies only matter when titles disagree.
	descriptionTitleCeiling = 0.3
	// descriptionPrefixChars bounds description comparison to the lede.
	descriptionPrefixChars = 200
	// minTokenLength drops filler words from token-set similarity.
	minTokenLength = 3
)

// titleStripPatterns removes common sermon-style markers before comparison.
var titleStripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(sermon|message|sunday\s+(service|sermon)|week\s+\d+)\s*[:\-|]\s*`),
	regexp.MustCompile(`(?i)\s*[\-|]\s*(audio|video|live|full\s+(service|sermon))\s*$`),
}

// episodeTokenPatterns extract an episode identifier from a title, checked in
// order. The first capture group is the token.
var episodeTokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#(\d+(?:-\d+)?)`),
	regexp.MustCompile(`(?i)\bepisode\s+(\d+)\b`),
	regexp.MustCompile(`(?i)\bep\.?\s*(\d+)\b`),
	regexp.MustCompile(`(?i)\b(?:part|pt)\.?\s*(\d+)\b`),
	regexp.MustCompile(`\b(\d{1,4})\s*$`),
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// pairScore carries the weighted total plus the raw signals needed for
// deterministic tie-breaking and reason strings.
type pairScore struct {
	total     float64
	dateScore float64
	dateDiff  float64
	titleSim  float64
	episodeOK bool
	descSim   float64
	reason    string
}

// scorePair computes the confidence for one cross-source pair: a weighted
// sum over the signals available for this pair, normalized by the weight of
// those signals. Normalization keeps the score meaningful when a signal is
// absent; an identical date and title pair scores exactly 1.0 even though the
// pair carries no episode number.
func (m *Matcher) scorePair(a, b *episodeRef) pairScore {
	titleSim, substring := titleSimilarity(a.normTitle, b.normTitle, a.titleTokens, b.titleTokens)

	sum := titleSim * weightTitle
	weightTotal := weightTitle

	// Missing dates fall back to title-only matching; the acceptance
	// threshold is not relaxed, so the title alone must clear it.
	datesPresent := a.episode.PublishDate != nil && b.episode.PublishDate != nil
	dateDiff := math.MaxFloat64
	dateScore := 0.0
	if datesPresent {
		dateDiff = dateDiffDays(*a.episode.PublishDate, *b.episode.PublishDate)
		dateScore = m.dateProximity(dateDiff)
		sum += dateScore * weightDate
		weightTotal += weightDate
	}

	// The episode-number signal only applies when both titles carry a
	// token; differing tokens then count against the pair.
	episodeOK := false
	episodeToken := ""
	if a.episodeToken != "" && b.episodeToken != "" {
		weightTotal += weightEpisode
		if a.episodeToken == b.episodeToken {
			episodeOK = true
			episodeToken = a.episodeToken
			sum += weightEpisode
		}
	}

	descSim := 0.0
	if titleSim < descriptionTitleCeiling {
		descSim = tokenSetSimilarity(a.descTokens, b.descTokens)
		sum += descSim * weightDescription
		weightTotal += weightDescription
	}

	diffForReason := dateDiff
	if !datesPresent {
		diffForReason = -1
	}
	return pairScore{
		total:     sum / weightTotal,
		dateScore: dateScore,
		dateDiff:  dateDiff,
		titleSim:  titleSim,
		episodeOK: episodeOK,
		descSim:   descSim,
		reason:    reasonString(diffForReason, dateScore, titleSim, substring, episodeOK, episodeToken, descSim),
	}
}

// betterThan orders candidate scores deterministically: higher total, then
// closer dates, then higher title similarity. Input order never decides.
func (s pairScore) betterThan(other pairScore) bool {
	const epsilon = 1e-9
	if math.Abs(s.total-other.total) > epsilon {
		return s.total > other.total
	}
	if math.Abs(s.dateDiff-other.dateDiff) > epsilon {
		return s.dateDiff < other.dateDiff
	}
	return s.titleSim > other.titleSim+epsilon
}

// dateProximity maps a day difference onto [0,1]: full score within one day,
// linear decay to zero at the window edge.
func (m *Matcher) dateProximity(diffDays float64) float64 {
	window := float64(m.cfg.DateWindowDays)
	if diffDays <= 1 {
		return 1.0
	}
	if diffDays >= window {
		return 0
	}
	return (window - diffDays) / (window - 1)
}

func dateDiffDays(a, b time.Time) float64 {
	diff := a.Sub(b).Hours() / 24
	return math.Abs(diff)
}

// titleSimilarity is token-set Jaccard plus a flat bonus when one normalized
// title is a substring of the other, capped at 1.
func titleSimilarity(normA, normB string, tokensA, tokensB map[string]struct{}) (float64, bool) {
	sim := tokenSetSimilarity(tokensA, tokensB)
	substring := false
	if normA != "" && normB != "" && (strings.Contains(normA, normB) || strings.Contains(normB, normA)) {
		substring = true
		sim += substringBonus
		if sim > 1 {
			sim = 1
		}
	}
	return sim, substring
}

func tokenSetSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// normalizeTitle lowercases, folds diacritics, and strips sermon-style
// prefixes and suffixes.
func normalizeTitle(title string) string {
	folded, _, err := transform.String(diacriticFolder, title)
	if err != nil {
		folded = title
	}
	normalized := strings.ToLower(strings.TrimSpace(folded))
	for _, pattern := range titleStripPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	return strings.TrimSpace(normalized)
}

// tokenize splits into lowercase word tokens longer than two characters.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	current := strings.Builder{}
	flush := func() {
		if current.Len() >= minTokenLength {
			tokens[current.String()] = struct{}{}
		}
		current.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// extractEpisodeToken pulls a comparable episode identifier from a title.
func extractEpisodeToken(title string) string {
	for _, pattern := range episodeTokenPatterns {
		if matches := pattern.FindStringSubmatch(title); len(matches) > 1 {
			return strings.ReplaceAll(matches[1], "-", "")
		}
	}
	return ""
}

func descriptionPrefix(description string) string {
	trimmed := strings.TrimSpace(description)
	if len(trimmed) > descriptionPrefixChars {
		trimmed = trimmed[:descriptionPrefixChars]
	}
	return trimmed
}

func reasonString(dateDiff, dateScore, titleSim float64, substring, episodeOK bool, episodeToken string, descSim float64) string {
	var parts []string
	if dateDiff < 0 {
		parts = append(parts, "publish date missing; matched on title alone")
	} else if dateScore > 0 {
		parts = append(parts, fmt.Sprintf("dates %.1f day(s) apart (date score %.2f)", dateDiff, dateScore))
	} else {
		parts = append(parts, fmt.Sprintf("dates %.1f day(s) apart (outside window)", dateDiff))
	}
	titlePart := fmt.Sprintf("title similarity %.2f", titleSim)
	if substring {
		titlePart += " with substring overlap"
	}
	parts = append(parts, titlePart)
	if episodeOK {
		parts = append(parts, "episode number "+episodeToken+" matched")
	}
	if descSim > 0 {
		parts = append(parts, fmt.Sprintf("description similarity %.2f", descSim))
	}
	return strings.Join(parts, "; ")
}
