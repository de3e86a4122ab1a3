package parser

import (
	"strconv"
	"strings"

	"github.com/IshaanNene/KoraStalk/internal/types"
)

// Text normalization for the score, clock and status strings shown by the
// source. Every function here is total: unparsable input yields zero values.

var scoreSeparators = []string{"-", "–", ":"}

var (
	halfTimeTokens = []string{"HT", "ش.أ", "نهاية الشوط"}
	fullTimeTokens = []string{"FT", "ن.م", "نهاية المباراة"}
)

// Keyword order matters: live is checked before finished.
var (
	liveKeywords = []string{
		"live", "مباشر", "جارية", "الشوط", "شوط", "ش.أ", "ش.ث",
		"بدأت", "استراحة", "ht", "extra", "إضافي",
	}
	finishedKeywords = []string{
		"finished", "ft", "انتهت", "ن.م", "نهاية", "ended",
	}
)

const (
	halfTimeMinute = 45
	fullTimeMinute = 90
)

// ParseScore splits score text such as "2 - 1" into home and away goals.
func ParseScore(text string) (home, away int) {
	home, away, _ = ParseScoreOK(text)
	return home, away
}

// ParseScoreOK is ParseScore that also reports whether the text parsed.
func ParseScoreOK(text string) (home, away int, ok bool) {
	text = strings.TrimSpace(text)
	for _, sep := range scoreSeparators {
		left, right, found := strings.Cut(text, sep)
		if !found {
			continue
		}
		// "1 - 2 - 3" reads as 1-2; segments past the second are ignored.
		right, _, _ = strings.Cut(right, sep)
		h, errH := strconv.Atoi(strings.TrimSpace(left))
		a, errA := strconv.Atoi(strings.TrimSpace(right))
		if errH != nil || errA != nil || h < 0 || a < 0 {
			return 0, 0, false
		}
		return h, a, true
	}
	return 0, 0, false
}

// ParseMinute converts clock text ("37'", "45+2", "HT", "ن.م") to a minute.
func ParseMinute(text string) int {
	m, _ := ParseMinuteOK(text)
	return m
}

// ParseMinuteOK is ParseMinute that also reports whether the text parsed.
func ParseMinuteOK(text string) (int, bool) {
	text = strings.NewReplacer("'", "", "′", "").Replace(text)
	text = strings.TrimSpace(text)

	for _, tok := range halfTimeTokens {
		if text == tok {
			return halfTimeMinute, true
		}
	}
	for _, tok := range fullTimeTokens {
		if text == tok {
			return fullTimeMinute, true
		}
	}

	if base, extra, found := strings.Cut(text, "+"); found {
		b, errB := strconv.Atoi(strings.TrimSpace(base))
		e, errE := strconv.Atoi(strings.TrimSpace(extra))
		if errB != nil || errE != nil || b < 0 || e < 0 {
			return 0, false
		}
		return b + e, true
	}

	m, err := strconv.Atoi(text)
	if err != nil || m < 0 {
		return 0, false
	}
	return m, true
}

// MapStatus classifies free status text as upcoming, live or finished.
func MapStatus(text string) types.Status {
	lower := strings.ToLower(text)
	for _, kw := range liveKeywords {
		if strings.Contains(lower, kw) {
			return types.StatusLive
		}
	}
	for _, kw := range finishedKeywords {
		if strings.Contains(lower, kw) {
			return types.StatusFinished
		}
	}
	return types.StatusUpcoming
}
