package screen

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxHashtags      = 5
	maxMentions      = 5
	maxEmojis        = 8
	maxSymbolRatio   = 0.5
	minLetterRatio   = 0.30
	minRepeatedRunes = 4
)

var spamPatterns = []string{
	"onlyfans.com",
	"join my vip",
	"subscribe to my",
	"check my profile",
	"check my bio",
	"link in bio",
	"follow me",
	"follow back",
	"follow for follow",
	"f4f",
	"free sats",
	"airdrop",
}

// IsSpam combines the heuristics used by the spam filter
func IsSpam(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return ContainsSpamContent(text) || ContainsRepetitivePattern(text) || !HasEnoughLetters(text)
}

// HasEnoughLetters reports whether letters make up a reasonable share of the text
func HasEnoughLetters(text string) bool {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return false
	}

	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return float64(letters)/float64(total) > minLetterRatio
}

// ContainsRepetitivePattern detects runs of the same symbol or short sequences
// repeated back to back, ignoring case and spaces
func ContainsRepetitivePattern(text string) bool {
	clusters := graphemes(strings.ReplaceAll(strings.ToLower(text), " ", ""))
	if len(clusters) < minRepeatedRunes {
		return false
	}

	run := 0
	last := ""
	for _, cluster := range clusters {
		if cluster == last {
			run++
			if run >= minRepeatedRunes {
				return true
			}
		} else {
			run = 1
			last = cluster
		}
	}

	for patternLen := 2; patternLen <= 8; patternLen++ {
		// longer patterns need fewer repeats to count
		minRepeats := 4
		if patternLen >= 4 {
			minRepeats = 2
		}

		for i := 0; i+patternLen*2 <= len(clusters); i++ {
			repeats := 1
			for j := i + patternLen; j+patternLen <= len(clusters); j += patternLen {
				if !sameClusters(clusters[i:i+patternLen], clusters[j:j+patternLen]) {
					break
				}
				repeats++
				if repeats >= minRepeats {
					return true
				}
			}
		}
	}

	return false
}

// ContainsSpamContent looks for promotional phrases and symbol flooding
func ContainsSpamContent(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range spamPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	emojis := 0
	for _, r := range text {
		if r >= 0x1F300 {
			emojis++
			if emojis > maxEmojis {
				return true
			}
		}
	}

	hashtags := strings.Count(text, "#")
	mentions := strings.Count(text, "@")
	if hashtags > maxHashtags || mentions > maxMentions {
		return true
	}
	if strings.Contains(text, "##") || strings.Contains(text, "@@") {
		return true
	}

	words := strings.Fields(text)
	if len(words) > 0 && float64(hashtags+mentions)/float64(len(words)) > maxSymbolRatio {
		return true
	}

	return false
}

// graphemes splits text into runes, keeping combining marks, zero-width
// joiners and variation selectors attached to the rune before them
func graphemes(text string) []string {
	var clusters []string
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r == utf8.RuneError {
			continue
		}

		cluster := string(r)
		for i < len(text) {
			next, nextSize := utf8.DecodeRuneInString(text[i:])
			if !unicode.Is(unicode.Mn, next) && next != '\u200d' && next != '\ufe0f' {
				break
			}
			cluster += string(next)
			i += nextSize
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func sameClusters(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
