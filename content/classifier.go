package content

import (
	"iter"
	"unicode/utf8"

	"github.com/nbd-wtf/go-nostr"
)

// EmbedWeight is the length credited to any block rendered as an embedded element
// (links, media, references), whatever its source length
const EmbedWeight = 14

const kindArticle = 30023

// MeetsThreshold reports whether the rendered content of evt would be at least
// threshold characters long. Long-form articles are measured on their raw body,
// everything else is folded block by block and stops as soon as the threshold is met.
func MeetsThreshold(evt *nostr.Event, threshold int) bool {
	if threshold <= 0 {
		return true
	}
	if evt.Kind == kindArticle {
		return utf8.RuneCountInString(evt.Content) >= threshold
	}
	return reaches(Parse(evt.Content), threshold)
}

func reaches(blocks iter.Seq[Block], threshold int) bool {
	total := 0
	for block := range blocks {
		total += Length(block)
		if total >= threshold {
			return true
		}
	}
	return false
}

// Length is the estimated rendered length of a single block
func Length(block Block) int {
	if block.Type == BlockText {
		return utf8.RuneCountInString(block.Text)
	}
	return EmbedWeight
}
