package content_test

import (
	"testing"

	"nostrfeed/content"

	"github.com/stretchr/testify/assert"
)

func collect(s string) []content.Block {
	var blocks []content.Block
	for block := range content.Parse(s) {
		blocks = append(blocks, block)
	}
	return blocks
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []content.Block
	}{
		{
			name:     "empty content",
			content:  "",
			expected: nil,
		},
		{
			name:    "plain text",
			content: "hello world",
			expected: []content.Block{
				{Type: content.BlockText, Text: "hello world"},
			},
		},
		{
			name:    "text and image",
			content: "look https://example.com/cat.JPG nice",
			expected: []content.Block{
				{Type: content.BlockText, Text: "look "},
				{Type: content.BlockImage, Text: "https://example.com/cat.JPG"},
				{Type: content.BlockText, Text: " nice"},
			},
		},
		{
			name:    "video audio and link",
			content: "https://a.io/v.mp4 https://a.io/s.mp3?x=1 https://a.io/page",
			expected: []content.Block{
				{Type: content.BlockVideo, Text: "https://a.io/v.mp4"},
				{Type: content.BlockText, Text: " "},
				{Type: content.BlockAudio, Text: "https://a.io/s.mp3?x=1"},
				{Type: content.BlockText, Text: " "},
				{Type: content.BlockURL, Text: "https://a.io/page"},
			},
		},
		{
			name:    "trailing punctuation stays in text",
			content: "see https://a.io/page.",
			expected: []content.Block{
				{Type: content.BlockText, Text: "see "},
				{Type: content.BlockURL, Text: "https://a.io/page"},
				{Type: content.BlockText, Text: "."},
			},
		},
		{
			name:    "nostr reference",
			content: "by nostr:npub1abc123 today",
			expected: []content.Block{
				{Type: content.BlockText, Text: "by "},
				{Type: content.BlockReference, Text: "nostr:npub1abc123"},
				{Type: content.BlockText, Text: " today"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, collect(tt.content))
		})
	}
}

func TestParseStopsWhenConsumerStops(t *testing.T) {
	pulled := 0
	for range content.Parse("a https://x.io/1.png b https://x.io/2.png c") {
		pulled++
		if pulled == 2 {
			break
		}
	}
	assert.Equal(t, 2, pulled)
}
