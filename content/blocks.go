// Package content splits event content into the semantic blocks a renderer
// displays and estimates how long the rendered result will be.
package content

import (
	"iter"
	"path"
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// BlockType is the kind of a content block
type BlockType int

const (
	BlockText BlockType = iota
	BlockURL
	BlockImage
	BlockVideo
	BlockAudio
	BlockReference
)

func (t BlockType) String() string {
	switch t {
	case BlockText:
		return "text"
	case BlockURL:
		return "url"
	case BlockImage:
		return "image"
	case BlockVideo:
		return "video"
	case BlockAudio:
		return "audio"
	case BlockReference:
		return "reference"
	}
	return "unknown"
}

// Block is a run of content with a single rendering strategy
type Block struct {
	Type BlockType
	Text string
}

var (
	tokenRegex = regexp.MustCompile(`(?i)https?://[^\s<>"]+|nostr:(?:npub1|nprofile1|note1|nevent1|naddr1)[a-z0-9]+`)

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".svg"}
	videoExtensions = []string{".mp4", ".webm", ".ogg", ".mov"}
	audioExtensions = []string{".mp3", ".wav", ".flac", ".m4a"}
)

// Parse returns the blocks of content in order. The sequence is lazy: content past
// the last block pulled by the consumer is never scanned.
func Parse(content string) iter.Seq[Block] {
	return func(yield func(Block) bool) {
		pos := 0
		for pos < len(content) {
			loc := tokenRegex.FindStringIndex(content[pos:])
			if loc == nil {
				yield(Block{Type: BlockText, Text: content[pos:]})
				return
			}

			start, end := pos+loc[0], pos+loc[1]
			token := content[start:end]
			if !strings.HasPrefix(strings.ToLower(token), "nostr:") {
				// Sentence punctuation right after a URL is part of the text
				trimmed := strings.TrimRight(token, ".,;:!?)")
				end -= len(token) - len(trimmed)
				token = trimmed
			}

			if start > pos {
				if !yield(Block{Type: BlockText, Text: content[pos:start]}) {
					return
				}
			}
			if !yield(Block{Type: classifyToken(token), Text: token}) {
				return
			}
			pos = end
		}
	}
}

func classifyToken(token string) BlockType {
	if strings.HasPrefix(strings.ToLower(token), "nostr:") {
		return BlockReference
	}

	p := token
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))

	switch {
	case lo.Contains(imageExtensions, ext):
		return BlockImage
	case lo.Contains(videoExtensions, ext):
		return BlockVideo
	case lo.Contains(audioExtensions, ext):
		return BlockAudio
	}
	return BlockURL
}
