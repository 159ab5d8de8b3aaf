package config

import (
	"fmt"
	"strings"

	"nostrfeed/models"
)

// BlockKind selects which event kinds a block shows
type BlockKind int

const (
	KindUnset BlockKind = iota
	KindArticles
	KindNotes
	KindImages
)

var blockKindNames = map[BlockKind]string{
	KindArticles: "articles",
	KindNotes:    "notes",
	KindImages:   "images",
}

func (k BlockKind) String() string {
	if name, ok := blockKindNames[k]; ok {
		return name
	}
	return "unset"
}

// EventKinds returns the nostr kinds fetched for the block kind
func (k BlockKind) EventKinds() []int {
	switch k {
	case KindArticles:
		return []int{models.KindArticle}
	case KindNotes:
		return []int{models.KindNote}
	case KindImages:
		return []int{models.KindImage}
	}
	return nil
}

func (k *BlockKind) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for kind, candidate := range blockKindNames {
		if candidate == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown block kind %q", name)
}

func (k BlockKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// BlockStyle selects how a block lays out its items
type BlockStyle int

const (
	StyleList BlockStyle = iota
	StyleGrid
	StyleSlider
)

var blockStyleNames = map[BlockStyle]string{
	StyleList:   "list",
	StyleGrid:   "grid",
	StyleSlider: "slider",
}

func (s BlockStyle) String() string {
	return blockStyleNames[s]
}

func (s *BlockStyle) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	if name == "" {
		*s = StyleList
		return nil
	}
	for style, candidate := range blockStyleNames {
		if candidate == name {
			*s = style
			return nil
		}
	}
	return fmt.Errorf("unknown block style %q", name)
}

func (s BlockStyle) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
