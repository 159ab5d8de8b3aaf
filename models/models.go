package models

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Event kinds displayed by feed blocks
const (
	KindProfile  = 0
	KindNote     = 1
	KindImage    = 20
	KindArticle  = 30023
	summaryChars = 200
)

// EventData holds the display fields derived from an event's tags and content
type EventData struct {
	ID        string   `json:"id" yaml:"id"`
	Kind      int      `json:"kind" yaml:"kind"`
	CreatedAt int64    `json:"createdAt" yaml:"createdAt"`
	Title     string   `json:"title" yaml:"title"`
	Summary   string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Image     string   `json:"image,omitempty" yaml:"image,omitempty"`
	Images    []string `json:"images,omitempty" yaml:"images,omitempty"`
	Content   string   `json:"content" yaml:"content"`
}

// FeedItem is an event as returned to API and CLI consumers
type FeedItem struct {
	EventData `yaml:",inline"`
	HTML      string `json:"html,omitempty" yaml:"html,omitempty"`
}

// FeedResponse is a page of a feed block. End is set when the page came back
// short, which means the block has nothing more to show.
type FeedResponse struct {
	Block string     `json:"block"`
	Items []FeedItem `json:"items"`
	End   bool       `json:"end"`
}

// FeedStatus is the observable state of a feed session
type FeedStatus struct {
	Block     string `json:"block"`
	Surfaced  int64  `json:"surfaced"`
	Ready     bool   `json:"ready"`
	Exhausted int    `json:"exhausted"`
	Pending   int    `json:"pending"`
}

// MalformedIDError is returned when an identifier cannot be decoded
type MalformedIDError struct {
	Input string
	Err   error
}

func (e *MalformedIDError) Error() string {
	return fmt.Sprintf("malformed identifier %q: %v", e.Input, e.Err)
}

func (e *MalformedIDError) Unwrap() error {
	return e.Err
}

// tagValue returns the second element of the first tag named key
func tagValue(tags nostr.Tags, key string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1]
		}
	}
	return ""
}

// GetEventData extracts title, summary and images following the conventions of each kind
func GetEventData(evt *nostr.Event) EventData {
	data := EventData{
		ID:        evt.ID,
		Kind:      evt.Kind,
		CreatedAt: int64(evt.CreatedAt),
		Content:   evt.Content,
	}

	switch evt.Kind {
	case KindArticle:
		data.Title = tagValue(evt.Tags, "title")
		if data.Title == "" {
			data.Title = "No title"
		}
		data.Summary = tagValue(evt.Tags, "summary")
		data.Image = tagValue(evt.Tags, "image")
	case KindImage:
		data.Title = tagValue(evt.Tags, "title")
		data.Summary = evt.Content
		for _, tag := range evt.Tags {
			if len(tag) < 2 || tag[0] != "imeta" {
				continue
			}
			// imeta entries look like "url https://..."
			if url, ok := strings.CutPrefix(tag[1], "url "); ok {
				data.Images = append(data.Images, url)
			}
		}
		if len(data.Images) > 0 {
			data.Image = data.Images[0]
		}
	default:
		data.Title = "Note of " + FormatDate(int64(evt.CreatedAt), false)
		summary := []rune(evt.Content)
		if len(summary) > summaryChars {
			summary = summary[:summaryChars]
		}
		data.Summary = string(summary) + "..."
	}

	return data
}

// FormatDate formats a unix timestamp as "02 January 2006", optionally with a 24h time
func FormatDate(timestamp int64, includeTime bool) string {
	t := time.Unix(timestamp, 0).UTC()
	if includeTime {
		return t.Format("02 January 2006 - 15:04")
	}
	return t.Format("02 January 2006")
}

// IsRootNote reports whether the event is a top-level post. Events that
// reference another event with a "root" or "reply" marker are replies.
func IsRootNote(evt *nostr.Event) bool {
	for _, tag := range evt.Tags {
		if len(tag) >= 4 && tag[0] == "e" && (tag[3] == "root" || tag[3] == "reply") {
			return false
		}
	}
	return true
}

// DecodeEventID turns a note1/nevent1 bech32 code or a hex id into a hex id plus
// any relay hints carried by the code
func DecodeEventID(code string) (string, []string, error) {
	code = strings.TrimPrefix(strings.TrimSpace(code), "nostr:")
	if isHex(code) {
		return strings.ToLower(code), nil, nil
	}

	prefix, value, err := nip19.Decode(code)
	if err != nil {
		return "", nil, &MalformedIDError{Input: code, Err: err}
	}

	switch prefix {
	case "note":
		id, ok := value.(string)
		if !ok {
			return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("unexpected note payload %T", value)}
		}
		return id, nil, nil
	case "nevent":
		pointer, ok := value.(nostr.EventPointer)
		if !ok {
			return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("unexpected nevent payload %T", value)}
		}
		return pointer.ID, pointer.Relays, nil
	default:
		return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("%s is not an event reference", prefix)}
	}
}

// DecodePubKey turns an npub1/nprofile1 code or a 64 char hex key into a hex key
// plus any relay hints carried by the code
func DecodePubKey(code string) (string, []string, error) {
	code = strings.TrimPrefix(strings.TrimSpace(code), "nostr:")
	if len(code) == 64 && isHex(code) {
		return strings.ToLower(code), nil, nil
	}

	prefix, value, err := nip19.Decode(code)
	if err != nil {
		return "", nil, &MalformedIDError{Input: code, Err: err}
	}

	switch prefix {
	case "npub":
		pubkey, ok := value.(string)
		if !ok {
			return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("unexpected npub payload %T", value)}
		}
		return pubkey, nil, nil
	case "nprofile":
		pointer, ok := value.(nostr.ProfilePointer)
		if !ok {
			return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("unexpected nprofile payload %T", value)}
		}
		return pointer.PublicKey, pointer.Relays, nil
	default:
		return "", nil, &MalformedIDError{Input: code, Err: fmt.Errorf("%s is not a profile reference", prefix)}
	}
}

func isHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
