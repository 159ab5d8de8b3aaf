package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Params are page settings carried in a host name, keyed by setting name
type Params map[string]string

// Longer keys come before their prefixes so "short-notes-min-chars" is not read as "short-notes"
var metaSettings = [...]string{
	"top-notes",
	"short-notes-summary-max-chars",
	"short-notes-min-chars",
	"short-notes",
	"topics",
	"comments",
}

// ParseSubdomain reads an author and block settings from the dot separated
// labels of a host name, e.g. "npub1....short-notes-min-chars-300.example.com"
func ParseSubdomain(subdomain string) (Params, error) {
	params := make(Params, 3)
	for _, part := range strings.Split(subdomain, ".") {
		switch {
		case strings.HasPrefix(part, "npub1"):
			if _, _, err := nip19.Decode(part); err != nil {
				return nil, fmt.Errorf("invalid npub '%s'", part)
			}
			params["author"] = part
		case strings.HasPrefix(part, "nprofile1"):
			_, data, err := nip19.Decode(part)
			if err != nil {
				return nil, fmt.Errorf("invalid nprofile '%s'", part)
			}
			pointer, ok := data.(nostr.ProfilePointer)
			if !ok {
				return nil, fmt.Errorf("invalid nprofile '%s'", part)
			}
			npub, err := nip19.EncodePublicKey(pointer.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("invalid nprofile '%s': %w", part, err)
			}
			params["author"] = npub
			if len(pointer.Relays) > 0 {
				params["relays"] = strings.Join(pointer.Relays, ",")
			}
		default:
			for _, key := range metaSettings {
				if strings.HasPrefix(part, key+"-") && len(part) > len(key)+1 {
					params[key] = part[len(key)+1:]
					break
				}
			}
		}
	}
	return params, nil
}

// ApplyParams overrides the configuration with settings parsed from a host name.
// Block settings apply to the block whose id equals the setting prefix.
func (c *Config) ApplyParams(params Params) error {
	if author, ok := params["author"]; ok {
		c.Author = author
	}
	if relays, ok := params["relays"]; ok {
		c.Relays = lo.Uniq(append(c.Relays, lo.Compact(strings.Split(relays, ","))...))
	}

	for key, value := range params {
		var err error
		switch key {
		case "author", "relays":
			continue
		case "top-notes":
			c.upsertBlock("top-notes", KindNotes).IDs = lo.Compact(strings.Split(value, "-"))
		case "short-notes":
			err = setInt(&c.upsertBlock("short-notes", KindNotes).Count, value)
		case "short-notes-min-chars":
			err = setInt(&c.upsertBlock("short-notes", KindNotes).MinChars, value)
		default:
			log.WithFields(log.Fields{
				"setting": key,
				"value":   value,
			}).Debug("Ignoring unsupported page setting")
		}
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func (c *Config) upsertBlock(id string, kind BlockKind) *Block {
	for i := range c.Blocks {
		if c.Blocks[i].ID == id {
			return &c.Blocks[i]
		}
	}
	c.Blocks = append(c.Blocks, Block{ID: id, Kind: kind})
	return &c.Blocks[len(c.Blocks)-1]
}

func setInt(target *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("negative value %d", n)
	}
	*target = n
	return nil
}
