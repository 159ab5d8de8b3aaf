package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"nostrfeed/models"
)

// ErrConfigurationMissing is returned when the author or the relays are not configured
var ErrConfigurationMissing = errors.New("configuration missing")

const defaultBlockCount = 10

// Tunables holds the empirical constants of the pagination engine
type Tunables struct {
	// Over-fetch factor applied to the query limit when a length filter is active
	MinCharsFactor int `toml:"min_chars_factor" json:"min_chars_factor"`
	// Over-fetch factor applied when fetching short notes
	NoteKindFactor int `toml:"note_kind_factor" json:"note_kind_factor"`
	// Relays queried per pagination round
	SourcesPerRound int `toml:"sources_per_round" json:"sources_per_round"`
	// Relays asked when looking events up by id
	MaxIDSources int `toml:"max_id_sources" json:"max_id_sources"`
	// Upper bound of the per-relay query limit
	MaxLimit int `toml:"max_limit" json:"max_limit"`
	// Per relay query timeout, an expired query exhausts the relay
	QueryTimeout time.Duration `toml:"query_timeout" json:"query_timeout"`
}

// DefaultTunables returns the tunables used when the config leaves them out
func DefaultTunables() Tunables {
	return Tunables{
		MinCharsFactor:  3,
		NoteKindFactor:  6,
		SourcesPerRound: 2,
		MaxIDSources:    5,
		MaxLimit:        500,
		QueryTimeout:    10 * time.Second,
	}
}

// Block is the configuration of a single feed block on a page
type Block struct {
	ID          string     `toml:"id" json:"id"`
	Kind        BlockKind  `toml:"kind" json:"kind"`
	Style       BlockStyle `toml:"style" json:"style"`
	Count       int        `toml:"count" json:"count"`
	MinChars    int        `toml:"min_chars" json:"min_chars"`
	IDs         []string   `toml:"ids,omitempty" json:"ids,omitempty"`             // id suffixes shown by the block
	Languages   []string   `toml:"languages,omitempty" json:"languages,omitempty"` // ISO 639-1 codes
	ExcludeSpam bool       `toml:"exclude_spam" json:"exclude_spam"`
}

// Config is the top-level configuration of a page
type Config struct {
	Author   string   `toml:"author" json:"author"` // npub, nprofile or hex public key
	Relays   []string `toml:"relays" json:"relays"`
	Blocks   []Block  `toml:"blocks" json:"blocks"`
	Tunables Tunables `toml:"tunables" json:"tunables"`

	// PubKey is the hex key decoded from Author by Validate
	PubKey string `toml:"-" json:"pubkey"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Config{Tunables: DefaultTunables()}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// Validate decodes the author and checks that everything needed to build feeds
// is present. Missing author or relays wrap ErrConfigurationMissing.
func (c *Config) Validate() error {
	if c.Author == "" {
		return fmt.Errorf("%w: no author", ErrConfigurationMissing)
	}

	pubkey, hints, err := models.DecodePubKey(c.Author)
	if err != nil {
		return fmt.Errorf("invalid author: %w", err)
	}
	c.PubKey = pubkey
	c.Relays = lo.Uniq(append(c.Relays, hints...))

	if len(c.Relays) == 0 {
		return fmt.Errorf("%w: no relays", ErrConfigurationMissing)
	}

	c.applyTunableDefaults()

	seen := make(map[string]bool, len(c.Blocks))
	for i := range c.Blocks {
		block := &c.Blocks[i]
		if block.ID == "" {
			return fmt.Errorf("block %d has no id", i)
		}
		if seen[block.ID] {
			return fmt.Errorf("duplicate block id %q", block.ID)
		}
		seen[block.ID] = true

		if block.Kind == KindUnset {
			return fmt.Errorf("block %q has no kind", block.ID)
		}
		if block.Count < 0 || block.MinChars < 0 {
			return fmt.Errorf("block %q has a negative count or min_chars", block.ID)
		}
		if block.Count == 0 {
			block.Count = defaultBlockCount
		}
	}

	return nil
}

func (c *Config) applyTunableDefaults() {
	defaults := DefaultTunables()
	if c.Tunables.MinCharsFactor <= 0 {
		c.Tunables.MinCharsFactor = defaults.MinCharsFactor
	}
	if c.Tunables.NoteKindFactor <= 0 {
		c.Tunables.NoteKindFactor = defaults.NoteKindFactor
	}
	if c.Tunables.SourcesPerRound <= 0 {
		c.Tunables.SourcesPerRound = defaults.SourcesPerRound
	}
	if c.Tunables.MaxIDSources <= 0 {
		c.Tunables.MaxIDSources = defaults.MaxIDSources
	}
	if c.Tunables.MaxLimit <= 0 {
		c.Tunables.MaxLimit = defaults.MaxLimit
	}
	if c.Tunables.QueryTimeout <= 0 {
		c.Tunables.QueryTimeout = defaults.QueryTimeout
	}
}

// Clone returns a copy that can be changed without touching c
func (c *Config) Clone() *Config {
	clone := *c
	clone.Relays = append([]string(nil), c.Relays...)
	clone.Blocks = make([]Block, len(c.Blocks))
	for i, block := range c.Blocks {
		block.IDs = append([]string(nil), block.IDs...)
		block.Languages = append([]string(nil), block.Languages...)
		clone.Blocks[i] = block
	}
	return &clone
}

// Block returns the block with the given id
func (c *Config) Block(id string) (Block, bool) {
	return lo.Find(c.Blocks, func(b Block) bool {
		return b.ID == id
	})
}
