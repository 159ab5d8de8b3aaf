package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPubKey(t *testing.T) (string, string) {
	t.Helper()
	pubkey, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pubkey)
	require.NoError(t, err)
	return pubkey, npub
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	_, npub := testPubKey(t)
	path := writeConfig(t, `
author = "`+npub+`"
relays = ["wss://relay.example"]

[tunables]
sources_per_round = 3
query_timeout = "5s"

[[blocks]]
id = "long-notes"
kind = "notes"
style = "grid"
min_chars = 300
languages = ["en", "nb"]
exclude_spam = true

[[blocks]]
id = "articles"
kind = "articles"
count = 4
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, npub, cfg.Author)
	require.Len(t, cfg.Blocks, 2)

	notes := cfg.Blocks[0]
	assert.Equal(t, KindNotes, notes.Kind)
	assert.Equal(t, StyleGrid, notes.Style)
	assert.Equal(t, 300, notes.MinChars)
	assert.Equal(t, []string{"en", "nb"}, notes.Languages)
	assert.True(t, notes.ExcludeSpam)

	assert.Equal(t, StyleList, cfg.Blocks[1].Style)
	assert.Equal(t, 3, cfg.Tunables.SourcesPerRound)
	assert.Equal(t, 5*time.Second, cfg.Tunables.QueryTimeout)
	// untouched tunables keep their defaults
	assert.Equal(t, 500, cfg.Tunables.MaxLimit)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, `
[[blocks]]
id = "x"
kind = "videos"
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	pubkey, npub := testPubKey(t)
	nprofile, err := nip19.EncodeProfile(pubkey, []string{"wss://hint.example"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		config  Config
		missing bool
		wantErr string
	}{
		{
			name:    "no author",
			config:  Config{Relays: []string{"wss://a.example"}},
			missing: true,
		},
		{
			name:    "no relays",
			config:  Config{Author: npub},
			missing: true,
		},
		{
			name:    "bad author",
			config:  Config{Author: "npub1garbage", Relays: []string{"wss://a.example"}},
			wantErr: "invalid author",
		},
		{
			name: "duplicate block",
			config: Config{Author: npub, Relays: []string{"wss://a.example"}, Blocks: []Block{
				{ID: "a", Kind: KindNotes},
				{ID: "a", Kind: KindArticles},
			}},
			wantErr: "duplicate block id",
		},
		{
			name: "block without kind",
			config: Config{Author: npub, Relays: []string{"wss://a.example"}, Blocks: []Block{
				{ID: "a"},
			}},
			wantErr: "has no kind",
		},
		{
			name: "negative count",
			config: Config{Author: npub, Relays: []string{"wss://a.example"}, Blocks: []Block{
				{ID: "a", Kind: KindNotes, Count: -1},
			}},
			wantErr: "negative",
		},
		{
			name:   "relays from nprofile",
			config: Config{Author: nprofile},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			switch {
			case tt.missing:
				assert.True(t, errors.Is(err, ErrConfigurationMissing))
			case tt.wantErr != "":
				assert.ErrorContains(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	pubkey, npub := testPubKey(t)
	cfg := Config{
		Author: npub,
		Relays: []string{"wss://a.example"},
		Blocks: []Block{{ID: "notes", Kind: KindNotes}},
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, pubkey, cfg.PubKey)
	assert.Equal(t, defaultBlockCount, cfg.Blocks[0].Count)
	assert.Equal(t, DefaultTunables(), cfg.Tunables)
}

func TestClone(t *testing.T) {
	cfg := &Config{
		Relays: []string{"wss://a.example"},
		Blocks: []Block{{ID: "notes", Kind: KindNotes, IDs: []string{"abc"}}},
	}

	clone := cfg.Clone()
	clone.Relays[0] = "wss://b.example"
	clone.Blocks[0].IDs[0] = "def"
	clone.Blocks[0].Count = 99

	assert.Equal(t, "wss://a.example", cfg.Relays[0])
	assert.Equal(t, "abc", cfg.Blocks[0].IDs[0])
	assert.Equal(t, 0, cfg.Blocks[0].Count)
}

func TestParseSubdomain(t *testing.T) {
	pubkey, npub := testPubKey(t)
	nprofile, err := nip19.EncodeProfile(pubkey, []string{"wss://a.example", "wss://b.example"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		subdomain string
		want      Params
	}{
		{"empty", "", Params{}},
		{"npub", npub, Params{"author": npub}},
		{"nprofile", nprofile, Params{"author": npub, "relays": "wss://a.example,wss://b.example"}},
		{
			name:      "settings",
			subdomain: "short-notes-min-chars-300.short-notes-5.top-notes-abc-def." + npub,
			want: Params{
				"author":                npub,
				"short-notes-min-chars": "300",
				"short-notes":           "5",
				"top-notes":             "abc-def",
			},
		},
		{"unknown labels", "www.blog", Params{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseSubdomain(tt.subdomain)
			require.NoError(t, err)
			assert.Equal(t, tt.want, params)
		})
	}
}

func TestParseSubdomainRejectsBadAuthor(t *testing.T) {
	_, err := ParseSubdomain("npub1notreallyakey")
	assert.ErrorContains(t, err, "invalid npub")
}

func TestApplyParams(t *testing.T) {
	_, npub := testPubKey(t)
	cfg := &Config{
		Relays: []string{"wss://a.example"},
		Blocks: []Block{{ID: "short-notes", Kind: KindNotes, Count: 10}},
	}

	err := cfg.ApplyParams(Params{
		"author":                npub,
		"relays":                "wss://a.example,wss://b.example",
		"short-notes":           "5",
		"short-notes-min-chars": "300",
		"top-notes":             "abc-def",
		"comments":              "yes",
	})
	require.NoError(t, err)

	assert.Equal(t, npub, cfg.Author)
	assert.Equal(t, []string{"wss://a.example", "wss://b.example"}, cfg.Relays)

	short, ok := cfg.Block("short-notes")
	require.True(t, ok)
	assert.Equal(t, 5, short.Count)
	assert.Equal(t, 300, short.MinChars)

	top, ok := cfg.Block("top-notes")
	require.True(t, ok)
	assert.Equal(t, KindNotes, top.Kind)
	assert.Equal(t, []string{"abc", "def"}, top.IDs)
}

func TestApplyParamsRejectsBadNumbers(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.ApplyParams(Params{"short-notes": "many"}))
	assert.Error(t, cfg.ApplyParams(Params{"short-notes-min-chars": "-4"}))
}

func TestBlockKindText(t *testing.T) {
	var kind BlockKind
	require.NoError(t, kind.UnmarshalText([]byte(" Images ")))
	assert.Equal(t, KindImages, kind)
	assert.Equal(t, []int{20}, kind.EventKinds())

	text, err := KindArticles.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "articles", string(text))
	assert.True(t, strings.HasPrefix(KindUnset.String(), "unset"))

	var style BlockStyle
	assert.Error(t, style.UnmarshalText([]byte("carousel")))
}
