// Package render turns event content into display-ready HTML
package render

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	njumpURL         = "https://njump.me/"
	shortEntityChars = 24
	maxLookups       = 8
)

var (
	userEntity     = regexp.MustCompile(`nostr:(?:npub1|nprofile1)\w+`)
	bareEntity     = regexp.MustCompile(`(?:nevent1|note1|npub1|nprofile1)\w+`)
	prefixedEntity = regexp.MustCompile(`nostr:(?:nevent1|note1|npub1|nprofile1)\w+`)
	nostrLink      = regexp.MustCompile(`\(nostr:([a-zA-Z0-9]+)\)`)
	markdownLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// NameResolver finds a display name for a profile code
type NameResolver interface {
	ShortName(ctx context.Context, code string) (string, error)
}

// UserEntities replaces nostr:npub1 and nostr:nprofile1 references with markdown
// links labelled with the profile name. References that cannot be resolved stay as they are.
func UserEntities(ctx context.Context, content string, resolver NameResolver) string {
	matches := lo.Uniq(userEntity.FindAllString(content, -1))
	if len(matches) == 0 {
		return content
	}

	names := make([]string, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxLookups)
	for i, match := range matches {
		g.Go(func() error {
			name, err := resolver.ShortName(gctx, strings.TrimPrefix(match, "nostr:"))
			if err != nil {
				log.WithFields(log.Fields{
					"entity": match,
					"error":  err,
				}).Debug("Failed to resolve profile")
				return nil
			}
			names[i] = name
			return nil
		})
	}
	_ = g.Wait()

	resolved := make(map[string]string, len(matches))
	for i, match := range matches {
		if names[i] != "" {
			resolved[match] = names[i]
		}
	}

	return replaceMatches(userEntity, content, func(match string, start, end int) (string, bool) {
		name, ok := resolved[match]
		// Already inside a markdown link
		if !ok || (start > 0 && content[start-1] == '(') {
			return "", false
		}
		return "[" + name + "](" + match + ")", true
	})
}

// EventEntities prefixes bare entities with nostr:, turns standalone references
// into shortened markdown links and points every nostr: link to njump
func EventEntities(content string) string {
	content = replaceMatches(bareEntity, content, func(match string, start, end int) (string, bool) {
		if !boundary(content, start-1, '(') || !boundary(content, end, ')') {
			return "", false
		}
		return "nostr:" + match, true
	})

	content = replaceMatches(prefixedEntity, content, func(match string, start, end int) (string, bool) {
		if !boundary(content, start-1, 0) || !boundary(content, end, 0) {
			return "", false
		}
		entity := strings.TrimPrefix(match, "nostr:")
		short := entity
		if len(short) > shortEntityChars {
			short = short[:shortEntityChars]
		}
		return "[" + short + "...](" + match + ")", true
	})

	return nostrLink.ReplaceAllString(content, "("+njumpURL+"${1})")
}

// CleanMarkdownLinks replaces markdown links with their text
func CleanMarkdownLinks(content string) string {
	return markdownLink.ReplaceAllString(content, "${1}")
}

// boundary reports whether the byte at i is the edge of the content, whitespace or extra
func boundary(content string, i int, extra byte) bool {
	if i < 0 || i >= len(content) {
		return true
	}
	c := content[i]
	return (extra != 0 && c == extra) || unicode.IsSpace(rune(c))
}

// replaceMatches rewrites every match of re for which fn returns true
func replaceMatches(re *regexp.Regexp, content string, fn func(match string, start, end int) (string, bool)) string {
	locations := re.FindAllStringIndex(content, -1)
	if len(locations) == 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, loc := range locations {
		replacement, ok := fn(content[loc[0]:loc[1]], loc[0], loc[1])
		if !ok {
			continue
		}
		b.WriteString(content[last:loc[0]])
		b.WriteString(replacement)
		last = loc[1]
	}
	b.WriteString(content[last:])
	return b.String()
}
