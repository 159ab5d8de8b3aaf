package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"nostrfeed/models"
)

// Renderer runs the content pipeline: entity links, media embeds,
// typography and finally markdown to HTML
type Renderer struct {
	names    NameResolver
	markdown goldmark.Markdown
}

// NewRenderer creates a renderer. With a nil resolver profile references are
// linked without names.
func NewRenderer(names NameResolver) *Renderer {
	return &Renderer{
		names: names,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			// Media embeds are raw HTML
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Markdown returns the markdown produced for evt before HTML conversion
func (r *Renderer) Markdown(ctx context.Context, evt *nostr.Event) string {
	content := evt.Content
	if r.names != nil {
		content = UserEntities(ctx, content, r.names)
	}
	content = EventEntities(content)
	content = ImageURLs(content)
	content = VideoURLs(content)
	content = AudioURLs(content)
	content = SmartyPants(content)

	if evt.Kind == models.KindNote {
		content = strings.ReplaceAll(content, "\n", "\n<br/>")
	}

	// The title is shown above the content already
	if title := models.GetEventData(evt).Title; title != "" {
		content = strings.Replace(content, "# "+title, "", 1)
	}

	return content
}

// Render returns the HTML for evt
func (r *Renderer) Render(ctx context.Context, evt *nostr.Event) (string, error) {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(r.Markdown(ctx, evt)), &buf); err != nil {
		return "", fmt.Errorf("failed to render event %s: %w", evt.ID, err)
	}
	return buf.String(), nil
}
