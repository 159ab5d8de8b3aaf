package render

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"

	"nostrfeed/config"
	"nostrfeed/models"
)

// Presenter turns events into the items a block displays
type Presenter interface {
	Present(ctx context.Context, evt *nostr.Event) models.FeedItem
}

// PresenterFor picks the presentation of a block. Image blocks always show a
// gallery, grids and sliders show cards, lists show the rendered content.
func PresenterFor(kind config.BlockKind, style config.BlockStyle, renderer *Renderer) Presenter {
	switch {
	case kind == config.KindImages:
		return galleryPresenter{}
	case style == config.StyleGrid, style == config.StyleSlider:
		return cardPresenter{}
	default:
		return fullPresenter{renderer: renderer}
	}
}

// fullPresenter includes the rendered HTML
type fullPresenter struct {
	renderer *Renderer
}

func (p fullPresenter) Present(ctx context.Context, evt *nostr.Event) models.FeedItem {
	item := models.FeedItem{EventData: models.GetEventData(evt)}

	html, err := p.renderer.Render(ctx, evt)
	if err != nil {
		log.WithFields(log.Fields{
			"id":    evt.ID,
			"error": err,
		}).Warn("Failed to render event")
		return item
	}
	item.HTML = html
	return item
}

// cardPresenter shows title, cover and a plain text summary
type cardPresenter struct{}

func (cardPresenter) Present(_ context.Context, evt *nostr.Event) models.FeedItem {
	data := models.GetEventData(evt)
	data.Summary = CleanMarkdownLinks(data.Summary)
	return models.FeedItem{EventData: data}
}

// galleryPresenter shows the images of the event only
type galleryPresenter struct{}

func (galleryPresenter) Present(_ context.Context, evt *nostr.Event) models.FeedItem {
	data := models.GetEventData(evt)
	if len(data.Images) == 0 && data.Image != "" {
		data.Images = []string{data.Image}
	}
	data.Content = ""
	return models.FeedItem{EventData: data}
}
