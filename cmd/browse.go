package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"

	"nostrfeed/models"
)

const (
	choiceMore  = "More"
	choiceBack  = "Back to blocks"
	choiceQuit  = "Quit"
	previewRune = 280
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	endStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

func browseCmd() *cli.Command {
	return &cli.Command{
		Name:  "browse",
		Usage: "Page through the feeds interactively",
		Description: `Pick a feed block and page through it in the terminal.

Blocks share one registry, so an event shown in one block is not shown again
in another during the same session.`,
		Flags: pageFlags(),
		Action: func(ctx *cli.Context) error {
			rt, err := newFeedRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			for {
				id, err := prompt.New().Ask("Block:").Choose(append(rt.feeds.IDs(), choiceQuit))
				if err != nil {
					return ignoreQuit(err)
				}
				if id == choiceQuit {
					return nil
				}

				block, _ := rt.config.Block(id)
				for {
					page, err := rt.page(ctx, block, block.Count, block.MinChars, false)
					if err != nil {
						return err
					}
					fmt.Println(formatPage(page))

					choices := []string{choiceMore, choiceBack, choiceQuit}
					if page.End {
						choices = choices[1:]
					}
					choice, err := prompt.New().Ask("Next:").Choose(choices)
					if err != nil {
						return ignoreQuit(err)
					}
					if choice == choiceQuit {
						return nil
					}
					if choice == choiceBack {
						break
					}
				}
			}
		},
	}
}

// ignoreQuit treats ctrl-c in a prompt as a normal exit
func ignoreQuit(err error) error {
	if errors.Is(err, prompt.ErrUserQuit) {
		return nil
	}
	return err
}

func formatPage(page models.FeedResponse) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", page.Block, len(page.Items))))
	b.WriteString("\n\n")

	for _, item := range page.Items {
		b.WriteString(titleStyle.Render(item.Title))
		b.WriteString(" ")
		b.WriteString(dateStyle.Render(models.FormatDate(item.CreatedAt, true)))
		b.WriteString("\n")
		b.WriteString(idStyle.Render(item.ID))
		b.WriteString("\n")
		if preview := previewOf(item); preview != "" {
			b.WriteString(preview)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if page.End {
		b.WriteString(endStyle.Render("End of feed"))
		b.WriteString("\n")
	}
	return b.String()
}

func previewOf(item models.FeedItem) string {
	if len(item.Images) > 0 {
		return strings.Join(item.Images, "\n")
	}
	text := item.Summary
	if text == "" {
		text = item.Content
	}
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > previewRune {
		return string(runes[:previewRune]) + "…"
	}
	return string(runes)
}
