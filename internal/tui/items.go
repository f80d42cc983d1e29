package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/research-kreat/kreat-agentic/internal/state"
)

type sessionItem struct {
	data   state.Summary
	active bool
}

func (i sessionItem) Title() string {
	title := previewText(i.data.Name, 28)
	if title == "" {
		title = i.data.ID
	}
	switch {
	case i.data.Removing:
		return removingStyle.Render(title)
	case i.data.Highlight:
		return highlightStyle.Render(title)
	case i.active:
		return activeStyle.Render(title)
	}
	return title
}

func (i sessionItem) Description() string {
	desc := i.data.Type
	if i.data.CreatedAt != "" {
		created := i.data.CreatedAt
		if len(created) >= 10 {
			created = created[:10]
		}
		desc = fmt.Sprintf("%s - %s", i.data.Type, created)
	}
	if i.data.Removing {
		return removingStyle.Render(desc + " (removing)")
	}
	return desc
}

func (i sessionItem) FilterValue() string { return i.data.ID + " " + i.data.Name }

func buildSessionItems(in []state.Summary, activeID string) []list.Item {
	items := make([]list.Item, 0, len(in))
	for _, entry := range in {
		items = append(items, sessionItem{data: entry, active: entry.ID == activeID})
	}
	return items
}

func previewText(text string, limit int) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
