package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/research-kreat/kreat-agentic/internal/types"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
)

// renderCards turns an assistant's structured payload into bordered cards,
// one per known key that carries a value. Unknown keys are skipped here but
// survive in the message for export.
func renderCards(full map[string]any, width int) string {
	if len(full) == 0 {
		return ""
	}
	var cards []string
	for _, key := range types.CardKeys {
		value, ok := full[key]
		if !ok {
			continue
		}
		body := formatCardValue(value)
		if body == "" {
			continue
		}
		card := cardTitleStyle.Render(cardTitle(key)) + "\n" + body
		cards = append(cards, cardStyle.Width(width).Render(card))
	}
	return strings.Join(cards, "\n")
}

func cardTitle(key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

// formatCardValue renders strings as-is, lists as bullets, and maps as
// key: value lines. Anything else falls back to fmt.
func formatCardValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		var lines []string
		for _, item := range v {
			text := strings.TrimSpace(fmt.Sprint(item))
			if text != "" {
				lines = append(lines, "• "+text)
			}
		}
		return strings.Join(lines, "\n")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v[k]))
		}
		return strings.Join(lines, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
