package console

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// card is a labelled box in the transcript.
type card struct {
	label string
	tab   lipgloss.Style
	box   lipgloss.Style
}

func newCard(label, accent, background string, border lipgloss.Border) card {
	return card{
		label: label,
		tab: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("16")).
			Background(lipgloss.Color(accent)).
			Padding(0, 1),
		box: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color(accent)).
			Background(lipgloss.Color(background)).
			Padding(0, 1),
	}
}

func (c card) render(body string, width int) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		c.tab.Render(c.label),
		c.box.Width(width).Render(strings.TrimSpace(body)),
	)
}

type theme struct {
	cards map[string]card

	title  lipgloss.Style
	meta   lipgloss.Style
	rule   lipgloss.Style
	frame  lipgloss.Style
	prompt lipgloss.Style
	field  lipgloss.Style
	muted  lipgloss.Style

	idle lipgloss.Style
	busy lipgloss.Style
	fail lipgloss.Style
}

func defaultTheme() theme {
	bold := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color))
	}

	return theme{
		cards: map[string]card{
			roleUser:       newCard("you", "214", "235", lipgloss.RoundedBorder()),
			roleBot:        newCard("bot", "42", "234", lipgloss.RoundedBorder()),
			roleAttachment: newCard("file", "109", "236", lipgloss.NormalBorder()),
			roleError:      newCard("error", "203", "52", lipgloss.DoubleBorder()),
		},
		title: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("28")),
		meta:  lipgloss.NewStyle().Foreground(lipgloss.Color("151")),
		rule:  lipgloss.NewStyle().Foreground(lipgloss.Color("29")),
		frame: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("29")).Padding(0, 1),
		field: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("65")).
			Padding(0, 1),
		prompt: bold("229"),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		idle:   bold("250"),
		busy:   bold("222"),
		fail:   bold("203"),
	}
}

// RenderAnswer formats a single question and answer pair for one-shot output.
func RenderAnswer(question, answer string, width int) string {
	th := defaultTheme()
	width = max(40, width-6)

	return lipgloss.JoinVertical(lipgloss.Left,
		th.cards[roleUser].render(question, width),
		th.cards[roleBot].render(answer, width),
	) + "\n"
}

func renderGoodbyeBanner() string {
	return defaultTheme().title.Padding(1, 2).Render("📈 Thanks for using Mehran Bot")
}
