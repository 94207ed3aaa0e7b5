package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"PhantomQuery/internal/conversation"
	"PhantomQuery/internal/format"
)

const sidebarWidth = 28

var (
	sidebarStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	focusedBorder = lipgloss.Color("39")
	newChatStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	itemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	currentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cursorStyle   = lipgloss.NewStyle().Background(lipgloss.Color("236"))

	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	codeStyle       = lipgloss.NewStyle().Background(lipgloss.Color("235")).Foreground(lipgloss.Color("252")).Padding(0, 1)
	codeLangStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	quoteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	ruleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	strongStyle     = lipgloss.NewStyle().Bold(true)
	emphasisStyle   = lipgloss.NewStyle().Italic(true)
	inlineCodeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Background(lipgloss.Color("236"))
	strikeStyle     = lipgloss.NewStyle().Strikethrough(true)
	linkStyle       = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("75"))
	tagStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	inputStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func (m *Model) View() string {
	mainWidth := m.width - sidebarWidth - 4
	if mainWidth < 20 {
		mainWidth = 20
	}

	status := m.renderStatus(m.width)
	input := m.renderInput(mainWidth)
	threadHeight := m.height - lipgloss.Height(input) - lipgloss.Height(status)
	if threadHeight < 3 {
		threadHeight = 3
	}
	thread := m.renderThread(mainWidth, threadHeight)

	main := lipgloss.JoinVertical(lipgloss.Left, thread, input)
	sidebar := m.renderSidebar(lipgloss.Height(main) - 2)
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", main),
		status,
	)
}

func (m *Model) renderSidebar(height int) string {
	current, hasCurrent := m.store.Current()
	rows := []string{newChatStyle.Render("+ New Chat  (ctrl+n)")}
	for _, c := range m.store.Conversations() {
		title := truncate(c.Title, sidebarWidth-4)
		if hasCurrent && c.ID == current {
			rows = append(rows, currentStyle.Render("▸ "+title))
		} else {
			rows = append(rows, itemStyle.Render("  "+title))
		}
	}
	if m.focus == focusSidebar && m.cursor < len(rows) {
		rows[m.cursor] = cursorStyle.Render(rows[m.cursor])
	}

	style := sidebarStyle.Width(sidebarWidth).Height(max(height, 1))
	if m.focus == focusSidebar {
		style = style.BorderForeground(focusedBorder)
	}
	return style.Render(strings.Join(rows, "\n"))
}

// renderThread draws the messages bottom-anchored so the newest is always
// visible
func (m *Model) renderThread(width, height int) string {
	var parts []string
	for _, msg := range m.store.Messages() {
		parts = append(parts, renderMessage(msg, width))
	}
	if len(parts) == 0 {
		empty := metaStyle.Render("No messages yet. Type below and press enter.")
		return lipgloss.NewStyle().Width(width).Height(height).Render(empty)
	}

	lines := strings.Split(strings.Join(parts, "\n\n"), "\n")
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func renderMessage(msg conversation.Message, width int) string {
	header := assistantStyle.Render("PhantomQuery")
	if msg.Role == conversation.RoleUser {
		header = userStyle.Render("You")
	}
	if !msg.Timestamp.IsZero() {
		header += metaStyle.Render("  " + msg.Timestamp.Local().Format("15:04"))
	}
	switch msg.Status {
	case conversation.StatusPending:
		header += metaStyle.Render("  sending…")
	case conversation.StatusFailed:
		header += failedStyle.Render("  not sent")
	}
	return header + "\n" + RenderContent(msg.Content, width)
}

// RenderContent draws formatted content for the terminal
func RenderContent(content string, width int) string {
	nodes := format.Format(content)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, renderNode(n, width))
	}
	return strings.Join(out, "\n\n")
}

func renderNode(n format.Node, width int) string {
	switch n.Kind {
	case format.KindCode:
		body := codeStyle.Width(width).Render(n.Text)
		if n.Language == "" {
			return body
		}
		return codeLangStyle.Render(n.Language) + "\n" + body
	case format.KindMarkup:
		blocks := make([]string, 0, len(n.Blocks))
		for _, b := range n.Blocks {
			blocks = append(blocks, renderBlock(b, width))
		}
		return strings.Join(blocks, "\n")
	default:
		return lipgloss.NewStyle().Width(width).Render(n.Text)
	}
}

func renderBlock(b format.Block, width int) string {
	switch b.Kind {
	case format.BlockRule:
		return ruleStyle.Render(strings.Repeat("─", width))
	case format.BlockQuote:
		return quoteStyle.Width(width - 2).Render("│ " + renderInlines(b.Inlines))
	case format.BlockList:
		items := make([]string, len(b.Items))
		for i, item := range b.Items {
			bullet := "• "
			if b.Ordered {
				bullet = fmt.Sprintf("%d. ", i+1)
			}
			items[i] = "  " + bullet + renderInlines(item)
		}
		return strings.Join(items, "\n")
	default:
		return lipgloss.NewStyle().Width(width).Render(renderInlines(b.Inlines))
	}
}

func renderInlines(spans []format.Inline) string {
	var sb strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case format.InlineStrong:
			sb.WriteString(strongStyle.Render(renderInlines(s.Children)))
		case format.InlineEmphasis:
			sb.WriteString(emphasisStyle.Render(renderInlines(s.Children)))
		case format.InlineStrike:
			sb.WriteString(strikeStyle.Render(renderInlines(s.Children)))
		case format.InlineCode:
			sb.WriteString(inlineCodeStyle.Render(s.Text))
		case format.InlineLink:
			sb.WriteString(linkStyle.Render(renderInlines(s.Children)))
			sb.WriteString(metaStyle.Render(" (" + s.Href + ")"))
		case format.InlineTag:
			sb.WriteString(tagStyle.Render(s.Text))
		default:
			sb.WriteString(s.Text)
		}
	}
	return sb.String()
}

func (m *Model) renderInput(width int) string {
	text := m.store.Input()
	if text == "" && m.focus == focusInput {
		text = metaStyle.Render("Ask anything…  enter to send, alt+enter or ctrl+j for a new line")
	} else if m.focus == focusInput {
		text += "█"
	}
	style := inputStyle.Width(width)
	if m.focus == focusInput {
		style = style.BorderForeground(focusedBorder)
	}
	return style.Render(text)
}

func (m *Model) renderStatus(width int) string {
	parts := []string{"link: " + m.sender.State().String()}
	if id := m.store.ClientID(); id != "" {
		parts = append(parts, "client: "+id)
	}
	if r := m.store.LastReceived(); r != nil {
		parts = append(parts, fmt.Sprintf("last: %s %s", r.Type, r.Timestamp.Format("15:04:05")))
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	line := statusStyle.Render(strings.Join(parts, " · "))
	if e := m.store.LastError(); e != "" {
		line += "  " + errorStyle.Render("error: "+truncate(e, width/2))
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(line)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
