package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))

	statusStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))
)

// head 保留前 n 行
func head(text string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// tail 保留最后 n 行
func tail(lines []string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func panel(content string, width, height int) string {
	return panelStyle.
		Width(max(width-2, 1)).
		Height(max(height, 1)).
		MaxHeight(max(height, 1) + 2).
		Render(content)
}

// View 布局：持仓 | 跟踪/挂单，消息 | 活动，输入行，状态栏
func (m Model) View() string {
	width, height := m.width, m.height
	leftW := width / 2
	rightW := width - leftW

	avail := max(height-2-4, 4)
	topH := avail / 2
	midH := avail - topH
	trackersH := max((topH-2)/2, 1)
	ordersH := max(topH-2-trackersH, 1)

	positions := panel(head(m.board.Positions.Text(), topH), leftW, topH)
	right := lipgloss.JoinVertical(lipgloss.Left,
		panel(head(m.board.Trackers.Text(), trackersH), rightW, trackersH),
		panel(head(m.board.Orders.Text(), ordersH), rightW, ordersH),
	)
	top := lipgloss.JoinHorizontal(lipgloss.Top, positions, right)

	messages := panel(tail(m.board.Messages.Lines(), midH), leftW, midH)
	activity := panel(head(m.board.Activity.Text(), midH), rightW, midH)
	middle := lipgloss.JoinHorizontal(lipgloss.Top, messages, activity)

	prompt := m.input.View()
	if m.running > 0 {
		prompt += busyStyle.Render(fmt.Sprintf("  (%d running)", m.running))
	}
	status := statusStyle.Width(width).Render(m.board.Status.Text())

	return lipgloss.JoinVertical(lipgloss.Left, top, middle, prompt, status)
}
