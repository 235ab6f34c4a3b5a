package tui

import (
	"context"
	"sync"
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/igcli/internal/display"
)

type recordExec struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordExec) Execute(ctx context.Context, line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(Model)
}

func TestQuitKeys(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyCtrlQ, tea.KeyCtrlC} {
		quits := 0
		m := NewModel(display.NewBoard(), &recordExec{}, func() { quits++ })
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		require.NotNil(t, cmd)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok)
		assert.Equal(t, 1, quits)
	}
}

func TestKeyBindingsBelongToModel(t *testing.T) {
	quits := 0
	rebound := NewModel(display.NewBoard(), &recordExec{}, func() { quits++ })
	rebound.keys.Quit = key.NewBinding(key.WithKeys("f10"))
	other := NewModel(display.NewBoard(), &recordExec{}, func() { quits++ })

	// 修改一个模型的按键表不影响另一个
	_, _ = rebound.Update(tea.KeyMsg{Type: tea.KeyCtrlQ})
	assert.Equal(t, 0, quits)

	_, cmd := rebound.Update(tea.KeyMsg{Type: tea.KeyF10})
	require.NotNil(t, cmd)
	assert.Equal(t, 1, quits)

	_, cmd = other.Update(tea.KeyMsg{Type: tea.KeyCtrlQ})
	require.NotNil(t, cmd)
	assert.Equal(t, 2, quits)
}

func TestEnterRunsCommand(t *testing.T) {
	exec := &recordExec{}
	m := NewModel(display.NewBoard(), exec, nil)
	m = typeText(t, m, "track epic1")
	assert.Equal(t, "track epic1", m.input.Value())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "", m.input.Value())
	assert.Equal(t, 1, m.running)

	done := cmd()
	assert.Equal(t, []string{"track epic1"}, exec.lines)

	next, _ = m.Update(done)
	assert.Equal(t, 0, next.(Model).running)
}

func TestEnterOnBlankInputDoesNothing(t *testing.T) {
	exec := &recordExec{}
	m := NewModel(display.NewBoard(), exec, nil)
	m = typeText(t, m, "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, exec.lines)
}

func TestViewShowsBuffers(t *testing.T) {
	board := display.NewBoard()
	board.Positions.Publish(1, "POSITIONS-TEXT")
	board.Trackers.Publish(1, "TRACKERS-TEXT")
	board.Orders.Publish(1, "ORDERS-TEXT")
	board.Activity.Publish(1, "ACTIVITY-TEXT")
	board.Status.Set("STATUS-TEXT")
	board.Messages.Append("hello operator")

	m := NewModel(board, &recordExec{}, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	view := next.(Model).View()
	for _, want := range []string{"POSITIONS-TEXT", "TRACKERS-TEXT", "ORDERS-TEXT", "ACTIVITY-TEXT", "STATUS-TEXT", "hello operator"} {
		assert.Contains(t, view, want)
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "a\nb", head("a\nb\nc", 2))
	assert.Equal(t, "", head("a", 0))
	assert.Equal(t, "b\nc", tail([]string{"a", "b", "c"}, 2))
}
