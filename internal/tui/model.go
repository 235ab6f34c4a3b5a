package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/igcli/internal/display"
)

var log = logrus.WithField("module", "tui")

// Executor 执行一行操作员输入
type Executor interface {
	Execute(ctx context.Context, line string) error
}

const (
	// PollInterval 重新读取缓冲区的间隔
	PollInterval = 200 * time.Millisecond
	// CommandTimeout 单条命令的超时
	CommandTimeout = 30 * time.Second

	defaultWidth  = 120
	defaultHeight = 40
)

type tickMsg time.Time

type commandDoneMsg struct {
	line string
	err  error
}

// Model 面板的 bubbletea 模型；数据全部来自 Board，模型本身只保存界面状态
type Model struct {
	board   *display.Board
	exec    Executor
	input   textinput.Model
	keys    keyMap
	onQuit  func()
	running int

	width  int
	height int
}

// NewModel 创建模型；onQuit 在退出按键时调用，可以为 nil
func NewModel(board *display.Board, exec Executor, onQuit func()) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "help"
	ti.CharLimit = 256
	ti.Focus()
	return Model{
		board:  board,
		exec:   exec,
		input:  ti,
		keys:   defaultKeyMap(),
		onQuit: onQuit,
		width:  defaultWidth,
		height: defaultHeight,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runCommand 在 bubbletea 的 goroutine 中执行命令，结果已写入操作消息
func runCommand(exec Executor, line string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		defer cancel()
		err := exec.Execute(ctx, line)
		return commandDoneMsg{line: line, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - len(m.input.Prompt) - 1
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.input.Reset()
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			m.running++
			return m, runCommand(m.exec, line)
		}

	case commandDoneMsg:
		if m.running > 0 {
			m.running--
		}
		if msg.err != nil {
			log.WithError(msg.err).WithField("input", msg.line).Debug("命令返回错误")
		}
		return m, nil

	case tickMsg:
		return m, tickCmd()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
