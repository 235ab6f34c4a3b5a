package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap 所有按键绑定都在这里，不在 Update 里硬编码
type keyMap struct {
	Quit   key.Binding
	Submit key.Binding
	Clear  key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:   key.NewBinding(key.WithKeys("ctrl+q", "ctrl+c"), key.WithHelp("ctrl+q", "quit")),
		Submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run command")),
		Clear:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear input")),
	}
}
