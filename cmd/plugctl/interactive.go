package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/plugkit/plugkit/engine"
	"github.com/plugkit/plugkit/loader"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	loadedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	retainedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB347"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type uiState int

const (
	stateBrowse uiState = iota
	stateBindInput
)

type interactiveModel struct {
	ctx      context.Context
	eng      *engine.Engine
	registry *loader.Registry
	handles  []*loader.Handle
	input    textinput.Model
	status   string
	selected int
	state    uiState
}

func runInteractive(modulePath string, wasi bool) error {
	ctx := context.Background()

	eng, err := engine.NewWithConfig(ctx, &engine.Config{EnableWASI: wasi})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Shutdown(ctx)

	reg := loader.NewRegistry(eng)

	h, err := loader.NewHandle(ctx, reg, modulePath, true)
	if err != nil {
		return fmt.Errorf("bind handle: %w", err)
	}

	input := textinput.New()
	input.Placeholder = "path/to/plugin.wasm"
	input.CharLimit = 256

	m := interactiveModel{
		ctx:      ctx,
		eng:      eng,
		registry: reg,
		handles:  []*loader.Handle{h},
		input:    input,
	}

	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}

func (m interactiveModel) Init() tea.Cmd {
	return nil
}

func (m interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.state == stateBindInput {
		switch keyMsg.String() {
		case "enter":
			path := strings.TrimSpace(m.input.Value())
			if path != "" {
				h, err := loader.NewHandle(m.ctx, m.registry, path, true)
				if err != nil {
					m.status = errorStyle.Render(err.Error())
				} else {
					m.handles = append(m.handles, h)
					m.selected = len(m.handles) - 1
					m.status = "bound " + path
				}
			}
			m.input.Reset()
			m.state = stateBrowse
			return m, nil
		case "esc":
			m.input.Reset()
			m.state = stateBrowse
			return m, nil
		default:
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
	}

	switch keyMsg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.handles)-1 {
			m.selected++
		}
	case "l":
		h := m.handles[m.selected]
		if err := h.Load(m.ctx); err != nil {
			m.status = errorStyle.Render(err.Error())
		} else {
			m.status = "loaded " + h.LibraryPath()
		}
	case "u":
		h := m.handles[m.selected]
		res, err := h.Unload(m.ctx)
		switch {
		case err != nil:
			m.status = errorStyle.Render(err.Error())
		case res.Outcome == loader.OutcomeRetained:
			m.status = retainedStyle.Render("retained: " + res.Reason)
		default:
			m.status = fmt.Sprintf("unload: %s, %d request(s) remaining", res.Outcome, res.Remaining)
		}
	case "+":
		n := m.handles[m.selected].IncrementPluginRefCount()
		m.status = fmt.Sprintf("plugin instances: %d", n)
	case "-":
		n := m.handles[m.selected].DecrementPluginRefCount(m.ctx)
		m.status = fmt.Sprintf("plugin instances: %d", n)
	case "n":
		m.state = stateBindInput
		return m, m.input.Focus()
	}
	return m, nil
}

func (m interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("plugkit handles"))
	b.WriteString("\n\n")

	for i, h := range m.handles {
		line := fmt.Sprintf("%s  load=%d plugin=%d loaded=%v owners=%d",
			pathStyle.Render(h.LibraryPath()),
			h.LoadRefCount(),
			h.PluginRefCount(),
			h.IsLibraryLoaded(),
			m.registry.OwnerCount(h.LibraryPath()),
		)
		if i == m.selected {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(loadedStyle.Render(fmt.Sprintf("resident libraries: %v", m.registry.LoadedPaths())))
	b.WriteByte('\n')
	if n := m.registry.UnmanagedInstanceCount(); n > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf("unmanaged instances recorded: %d", n)))
		b.WriteByte('\n')
	}
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteByte('\n')
	}

	if m.state == stateBindInput {
		b.WriteString("\nbind new handle: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter: bind • esc: cancel"))
	} else {
		b.WriteString(helpStyle.Render("\nl: load • u: unload • +/-: plugin instances • n: new handle • j/k: select • q: quit"))
	}
	b.WriteByte('\n')

	return b.String()
}
