// Package prompt asks the user which detected rename candidates are real
// renames.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/migrator/internal/autodetect"
)

// ErrCancelled is returned when the user quits without confirming
var ErrCancelled = errors.New("rename selection cancelled")

type promptState int

const (
	stateChoosing promptState = iota
	stateConfirmed
	stateCancelled
)

// Model is the bubbletea model behind the rename prompt
type Model struct {
	candidates []autodetect.RenameCandidate
	accepted   []bool
	cursor     int
	state      promptState
}

// NewModel lists candidates with the automatic choice preselected
func NewModel(candidates []autodetect.RenameCandidate) Model {
	m := Model{
		candidates: candidates,
		accepted:   make([]bool, len(candidates)),
	}
	auto, _ := autodetect.AutoResolver{}.Resolve(candidates)
	for _, a := range auto {
		for i, c := range candidates {
			if c == a {
				m.accepted[i] = true
			}
		}
	}
	return m
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.state = stateCancelled
		return m, tea.Quit
	case "enter":
		m.state = stateConfirmed
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.candidates)-1 {
			m.cursor++
		}
	case " ", "x":
		m.toggle(m.cursor)
	case "n":
		for i := range m.accepted {
			m.accepted[i] = false
		}
	}
	return m, nil
}

// toggle flips candidate i; accepting it drops any accepted candidate that
// claims the same old or new name
func (m *Model) toggle(i int) {
	if i < 0 || i >= len(m.candidates) {
		return
	}
	accepted := append([]bool(nil), m.accepted...)
	accepted[i] = !accepted[i]
	if accepted[i] {
		c := m.candidates[i]
		for j, other := range m.candidates {
			if j == i || !accepted[j] || !sameScope(c, other) {
				continue
			}
			if other.OldName == c.OldName || other.NewName == c.NewName {
				accepted[j] = false
			}
		}
	}
	m.accepted = accepted
}

func sameScope(a, b autodetect.RenameCandidate) bool {
	return a.Kind == b.Kind && a.App == b.App && a.Model == b.Model
}

// Selected returns the accepted candidates in list order
func (m Model) Selected() []autodetect.RenameCandidate {
	var out []autodetect.RenameCandidate
	for i, c := range m.candidates {
		if m.accepted[i] {
			out = append(out, c)
		}
	}
	return out
}

func (m Model) View() string {
	if m.state != stateChoosing {
		return ""
	}
	var b strings.Builder
	b.WriteString(renderHeader("Possible renames"))
	b.WriteString("\n\n")
	for i, c := range m.candidates {
		pointer := "  "
		if i == m.cursor {
			pointer = cursorStyle.Render(iconArrow) + " "
		}
		line := describe(c)
		if m.accepted[i] {
			line = acceptedStyle.Render(iconAccepted + " rename " + line)
		} else {
			line = rejectedStyle.Render(iconRejected + " remove + add " + line)
		}
		b.WriteString(pointer + line + " " + scoreStyle.Render(fmt.Sprintf("%.2f", c.Score)) + "\n")
	}
	b.WriteString(renderStatusBar("↑/↓ move • space toggle • n reject all • enter confirm • q cancel"))
	b.WriteString("\n")
	return b.String()
}

func describe(c autodetect.RenameCandidate) string {
	if c.Kind == autodetect.RenameModelKind {
		return fmt.Sprintf("model %s.%s → %s", c.App, c.OldName, c.NewName)
	}
	return fmt.Sprintf("field %s.%s.%s → %s", c.App, c.Model, c.OldName, c.NewName)
}

// Resolver implements autodetect.RenameResolver with an interactive prompt
type Resolver struct {
	In  io.Reader
	Out io.Writer
}

func NewResolver() *Resolver {
	return &Resolver{In: os.Stdin, Out: os.Stdout}
}

func (r *Resolver) Resolve(candidates []autodetect.RenameCandidate) ([]autodetect.RenameCandidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	var opts []tea.ProgramOption
	if r.In != nil {
		opts = append(opts, tea.WithInput(r.In))
	}
	if r.Out != nil {
		opts = append(opts, tea.WithOutput(r.Out))
	}
	final, err := tea.NewProgram(NewModel(candidates), opts...).Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run rename prompt: %w", err)
	}
	m := final.(Model)
	if m.state != stateConfirmed {
		return nil, ErrCancelled
	}
	return m.Selected(), nil
}
