package prompt

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/migrator/internal/autodetect"
)

func candidates() []autodetect.RenameCandidate {
	return []autodetect.RenameCandidate{
		{Kind: autodetect.RenameFieldKind, App: "polls", Model: "Question", OldName: "text", NewName: "body", Score: 0.91},
		{Kind: autodetect.RenameFieldKind, App: "polls", Model: "Question", OldName: "text", NewName: "title", Score: 0.84},
		{Kind: autodetect.RenameModelKind, App: "polls", OldName: "Answer", NewName: "Choice", Score: 0.77},
	}
}

func send(m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

var (
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keySpace = tea.KeyMsg{Type: tea.KeySpace}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
)

func TestNewModelPreselectsAutomaticChoice(t *testing.T) {
	m := NewModel(candidates())
	got := m.Selected()
	if len(got) != 2 {
		t.Fatalf("Expected 2 preselected candidates, got %d", len(got))
	}
	if got[0].NewName != "body" || got[1].NewName != "Choice" {
		t.Errorf("Expected body and Choice, got %v", got)
	}
}

func TestToggleKeepsNamesUnique(t *testing.T) {
	m, _ := send(NewModel(candidates()), keyDown, keySpace)
	got := m.Selected()
	if len(got) != 2 || got[0].NewName != "title" {
		t.Errorf("Expected title to replace body, got %v", got)
	}

	m, _ = send(m, keySpace)
	if len(m.Selected()) != 1 {
		t.Errorf("Expected toggling off to leave 1 candidate, got %d", len(m.Selected()))
	}
}

func TestRejectAllAndConfirm(t *testing.T) {
	m, cmd := send(NewModel(candidates()), tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}, keyEnter)
	if m.state != stateConfirmed {
		t.Errorf("Expected confirmed state, got %v", m.state)
	}
	if cmd == nil {
		t.Error("Expected quit command, got nil")
	}
	if len(m.Selected()) != 0 {
		t.Errorf("Expected nothing selected, got %v", m.Selected())
	}
}

func TestCancel(t *testing.T) {
	m, cmd := send(NewModel(candidates()), tea.KeyMsg{Type: tea.KeyCtrlC})
	if m.state != stateCancelled || cmd == nil {
		t.Errorf("Expected cancelled state with quit command, got %v", m.state)
	}
}

func TestCursorStaysInRange(t *testing.T) {
	m, _ := send(NewModel(candidates()), keyDown, keyDown, keyDown, keyDown)
	if m.cursor != 2 {
		t.Errorf("Expected cursor 2, got %d", m.cursor)
	}
	m, _ = send(m, tea.KeyMsg{Type: tea.KeyUp}, tea.KeyMsg{Type: tea.KeyUp}, tea.KeyMsg{Type: tea.KeyUp})
	if m.cursor != 0 {
		t.Errorf("Expected cursor 0, got %d", m.cursor)
	}
}

func TestView(t *testing.T) {
	view := NewModel(candidates()).View()
	for _, want := range []string{"Possible renames", "polls.Question.text", "Answer", "0.91", "enter confirm"} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected view to contain %q", want)
		}
	}
}

func TestResolverSkipsEmptyInput(t *testing.T) {
	got, err := (&Resolver{}).Resolve(nil)
	if err != nil || got != nil {
		t.Errorf("Expected nil result without prompting, got %v (%v)", got, err)
	}
}
