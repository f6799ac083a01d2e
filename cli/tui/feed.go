package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/dispipe/runtime"
	"github.com/pithecene-io/dispipe/types"
)

// DefaultDepth is how many events each pipe section keeps.
const DefaultDepth = 5

// maxTextWidth caps the frame text shown on one feed line.
const maxTextWidth = 72

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// EventMsg delivers a relay event to the feed.
type EventMsg runtime.Event

// StoppedMsg tells the feed the relay has stopped. The feed quits.
type StoppedMsg struct {
	Err error
}

type pipeFeed struct {
	label     string
	channelID uint64
	events    []runtime.Event
}

// Model is the Bubble Tea model of the live feed.
type Model struct {
	pipes []*pipeFeed
	index map[string]*pipeFeed
	depth int

	delivered  int
	sendFailed int
	readFailed int

	width    int
	quitting bool
	err      error
}

// NewModel creates a feed with one section per mapping, in mapping order.
// depth <= 0 means DefaultDepth.
func NewModel(mappings []types.PipeMapping, depth int) Model {
	if depth <= 0 {
		depth = DefaultDepth
	}
	m := Model{index: make(map[string]*pipeFeed, len(mappings)), depth: depth}
	for _, pm := range mappings {
		m.section(pm.Label, pm.ChannelID)
	}
	return m
}

func (m *Model) section(label string, channelID uint64) *pipeFeed {
	p, ok := m.index[label]
	if !ok {
		p = &pipeFeed{label: label, channelID: channelID}
		m.index[label] = p
		m.pipes = append(m.pipes, p)
	}
	return p
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}

	case EventMsg:
		m.record(runtime.Event(msg))
		return m, nil

	case StoppedMsg:
		m.err = msg.Err
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// record appends e to its pipe section, keeping the last depth events.
func (m *Model) record(e runtime.Event) {
	p := m.section(e.Label, e.ChannelID)
	events := make([]runtime.Event, 0, m.depth)
	if n := len(p.events); n >= m.depth {
		events = append(events, p.events[n-m.depth+1:]...)
	} else {
		events = append(events, p.events...)
	}
	p.events = append(events, e)

	switch e.Kind {
	case runtime.EventDelivered:
		m.delivered++
	case runtime.EventSendFailed:
		m.sendFailed++
	case runtime.EventReadFailed:
		m.readFailed++
	}
}

// Err returns the error the relay stopped with, if any.
func (m Model) Err() error {
	return m.err
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("dispipe " + types.Version))
	b.WriteString("\n")

	boxes := []string{
		renderStatBox("Delivered", m.delivered, successColor),
		renderStatBox("Send failed", m.sendFailed, errorColor),
		renderStatBox("Read failed", m.readFailed, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	if len(m.pipes) == 0 {
		b.WriteString("\n")
		b.WriteString(MutedStyle.Render("no pipes configured"))
		b.WriteString("\n")
	}
	for _, p := range m.pipes {
		b.WriteString("\n")
		b.WriteString(PipeStyle.Render(fmt.Sprintf("%s -> #%d", p.label, p.channelID)))
		b.WriteString("\n")
		if len(p.events) == 0 {
			b.WriteString(MutedStyle.Render("  waiting for a writer"))
			b.WriteString("\n")
			continue
		}
		for _, e := range p.events {
			b.WriteString("  ")
			b.WriteString(renderEvent(e))
			b.WriteString("\n")
		}
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to stop the relay"))
	return b.String()
}

func renderEvent(e runtime.Event) string {
	at := MutedStyle.Render(e.At.Format(time.TimeOnly))
	kind := KindStyle(e.Kind).Render(fmt.Sprintf("%-11s", e.Kind))

	var detail string
	switch e.Kind {
	case runtime.EventDelivered:
		detail = ValueStyle.Render(clip(e.Text))
		if e.Truncated {
			detail += " " + WarningStyle.Render("(truncated)")
		}
	case runtime.EventSendFailed:
		detail = ValueStyle.Render(clip(e.Text))
		if e.Err != nil {
			detail += " " + ErrorStyle.Render(e.Err.Error())
		}
	default:
		if e.Err != nil {
			detail = WarningStyle.Render(e.Err.Error())
		}
	}
	return at + " " + kind + " " + detail
}

// clip makes frame text printable on one line.
func clip(text string) string {
	text = strings.TrimRight(text, "\r\n")
	text = strings.ReplaceAll(text, "\n", " ")
	if r := []rune(text); len(r) > maxTextWidth {
		return string(r[:maxTextWidth-1]) + "…"
	}
	return text
}

func renderStatBox(label string, value int, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

// Feed runs the model as a Bubble Tea program and forwards relay events to
// it. It implements runtime.Recorder.
type Feed struct {
	program *tea.Program
}

// NewFeed creates a feed for the given mappings.
func NewFeed(mappings []types.PipeMapping, depth int, opts ...tea.ProgramOption) *Feed {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &Feed{program: tea.NewProgram(NewModel(mappings, depth), opts...)}
}

// Record implements runtime.Recorder.
func (f *Feed) Record(e runtime.Event) {
	f.program.Send(EventMsg(e))
}

// Stop ends the feed after the relay has stopped.
func (f *Feed) Stop(err error) {
	f.program.Send(StoppedMsg{Err: err})
}

// Run blocks until the user quits or Stop is called.
func (f *Feed) Run() error {
	_, err := f.program.Run()
	return err
}
