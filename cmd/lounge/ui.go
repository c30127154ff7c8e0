package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/queendesk/lounge/chat"
	"github.com/queendesk/lounge/stream"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	authorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	radioStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type (
	refreshMsg struct{}
	pingMsg    struct{}
	sentMsg    struct {
		draft string
		err   error
	}
	radioMsg struct{ err error }
)

type model struct {
	syncer *chat.Synchronizer
	radio  *stream.Reconnector
	handle string
	topic  string

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	rendered int
	notice   string
}

func newModel(syncer *chat.Synchronizer, radio *stream.Reconnector, handle, topic string) model {
	input := textinput.New()
	input.Placeholder = "Say something..."
	input.CharLimit = 500
	input.Focus()
	return model{
		syncer: syncer,
		radio:  radio,
		handle: handle,
		topic:  topic,
		input:  input,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick())
}

func tick() tea.Cmd {
	return tea.Tick(300*time.Millisecond, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 2
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.refreshFeed()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.radio.Stop()
			return m, tea.Quit
		case tea.KeyEnter:
			body := m.input.Value()
			m.input.Reset()
			m.notice = ""
			return m, sendCmd(m.syncer, body)
		case tea.KeyCtrlP:
			return m, m.togglePlayback()
		case tea.KeyCtrlN:
			return m, m.cycleSource()
		}

	case refreshMsg:
		m.refreshFeed()
		return m, tick()

	case pingMsg:
		// New remote message; the next refresh renders it. A bell is the
		// terminal stand-in for the notification sound.
		return m, tea.Printf("\a")

	case sentMsg:
		var sendErr *chat.SendError
		switch {
		case errors.As(msg.err, &sendErr):
			m.input.SetValue(sendErr.Draft)
			m.notice = "send failed, draft restored"
		case errors.Is(msg.err, chat.ErrEmptyMessage):
			// Nothing to say, nothing to do.
		case msg.err != nil:
			m.notice = msg.err.Error()
		}
		return m, nil

	case radioMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := fmt.Sprintf("%s  %s",
		headerStyle.Render("#"+m.topic),
		countStyle.Render(fmt.Sprintf("%d online", m.syncer.OnlineCount())),
	)

	st := m.radio.State()
	radioLine := radioStyle.Render(fmt.Sprintf("radio: %s [%s]  ctrl+p play/pause  ctrl+n next source",
		st.Source.Name, st.Status))
	if m.notice != "" {
		radioLine += "  " + errStyle.Render(m.notice)
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n%s", header, m.viewport.View(), radioLine, m.input.View())
}

func (m *model) refreshFeed() {
	msgs := m.syncer.Messages()
	if len(msgs) == m.rendered {
		return
	}
	var b strings.Builder
	for _, msg := range msgs {
		style := authorStyle
		if msg.Author == m.handle {
			style = selfStyle
		}
		fmt.Fprintf(&b, "%s %s %s\n",
			timeStyle.Render(msg.CreatedAt.Local().Format("15:04")),
			style.Render(msg.Author+":"),
			msg.Body,
		)
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
	m.rendered = len(msgs)
}

func (m *model) togglePlayback() tea.Cmd {
	if m.radio.State().Status == stream.Playing {
		m.radio.Pause()
		return nil
	}
	radio := m.radio
	return func() tea.Msg {
		return radioMsg{err: radio.Play()}
	}
}

func (m *model) cycleSource() tea.Cmd {
	sources := m.radio.Sources()
	current := m.radio.SourceID()
	for i, src := range sources {
		if src.ID == current {
			next := sources[(i+1)%len(sources)]
			if err := m.radio.SwitchSource(next.ID); err != nil {
				m.notice = err.Error()
			}
			break
		}
	}
	return nil
}

func sendCmd(syncer *chat.Synchronizer, body string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := syncer.Send(ctx, body)
		return sentMsg{draft: body, err: err}
	}
}
