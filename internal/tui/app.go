// Package tui renders the client state store and forwards user actions to
// the flow engine. It holds no protocol logic: everything it shows comes
// from a store snapshot, and every action is an engine call.
package tui

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/research-kreat/kreat-agentic/internal/api"
	"github.com/research-kreat/kreat-agentic/internal/config"
	"github.com/research-kreat/kreat-agentic/internal/flow"
	"github.com/research-kreat/kreat-agentic/internal/retry"
	"github.com/research-kreat/kreat-agentic/internal/state"
	"github.com/research-kreat/kreat-agentic/internal/types"
	"github.com/research-kreat/kreat-agentic/internal/utils"
)

const (
	focusComposer = iota
	focusSidebar
)

const sidebarWidth = 32

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	activeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	removingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)

	userStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	assistantStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Italic(true)
	banner      = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

type stateMsg struct{}

type opErrMsg struct {
	source string
	err    error
}

type exportedMsg struct{ path string }

type tickMsg time.Time

type model struct {
	cfg    *config.Config
	logger *utils.Logger
	engine *flow.Engine
	store  *state.Store
	ctx    context.Context

	width  int
	height int
	focus  int

	sessionsList list.Model
	chatViewport viewport.Model
	logViewport  viewport.Model
	msgInput     textarea.Model
	renameInput  textinput.Model
	spinner      spinner.Model
	keys         keyMap
	help         help.Model

	showHelp      bool
	showLogs      bool
	renameMode    bool
	confirmDelete string
	errMsg        string
	notice        string
}

// Run wires the transports, store and engine together and drives the TUI
// until quit.
func Run(cfg *config.Config, logger *utils.Logger) error {
	cache := state.NewDiskCache(cfg.DataDir, cfg.RecentResults)
	identity, err := cache.LoadIdentity()
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	store := state.NewStore(cfg.ActivityLines)
	store.SetIdentity(identity.UserID)

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	client := api.NewClient(cfg.APIURL, identity.UserID, httpClient, logger)
	engine := flow.NewEngine(cfg, client, store, cache, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	push := api.NewPushChannel(client, retry.Linear(cfg.ReconnectAttempts, cfg.ReconnectUnit), logger)
	go push.Run(ctx)
	go engine.Pump(push.Events())

	m := newModel(ctx, cfg, logger, engine, store)
	p := tea.NewProgram(m, tea.WithAltScreen())
	engine.SetNotifier(func() { p.Send(stateMsg{}) })

	_, err = p.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	engine.Shutdown(shutdownCtx)
	return err
}

func newModel(ctx context.Context, cfg *config.Config, logger *utils.Logger, engine *flow.Engine, store *state.Store) model {
	msgInput := textarea.New()
	msgInput.Placeholder = "message"
	msgInput.Prompt = ""
	msgInput.ShowLineNumbers = false
	msgInput.SetHeight(3)
	msgInput.Focus()

	renameInput := textinput.New()
	renameInput.Placeholder = "new session name"

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = dimStyle

	delegate := list.NewDefaultDelegate()
	sessions := list.New(nil, delegate, sidebarWidth, 10)
	sessions.Title = "Sessions"
	sessions.SetShowStatusBar(false)
	sessions.SetShowHelp(false)

	return model{
		cfg:          cfg,
		logger:       logger,
		engine:       engine,
		store:        store,
		ctx:          ctx,
		focus:        focusComposer,
		sessionsList: sessions,
		chatViewport: viewport.New(0, 0),
		logViewport:  viewport.New(0, 8),
		msgInput:     msgInput,
		renameInput:  renameInput,
		spinner:      spin,
		keys:         defaultKeyMap,
		help:         help.New(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.openCmd(""), m.refreshCmd(), tickCmd(), m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.syncChat()
		return m, nil

	case stateMsg:
		m.syncSessions()
		m.syncChat()
		return m, nil

	case opErrMsg:
		// Engine already surfaced the failure in the store; keep a short
		// line in the footer too.
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		m.syncChat()
		return m, nil

	case exportedMsg:
		m.notice = "exported to " + msg.path
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.catchUpCmd(), tickCmd())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	if m.confirmDelete != "" {
		switch msg.String() {
		case "y", "enter":
			id := m.confirmDelete
			m.confirmDelete = ""
			return m, m.deleteCmd(id)
		case "n", "esc":
			m.confirmDelete = ""
		}
		return m, nil
	}

	if m.renameMode {
		switch msg.String() {
		case "enter":
			name := m.renameInput.Value()
			m.renameMode = false
			m.renameInput.Blur()
			m.msgInput.Focus()
			return m, m.renameCmd(name)
		case "esc":
			m.renameMode = false
			m.renameInput.Blur()
			m.msgInput.Focus()
			return m, nil
		}
		var cmd tea.Cmd
		m.renameInput, cmd = m.renameInput.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
		m.syncLogs()
		return m, nil
	case key.Matches(msg, m.keys.New):
		return m, m.openCmd("")
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshCmd()
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Clear):
		return m, m.clearCmd()
	case key.Matches(msg, m.keys.Rename):
		m.renameMode = true
		if session, ok := m.store.Session(); ok {
			m.renameInput.SetValue(session.Name)
		}
		m.msgInput.Blur()
		m.renameInput.Focus()
		return m, nil
	case key.Matches(msg, m.keys.Delete):
		if id := m.selectedSessionID(); id != "" {
			m.confirmDelete = id
		}
		return m, nil
	case key.Matches(msg, m.keys.Focus):
		if m.focus == focusComposer {
			m.focus = focusSidebar
			m.msgInput.Blur()
		} else {
			m.focus = focusComposer
			m.msgInput.Focus()
		}
		return m, nil
	}

	if m.focus == focusSidebar {
		if msg.String() == "enter" {
			if id := m.selectedSessionID(); id != "" {
				m.focus = focusComposer
				m.msgInput.Focus()
				return m, m.openCmd(id)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.sessionsList, cmd = m.sessionsList.Update(msg)
		return m, cmd
	}

	// Composer focus: enter sends, alt+enter inserts a newline.
	if key.Matches(msg, m.keys.Send) && !msg.Alt {
		text := m.msgInput.Value()
		m.msgInput.Reset()
		m.errMsg = ""
		m.notice = ""
		return m, m.sendCmd(text)
	}

	var cmd tea.Cmd
	m.msgInput, cmd = m.msgInput.Update(msg)
	return m, cmd
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	header := m.renderHeader()
	sidebar := m.sessionsList.View()
	chat := m.chatViewport.View()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", chat)

	sections := []string{header, body}

	if m.store.Typing() {
		sections = append(sections, dimStyle.Render(m.spinner.View()+" assistant is thinking..."))
	}

	if m.renameMode {
		sections = append(sections, "rename: "+m.renameInput.View())
	} else if m.store.InputBlocked() {
		sections = append(sections, errStyle.Render("input disabled — create or select another session (ctrl+n)"))
	} else {
		sections = append(sections, m.msgInput.View())
	}

	if m.showLogs {
		sections = append(sections, dimStyle.Render("activity"), m.logViewport.View())
	}

	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	title := "KRAFT"
	if session, ok := m.store.Session(); ok {
		title = fmt.Sprintf("KRAFT — %s [%s] (%d messages)", session.Name, session.Type, m.store.MessageCount())
	}
	line := headerStyle.Render(title)
	if m.store.Disconnected() {
		line += "  " + banner.Render("live updates lost — reload to reconnect")
	}
	return line
}

func (m model) renderFooter() string {
	if m.confirmDelete != "" {
		return banner.Render("delete session " + m.confirmDelete + "? (y/n)")
	}
	if m.errMsg != "" {
		return errStyle.Render(m.errMsg)
	}
	if m.notice != "" {
		return footerStyle.Render(m.notice)
	}
	if m.showHelp {
		return m.help.FullHelpView(m.keys.FullHelp())
	}
	return footerStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp()))
}

func (m *model) layout() {
	chatWidth := m.width - sidebarWidth - 1
	if chatWidth < 20 {
		chatWidth = 20
	}
	chatHeight := m.height - 10
	if m.showLogs {
		chatHeight -= 9
	}
	if chatHeight < 5 {
		chatHeight = 5
	}
	m.chatViewport.Width = chatWidth
	m.chatViewport.Height = chatHeight
	m.logViewport.Width = m.width
	m.sessionsList.SetSize(sidebarWidth, chatHeight)
	m.msgInput.SetWidth(m.width - 2)
}

func (m *model) syncSessions() {
	m.sessionsList.SetItems(buildSessionItems(m.store.Summaries(), m.store.SessionID()))
}

func (m *model) syncChat() {
	width := m.chatViewport.Width
	if width <= 0 {
		width = 60
	}
	bubbleWidth := width - 4

	var parts []string
	for _, msg := range m.store.History() {
		parts = append(parts, renderMessage(msg, bubbleWidth))
	}
	if pending := m.engine.StreamingText(); pending != "" {
		parts = append(parts, assistantStyle.Width(bubbleWidth).Render(pending+" ▍"))
	}
	m.chatViewport.SetContent(strings.Join(parts, "\n"))
	m.chatViewport.GotoBottom()
	m.syncLogs()
}

func (m *model) syncLogs() {
	if !m.showLogs {
		return
	}
	entries := m.store.Activity()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		line := fmt.Sprintf("%s [%s] %s: %s",
			entry.Time.Format("15:04:05"), entry.Level, entry.Source, entry.Text)
		lines = append(lines, ansi.Truncate(line, m.width, "..."))
	}
	m.logViewport.SetContent(strings.Join(lines, "\n"))
	m.logViewport.GotoBottom()
}

func (m model) selectedSessionID() string {
	item, ok := m.sessionsList.SelectedItem().(sessionItem)
	if !ok {
		return m.store.SessionID()
	}
	return item.data.ID
}

func renderMessage(msg types.Message, width int) string {
	switch {
	case msg.Error:
		return errorStyle.Render("! " + msg.Content)
	case msg.Role == "system":
		return systemStyle.Render(msg.Content)
	case msg.Role == "user":
		return userStyle.Width(width).Render(msg.Content)
	default:
		body := assistantStyle.Width(width).Render(msg.Content)
		if cards := renderCards(msg.FullResponse, width); cards != "" {
			body += "\n" + cards
		}
		return body
	}
}

func (m model) openCmd(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.engine.Open(m.ctx, id); err != nil {
			return opErrMsg{source: "open", err: err}
		}
		return stateMsg{}
	}
}

func (m model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		if err := m.engine.Send(m.ctx, text); err != nil {
			return opErrMsg{source: "send", err: err}
		}
		return stateMsg{}
	}
}

func (m model) deleteCmd(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.engine.Delete(m.ctx, id); err != nil {
			return opErrMsg{source: "delete", err: err}
		}
		return stateMsg{}
	}
}

func (m model) clearCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.engine.Clear(m.ctx); err != nil {
			return opErrMsg{source: "clear", err: err}
		}
		return stateMsg{}
	}
}

func (m model) renameCmd(name string) tea.Cmd {
	return func() tea.Msg {
		if err := m.engine.Rename(m.ctx, name); err != nil {
			return opErrMsg{source: "rename", err: err}
		}
		return stateMsg{}
	}
}

func (m model) exportCmd() tea.Cmd {
	return func() tea.Msg {
		path, err := m.engine.Export(".")
		if err != nil {
			return opErrMsg{source: "export", err: err}
		}
		return exportedMsg{path: path}
	}
}

func (m model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		m.engine.RefreshSessions(m.ctx)
		return stateMsg{}
	}
}

func (m model) catchUpCmd() tea.Cmd {
	return func() tea.Msg {
		m.engine.CatchUp(m.ctx)
		return stateMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
