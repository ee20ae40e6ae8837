package progress

import (
	"context"
	"fmt"
	"io"
	"strings"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"yt-comment-collector/internal/model"
	"yt-comment-collector/internal/retry"
)

const recentLines = 6

type runStartedMsg struct {
	runID   string
	channel string
	total   int
}

type itemStartedMsg struct {
	item     model.WorkItem
	position int
	total    int
}

type attemptMsg retry.Attempt

type commentsMsg struct {
	id    string
	count int
}

type eventMsg model.Event

type finishedMsg struct {
	summary model.Summary
	err     error
}

var (
	liveTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	liveMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	liveErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	liveOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	liveWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Model is the live collection view. It only reflects events; the run itself
// happens on another goroutine.
type Model struct {
	channel string
	runID   string
	total   int

	position int
	current  model.WorkItem
	fetching bool
	comments int
	attempt  int
	maxTries int
	retryMsg string

	completed int
	failed    int
	skipped   int
	deferred  int
	recent    []string

	spinner spinner.Model
	bar     progressbar.Model
	width   int

	cancel       context.CancelFunc
	interrupting bool
	done         bool
	summary      model.Summary
	err          error
}

func NewModel(channel string, cancel context.CancelFunc) Model {
	return Model{
		channel: channel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		bar:     progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithWidth(40)),
		cancel:  cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.interrupting && m.cancel != nil {
				m.cancel()
			}
			m.interrupting = true
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 20; w > 10 {
			m.bar.Width = min(w, 60)
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case runStartedMsg:
		m.runID, m.channel, m.total = msg.runID, msg.channel, msg.total
		return m, nil
	case itemStartedMsg:
		m.current = msg.item
		m.position, m.total = msg.position, msg.total
		m.fetching = true
		m.comments, m.attempt, m.retryMsg = 0, 1, ""
		return m, nil
	case attemptMsg:
		m.maxTries = msg.Max
		if msg.Err != nil && msg.Wait > 0 {
			m.attempt = msg.Number + 1
			m.retryMsg = fmt.Sprintf("attempt %d/%d failed, retrying in %s", msg.Number, msg.Max, msg.Wait)
		}
		return m, nil
	case commentsMsg:
		if msg.id == m.current.ID {
			m.comments = msg.count
		}
		return m, nil
	case eventMsg:
		m.applyEvent(model.Event(msg))
		return m, nil
	case finishedMsg:
		m.done = true
		m.fetching = false
		m.summary, m.err = msg.summary, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) applyEvent(ev model.Event) {
	m.position, m.total = ev.Position, ev.Total
	var line string
	switch ev.Outcome {
	case model.OutcomeSkipped:
		m.skipped++
		return
	case model.OutcomeCompleted:
		m.completed++
		line = liveOKStyle.Render("done ") + fmt.Sprintf(" %s  %d comments", ev.Item.ID, ev.Comments)
	case model.OutcomeFailed:
		m.failed++
		line = liveErrorStyle.Render("fail ") + fmt.Sprintf(" %s  %s", ev.Item.ID, oneLine(ev.Err))
	case model.OutcomeDeferred:
		m.deferred++
		line = liveWarnStyle.Render("defer") + fmt.Sprintf(" %s  %s", ev.Item.ID, oneLine(ev.Err))
	}
	if ev.Item.ID == m.current.ID {
		m.fetching = false
	}
	m.recent = append(m.recent, line)
	if len(m.recent) > recentLines {
		m.recent = m.recent[len(m.recent)-recentLines:]
	}
}

func (m Model) processed() int {
	return m.completed + m.failed + m.skipped + m.deferred
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(liveTitleStyle.Render("yt-comment-collector"))
	if m.channel != "" {
		b.WriteString(liveMutedStyle.Render("  " + m.channel))
	}
	b.WriteString("\n\n")

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.processed()) / float64(m.total)
	}
	fmt.Fprintf(&b, "%s  %d/%d\n", m.bar.ViewAs(pct), m.processed(), m.total)
	fmt.Fprintf(&b, "%s\n\n", liveMutedStyle.Render(fmt.Sprintf(
		"completed %d  failed %d  skipped %d  deferred %d",
		m.completed, m.failed, m.skipped, m.deferred)))

	if m.fetching {
		title := m.current.ID
		if m.current.Title != "" {
			title += "  " + truncateRunes(m.current.Title, 50)
		}
		fmt.Fprintf(&b, "%s [%d/%d] %s\n", m.spinner.View(), m.position, m.total, title)
		detail := fmt.Sprintf("    %d comments", m.comments)
		if m.maxTries > 0 {
			detail += fmt.Sprintf("  attempt %d/%d", m.attempt, m.maxTries)
		}
		b.WriteString(liveMutedStyle.Render(detail) + "\n")
		if m.retryMsg != "" {
			b.WriteString(liveWarnStyle.Render("    "+m.retryMsg) + "\n")
		}
		b.WriteString("\n")
	}

	for _, line := range m.recent {
		b.WriteString(line + "\n")
	}

	switch {
	case m.done:
		b.WriteString("\n")
	case m.interrupting:
		b.WriteString("\n" + liveWarnStyle.Render("stopping after the current step...") + "\n")
	default:
		b.WriteString("\n" + liveMutedStyle.Render("ctrl+c to stop; progress is saved after every video") + "\n")
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ProgramReporter forwards collector callbacks to a running program.
type ProgramReporter struct {
	send func(tea.Msg)
}

func (r ProgramReporter) RunStarted(runID, channel string, total int) {
	r.send(runStartedMsg{runID: runID, channel: channel, total: total})
}

func (r ProgramReporter) ItemStarted(item model.WorkItem, position, total int) {
	r.send(itemStartedMsg{item: item, position: position, total: total})
}

func (r ProgramReporter) AttemptFinished(a retry.Attempt) {
	r.send(attemptMsg(a))
}

func (r ProgramReporter) ItemFinished(ev model.Event) {
	r.send(eventMsg(ev))
}

func (r ProgramReporter) RunFinished(model.Summary) {}

// Comments updates the running comment count of the current video.
func (r ProgramReporter) Comments(item model.WorkItem, count int) {
	r.send(commentsMsg{id: item.ID, count: count})
}

// RunFunc performs a collection run, reporting through r.
type RunFunc func(ctx context.Context, r ProgramReporter) (model.Summary, error)

// RunLive runs fn under the live view. Interrupting the view cancels the
// context passed to fn; RunLive waits for fn to return either way.
func RunLive(ctx context.Context, channel string, out io.Writer, fn RunFunc, opts ...tea.ProgramOption) (model.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithOutput(out)}, opts...)
	p := tea.NewProgram(NewModel(channel, cancel), opts...)
	type result struct {
		summary model.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		summary, err := fn(ctx, ProgramReporter{send: p.Send})
		p.Send(finishedMsg{summary: summary, err: err})
		done <- result{summary: summary, err: err}
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		res := <-done
		if res.err != nil {
			return res.summary, res.err
		}
		return res.summary, err
	}
	// The view may exit before the run on a forced quit.
	cancel()
	res := <-done
	return res.summary, res.err
}
