package ui

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/fcbus/internal/bus"
	"github.com/zsiec/fcbus/internal/harness"
)

// DefaultInterval is the polling period of the watch view.
const DefaultInterval = 250 * time.Millisecond

// fetchTimeout bounds one poll of the feed.
const fetchTimeout = 2 * time.Second

type tickMsg time.Time

type dataMsg struct {
	snap  harness.Snapshot
	beats []bus.Beat
	err   error
}

type stepMsg struct {
	err error
}

// WatchModel is a bubbletea model showing the bench counters, the req/ack lines and
// the most recent beats.
type WatchModel struct {
	feed     Feed
	interval time.Duration

	snap     harness.Snapshot
	beats    []bus.Beat
	err      error
	polled   bool
	paused   bool
	quitting bool
	width    int
	height   int
}

// NewWatchModel creates a watch view polling feed every interval.
func NewWatchModel(feed Feed, interval time.Duration) *WatchModel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &WatchModel{feed: feed, interval: interval}
}

// Run shows the watch view until the user quits or ctx ends.
func Run(ctx context.Context, feed Feed, interval time.Duration) error {
	p := tea.NewProgram(NewWatchModel(feed, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *WatchModel) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.fetch())
}

func (m *WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *WatchModel) fetch() tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		snap, err := feed.Snapshot(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		beats, err := feed.Beats(ctx)
		return dataMsg{snap: snap, beats: beats, err: err}
	}
}

func (m *WatchModel) step(n int) tea.Cmd {
	feed := m.feed
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		return stepMsg{err: feed.Step(ctx, n)}
	}
}

func (m *WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		case "p":
			m.paused = !m.paused
			return m, nil
		case "s":
			return m, m.step(1)
		case "S":
			return m, m.step(100)
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		if m.paused {
			return m, m.tick()
		}
		return m, tea.Batch(m.tick(), m.fetch())

	case dataMsg:
		m.polled = true
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.beats = msg.beats
		}
		return m, nil

	case stepMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, m.fetch()
	}

	return m, nil
}

func (m *WatchModel) View() string {
	if m.quitting {
		return "Stopping watch...\n"
	}
	if !m.polled {
		return MutedStyle.Render("Waiting for bench...") + "\n"
	}

	width := m.width
	if width == 0 {
		width = 100
	}

	header := HeaderStyle.Render(fmt.Sprintf("FCBUS %s  run %s", m.snap.Width, shortID(m.snap.RunID)))

	left := PanelStyle.Render(m.renderCounters())
	right := PanelStyle.Render(m.renderStreamer())
	var top string
	if width >= 80 {
		top = lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
	} else {
		top = lipgloss.JoinVertical(lipgloss.Left, left, right)
	}

	sections := []string{header, top, PanelStyle.Render(m.renderBeats())}
	if m.err != nil {
		sections = append(sections, ErrorStyle.Render("error: "+m.err.Error()))
	}
	help := "q quit  r refresh  s step  S step 100  p pause"
	if m.paused {
		help += "  " + WarningStyle.Render("[paused]")
	}
	sections = append(sections, MutedStyle.Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m *WatchModel) renderCounters() string {
	s := m.snap
	running := MutedStyle.Render("stepped")
	switch {
	case s.Running:
		running = SuccessStyle.Render("running")
	case s.Done:
		running = InfoStyle.Render("done")
	}

	rows := []string{
		PanelTitleStyle.Render("Bench"),
		row("status", running),
		row("verdict", VerdictIcon(s.Pass)),
		row("cycles", fmt.Sprintf("%d", s.Cycles)),
		row("beats", fmt.Sprintf("%d", s.Beats)),
		row("idle", fmt.Sprintf("%d", s.IdleCycles)),
		row("frames", fmt.Sprintf("%d", s.Frames)),
		row("failures", fmt.Sprintf("%d", s.Failures)),
		row("utilization", fmt.Sprintf("%.1f%%", utilization(s))),
	}
	return strings.Join(rows, "\n")
}

func (m *WatchModel) renderStreamer() string {
	s := m.snap
	st := s.Streamer
	pending := "none"
	if st.PendingLen >= 0 {
		pending = fmt.Sprintf("%d bytes", st.PendingLen)
	}

	rows := []string{
		PanelTitleStyle.Render("Streamer"),
		row("state", StateStyle(st.State.String()).Render(st.State.String())),
		row("lines", SignalIcon("req", s.Req)+" "+SignalIcon("ack", s.Ack)),
		row("req delay", fmt.Sprintf("%d", s.ReqDelay)),
		row("frame", fmt.Sprintf("#%d %d bytes", st.CurrentSeq, st.CurrentLen)),
		row("cursor", fmt.Sprintf("%d", st.Cursor)),
		row("prefetched", pending),
		row("bit count", fmt.Sprintf("%d", s.BitCount)),
	}
	if s.LastResult != nil && !s.LastResult.Pass {
		rows = append(rows, row("last fail", ErrorStyle.Render(s.LastResult.Reason)))
	}
	return strings.Join(rows, "\n")
}

func (m *WatchModel) renderBeats() string {
	lines := []string{PanelTitleStyle.Render("Recent beats")}
	if len(m.beats) == 0 {
		return strings.Join(append(lines, MutedStyle.Render("no beats yet")), "\n")
	}

	beats := m.beats
	if limit := m.beatLimit(); len(beats) > limit {
		beats = beats[len(beats)-limit:]
	}
	for _, b := range beats {
		if b.SOF {
			lines = append(lines, BeatSOFStyle.Render(beatLine(b)))
		} else {
			lines = append(lines, BeatStyle.Render(beatLine(b)))
		}
	}
	return strings.Join(lines, "\n")
}

// beatLine is a one-line summary of b: flags, valid byte count and the valid lanes.
func beatLine(b bus.Beat) string {
	flags := []byte("---")
	if b.SOF {
		flags[0] = 'S'
	}
	if b.EOF {
		flags[1] = 'E'
	}
	if b.Err {
		flags[2] = '!'
	}
	data := hex.EncodeToString(b.Bytes())
	if len(data) > 48 {
		data = data[:45] + "..."
	}
	return fmt.Sprintf("%s %2d  %s", flags, b.ByteCount(), data)
}

// beatLimit fits the beat list under the counter panels.
func (m *WatchModel) beatLimit() int {
	if m.height == 0 {
		return 12
	}
	if n := m.height - 20; n > 3 {
		return n
	}
	return 3
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func utilization(s harness.Snapshot) float64 {
	if s.ActiveCycles == 0 {
		return 0
	}
	return float64(s.Beats) / float64(s.ActiveCycles) * 100
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
