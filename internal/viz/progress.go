package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/chemdyn/internal/dynamo"
	"github.com/san-kum/chemdyn/internal/schedule"
	"github.com/san-kum/chemdyn/internal/sim"
)

const (
	barWidth       = 40
	wallHistoryCap = 600
)

// IntervalMsg reports one finished output interval.
type IntervalMsg struct {
	K        int
	Interval schedule.Interval
	Elapsed  time.Duration
	Failed   int
}

// DoneMsg ends the view with the outcome of the run.
type DoneMsg struct {
	Result *sim.Result
	Err    error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Feed returns an observer that forwards every finished interval to s.
func Feed(s Sender) sim.Observer {
	return sim.ObserverFunc(func(k int, iv schedule.Interval, elapsed time.Duration, err error) {
		s.Send(IntervalMsg{K: k, Interval: iv, Elapsed: elapsed, Failed: len(dynamo.FailedSystems(err))})
	})
}

// Progress is the live view of a batch run.
type Progress struct {
	title    string
	total    int
	unit     float64
	cancel   context.CancelFunc
	done     int
	t        float64
	failed   int
	wall     []float64
	frame    int
	result   *sim.Result
	err      error
	finished bool
	showHelp bool
}

// NewProgress builds the view for a run of intervals output intervals. unit
// converts seconds to display time. cancel, if set, is called when the user
// quits before the run ends.
func NewProgress(title string, intervals int, unit float64, cancel context.CancelFunc) Progress {
	if unit <= 0 {
		unit = schedule.Year
	}
	return Progress{
		title:  title,
		total:  intervals,
		unit:   unit,
		cancel: cancel,
		wall:   make([]float64, 0, min(intervals, wallHistoryCap)),
	}
}

func (m Progress) Init() tea.Cmd {
	return tick()
}

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.finished && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "t":
			NextTheme()
		case "?":
			m.showHelp = !m.showHelp
		}
	case IntervalMsg:
		m.done = msg.K + 1
		m.t = msg.Interval.T1
		m.failed += msg.Failed
		if len(m.wall) == wallHistoryCap {
			m.wall = m.wall[1:]
		}
		m.wall = append(m.wall, msg.Elapsed.Seconds())
	case DoneMsg:
		m.finished = true
		m.result, m.err = msg.Result, msg.Err
		return m, tea.Quit
	case tickMsg:
		m.frame++
		if m.finished {
			return m, nil
		}
		return m, tick()
	}
	return m, nil
}

// Result returns the outcome delivered by DoneMsg.
func (m Progress) Result() (*sim.Result, error) { return m.result, m.err }

func (m Progress) Finished() bool { return m.finished }

func (m Progress) state() string {
	switch {
	case m.finished && m.err != nil:
		if m.result == nil {
			return "FAILED"
		}
		return "ABORTED"
	case m.finished && m.failed > 0:
		return "DEGRADED"
	case m.finished:
		return "DONE"
	}
	return "RUNNING"
}

func (m Progress) View() string {
	var s strings.Builder
	title := lipgloss.NewStyle().Bold(true).Foreground(CurrentTheme.Primary).Render(strings.ToUpper(m.title))
	s.WriteString(HeaderStyle.Render(title) + "\n")

	word := m.state()
	if word == "RUNNING" {
		word = AnimatedSpinner(m.frame) + " " + status(word)
	} else {
		word = status(word)
	}
	s.WriteString(word + "\n\n")

	frac := 0.0
	if m.total > 0 {
		frac = float64(m.done) / float64(m.total)
	}
	s.WriteString(ProgressBar(frac, barWidth) + fmt.Sprintf(" %3.0f%%\n\n", 100*frac))

	s.WriteString(MetricLabel.Render("Interval") + MetricValue.Render(fmt.Sprintf("%d/%d", m.done, m.total)) + "\n")
	s.WriteString(MetricLabel.Render("Time") + MetricValue.Render(fmt.Sprintf("%13.7e", m.t/m.unit)) + "\n")
	s.WriteString(MetricLabel.Render("Failures") + MetricValue.Render(fmt.Sprint(m.failed)) + "\n")
	if n := len(m.wall); n > 0 {
		s.WriteString(MetricLabel.Render("Last interval") + MetricValue.Render(fmt.Sprintf("%8.5e sec", m.wall[n-1])) + "\n")
		s.WriteString(MetricLabel.Render("Wall time") + SparklineChart(m.wall, barWidth) + "\n")
	}
	if len(m.wall) > 1 {
		chart := asciigraph.Plot(m.wall, asciigraph.Height(4), asciigraph.Width(barWidth), asciigraph.Caption("sec per interval"))
		s.WriteString("\n" + lipgloss.NewStyle().Foreground(CurrentTheme.Muted).Render(chart) + "\n")
	}
	if m.err != nil {
		s.WriteString("\n" + lipgloss.NewStyle().Foreground(CurrentTheme.Error).Render(m.err.Error()) + "\n")
	}

	if m.showHelp {
		s.WriteString("\n" + KeyHint.Render("Q: cancel and quit   T: cycle theme   ?: hide help"))
	} else {
		s.WriteString("\n" + KeyHint.Render("Q:Quit T:Theme ?:Help"))
	}
	return Panel.Render(s.String())
}
