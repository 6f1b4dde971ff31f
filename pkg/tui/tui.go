// Package tui provides a terminal user interface for drumgen
package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/james-see/drumgen/pkg/config"
	"github.com/james-see/drumgen/pkg/pipeline"
	"github.com/james-see/drumgen/pkg/trainer"
)

// Drum-machine color scheme (808 aesthetic)
var (
	// Primary colors - pulse orange and cream
	pulseOrange = lipgloss.Color("#FF8C00")
	creamYellow = lipgloss.Color("#FFE4B5")
	silverGray  = lipgloss.Color("#C0C0C0")
	darkGray    = lipgloss.Color("#333333")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(pulseOrange).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(pulseOrange).
			Bold(true).
			PaddingLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(creamYellow).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(pulseOrange).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(pulseOrange).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateMenu State = iota
	StatePickCorpus
	StatePickCheckpoint
	StateTraining
	StateGenerating
	StateResult
)

// MenuItem represents a menu option
type MenuItem struct {
	Title       string
	Description string
}

var menuItems = []MenuItem{
	{Title: "Train", Description: "Train a model on a directory of MIDI drum recordings"},
	{Title: "Generate", Description: "Sample a new drum track from a trained checkpoint"},
	{Title: "Exit", Description: "Exit the application"},
}

// Model represents the TUI model
type Model struct {
	cfg    config.Config
	logger *zap.Logger

	state      State
	menuIndex  int
	filePicker filepicker.Model
	spinner    spinner.Model
	progress   progress.Model

	epochCh    chan trainer.Epoch
	epochs     []trainer.Epoch
	corpusDir  string
	checkpoint string
	trainRes   *pipeline.TrainResult
	genRes     *pipeline.GenerateResult
	err        error
	width      int
	height     int
}

// trainDoneMsg signals training completion
type trainDoneMsg struct {
	res *pipeline.TrainResult
	err error
}

// genDoneMsg signals generation completion
type genDoneMsg struct {
	res *pipeline.GenerateResult
	err error
}

// epochMsg carries one finished epoch from the training goroutine
type epochMsg trainer.Epoch

// New creates a new TUI model
func New(cfg config.Config, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}

	fp := filepicker.New()
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(pulseOrange)

	return Model{
		cfg:        cfg,
		logger:     logger,
		state:      StateMenu,
		menuIndex:  0,
		filePicker: fp,
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient()),
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick)
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// Picker states need to receive all messages
	if m.state == StatePickCorpus || m.state == StatePickCheckpoint {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateMenu
				return m, nil
			case "q", "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			if m.state == StatePickCorpus {
				return m.startTraining(path)
			}
			return m.startGeneration(path)
		}

		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		m.progress.Width = msg.Width - 12
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case StateMenu:
			return m.updateMenu(msg)
		case StateResult:
			return m.updateResult(msg)
		case StateTraining, StateGenerating:
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case epochMsg:
		m.epochs = append(m.epochs, trainer.Epoch(msg))
		percent := float64(len(m.epochs)) / float64(m.cfg.Train.Epochs)
		return m, tea.Batch(listenEpochs(m.epochCh), m.progress.SetPercent(percent))

	case trainDoneMsg:
		m.state = StateResult
		m.trainRes = msg.res
		m.err = msg.err
		return m, nil

	case genDoneMsg:
		m.state = StateResult
		m.genRes = msg.res
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.menuIndex > 0 {
			m.menuIndex--
		}
	case "down", "j":
		if m.menuIndex < len(menuItems)-1 {
			m.menuIndex++
		}
	case "enter":
		switch m.menuIndex {
		case 0:
			m.state = StatePickCorpus
			m.filePicker.DirAllowed = true
			m.filePicker.FileAllowed = false
			m.filePicker.AllowedTypes = nil
			return m, m.filePicker.Init()
		case 1:
			m.state = StatePickCheckpoint
			m.filePicker.DirAllowed = false
			m.filePicker.FileAllowed = true
			m.filePicker.AllowedTypes = []string{".ckpt"}
			return m, m.filePicker.Init()
		default:
			return m, tea.Quit
		}
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.state = StateMenu
		m.err = nil
		m.trainRes = nil
		m.genRes = nil
		m.epochs = nil
		m.corpusDir = ""
		m.checkpoint = ""
		return m, nil
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// startTraining kicks off a training run against the picked directory and
// streams epoch summaries back through a channel.
func (m Model) startTraining(dir string) (tea.Model, tea.Cmd) {
	m.corpusDir = dir
	m.checkpoint = filepath.Join(dir, "drumgen.ckpt")
	m.state = StateTraining
	m.epochs = nil
	m.epochCh = make(chan trainer.Epoch)

	cfg := m.cfg
	opts := pipeline.TrainOptions{CorpusDir: dir, CheckpointPath: m.checkpoint}
	logger := m.logger
	ch := m.epochCh

	run := func() tea.Msg {
		res, err := pipeline.Train(cfg, opts, logger, func(e trainer.Epoch) { ch <- e })
		close(ch)
		return trainDoneMsg{res: res, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, run, listenEpochs(ch))
}

func (m Model) startGeneration(ckpt string) (tea.Model, tea.Cmd) {
	m.checkpoint = ckpt
	m.state = StateGenerating

	cfg := m.cfg
	logger := m.logger
	out := strings.TrimSuffix(ckpt, filepath.Ext(ckpt)) + ".mid"

	run := func() tea.Msg {
		res, err := pipeline.Generate(cfg, pipeline.GenerateOptions{
			CheckpointPath: ckpt,
			OutPath:        out,
			Seed:           []int{36},
		}, logger)
		return genDoneMsg{res: res, err: err}
	}
	return m, tea.Batch(m.spinner.Tick, run)
}

// listenEpochs waits for the next epoch summary. It re-arms itself from
// Update until the training goroutine closes the channel.
func listenEpochs(ch <-chan trainer.Epoch) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return epochMsg(e)
	}
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateMenu:
		s.WriteString(m.viewMenu())
	case StatePickCorpus:
		s.WriteString(m.viewPicker(" SELECT CORPUS DIRECTORY "))
	case StatePickCheckpoint:
		s.WriteString(m.viewPicker(" SELECT CHECKPOINT "))
	case StateTraining:
		s.WriteString(m.viewTraining())
	case StateGenerating:
		s.WriteString(m.viewGenerating())
	case StateResult:
		s.WriteString(m.viewResult())
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: navigate • enter: select • q: quit"))

	return s.String()
}

func (m Model) viewMenu() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SELECT ACTION "))
	s.WriteString("\n\n")

	for i, item := range menuItems {
		if i == m.menuIndex {
			s.WriteString(selectedStyle.Render(fmt.Sprintf("▸ %s", item.Title)))
			s.WriteString("\n")
			s.WriteString(lipgloss.NewStyle().Foreground(creamYellow).PaddingLeft(4).Render(item.Description))
		} else {
			s.WriteString(menuStyle.Render(fmt.Sprintf("  %s", item.Title)))
		}
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewPicker(title string) string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(title))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to menu"))

	return s.String()
}

func (m Model) viewTraining() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" TRAINING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Training on %s...\n\n", m.spinner.View(), filepath.Base(m.corpusDir)))
	s.WriteString(m.progress.View())
	s.WriteString("\n")

	// Show the most recent epochs
	start := 0
	if len(m.epochs) > 5 {
		start = len(m.epochs) - 5
	}
	for _, e := range m.epochs[start:] {
		line := fmt.Sprintf("epoch %d/%d  loss %.4f  (%s)",
			e.Epoch, m.cfg.Train.Epochs, e.AvgLoss, e.Duration.Round(time.Millisecond))
		s.WriteString(statusStyle.Render(line))
		s.WriteString("\n")
	}

	return boxStyle.Render(s.String())
}

func (m Model) viewGenerating() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" GENERATING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s Sampling %d notes from %s...\n",
		m.spinner.View(), m.cfg.Gen.Length, filepath.Base(m.checkpoint)))

	return boxStyle.Render(s.String())
}

func (m Model) viewResult() string {
	var s strings.Builder

	switch {
	case m.err != nil:
		s.WriteString(titleStyle.Render(" ERROR "))
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ Run failed: %s", m.err.Error())))

	case m.trainRes != nil:
		s.WriteString(titleStyle.Render(" TRAINING COMPLETE "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Model trained!"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Files:      %d (%d usable)\n", m.trainRes.Files, m.trainRes.Sequences))
		s.WriteString(fmt.Sprintf("Examples:   %d\n", m.trainRes.Examples))
		s.WriteString(fmt.Sprintf("Parameters: %d\n", m.trainRes.Params))
		s.WriteString(fmt.Sprintf("Final loss: %.4f\n", m.trainRes.FinalLoss()))
		s.WriteString(fmt.Sprintf("Checkpoint: %s", m.trainRes.CheckpointPath))

	case m.genRes != nil:
		s.WriteString(titleStyle.Render(" TRACK READY "))
		s.WriteString("\n\n")
		s.WriteString(successStyle.Render("✓ Drum track generated!"))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("Notes:  %d (%d seeded)\n", len(m.genRes.Sequence), m.genRes.SeedLen))
		s.WriteString(fmt.Sprintf("Output: %s\n\n", m.genRes.OutPath))
		s.WriteString(statusStyle.Render(sequencePreview(m.genRes)))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Press enter to continue"))

	return boxStyle.Render(s.String())
}

// sequencePreview renders the first notes of the generated track with
// their kit names.
func sequencePreview(res *pipeline.GenerateResult) string {
	const maxShown = 8
	var lines []string
	for i, p := range res.Sequence {
		if i == maxShown {
			lines = append(lines, fmt.Sprintf("  ... %d more", len(res.Sequence)-maxShown))
			break
		}
		lines = append(lines, fmt.Sprintf("  %3d %s", p, res.Kit.NameFor(p)))
	}
	return strings.Join(lines, "\n")
}

func asciiLogo() string {
	logo := `
   ____  ____  _   _ __  __  ____ _____ _   _
  |  _ \|  _ \| | | |  \/  |/ ___| ____| \ | |
  | | | | |_) | | | | |\/| | |  _|  _| |  \| |
  | |_| |  _ <| |_| | |  | | |_| | |___| |\  |
  |____/|_| \_\\___/|_|  |_|\____|_____|_| \_|
`
	return lipgloss.NewStyle().Foreground(pulseOrange).Render(logo)
}

// Run starts the TUI application
func Run(cfg config.Config, logger *zap.Logger) error {
	p := tea.NewProgram(New(cfg, logger), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
