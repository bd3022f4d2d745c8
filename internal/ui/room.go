package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/utils"
)

const refreshInterval = time.Second

// MediaControls toggles the local tracks.
type MediaControls interface {
	ToggleAudio() bool
	ToggleVideo() bool
	Enabled() (audio, video bool)
}

// RoomConfig wires the room view to the running session.
type RoomConfig struct {
	Room        string
	DisplayName string

	// Media is optional; without it the toggle keys do nothing.
	Media MediaControls
	// Publish announces the local media state to the other participants.
	Publish func(audio, video bool)
	// Peers returns the current registry snapshot.
	Peers func() []mesh.PeerInfo
	// Leave ends the session and blocks until it is torn down.
	Leave func()
	// Done is closed when the session ends on its own.
	Done <-chan struct{}
}

// RoomView is the live view of a room. It is the session's presenter: remote
// streams, connection states and remote media states are reported to it from
// the session goroutine and rendered by the bubbletea program.
type RoomView struct {
	roster *roster
	model  *roomModel
}

var (
	_ mesh.Presenter     = (*RoomView)(nil)
	_ mesh.StateObserver = (*RoomView)(nil)
)

func NewRoomView(cfg RoomConfig) *RoomView {
	r := newRoster()
	return &RoomView{roster: r, model: newRoomModel(cfg, r)}
}

func (v *RoomView) RenderStream(peerID, displayName string, track mesh.Track) {
	v.roster.render(peerID, displayName, track)
}

func (v *RoomView) RemoveStream(peerID string) {
	v.roster.remove(peerID)
}

func (v *RoomView) PeerStateChanged(peerID, displayName string, state mesh.ConnState) {
	v.roster.setState(peerID, displayName, state)
}

// RemoteMediaChanged records the media state a remote participant published.
func (v *RoomView) RemoteMediaChanged(peerID string, audio, video bool) {
	v.roster.setMedia(peerID, audio, video)
}

// Rows returns the participants as currently rendered.
func (v *RoomView) Rows() []ParticipantRow {
	return v.roster.rows()
}

// Run runs the view until the participant leaves or the session ends.
func (v *RoomView) Run() error {
	// Don't use any options - default is inline mode without alt screen
	// This keeps previous terminal output visible
	_, err := tea.NewProgram(v.model).Run()
	return err
}

type roomTickMsg time.Time

type peersMsg struct {
	epoch uint64
	peers []mesh.PeerInfo
}

type sessionEndedMsg struct{}

type roomModel struct {
	cfg     RoomConfig
	roster  *roster
	spinner spinner.Model

	audio, video bool
	started      time.Time
	lastSample   time.Time
	leaving      bool
	ended        bool
}

func newRoomModel(cfg RoomConfig, r *roster) *roomModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	m := &roomModel{
		cfg:        cfg,
		roster:     r,
		spinner:    s,
		audio:      true,
		video:      true,
		started:    time.Now(),
		lastSample: time.Now(),
	}
	if cfg.Media != nil {
		m.audio, m.video = cfg.Media.Enabled()
	}
	return m
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tick(),
		m.refreshPeers(),
		m.waitForEnd(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return roomTickMsg(t)
	})
}

func (m *roomModel) refreshPeers() tea.Cmd {
	if m.cfg.Peers == nil {
		return nil
	}
	epoch := m.roster.currentEpoch()
	return func() tea.Msg {
		return peersMsg{epoch: epoch, peers: m.cfg.Peers()}
	}
}

func (m *roomModel) waitForEnd() tea.Cmd {
	if m.cfg.Done == nil {
		return nil
	}
	return func() tea.Msg {
		<-m.cfg.Done
		return sessionEndedMsg{}
	}
}

func (m *roomModel) leave() tea.Cmd {
	return func() tea.Msg {
		if m.cfg.Leave != nil {
			m.cfg.Leave()
		}
		return sessionEndedMsg{}
	}
}

func (m *roomModel) publish() {
	if m.cfg.Publish != nil {
		m.cfg.Publish(m.audio, m.video)
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "m":
			if m.cfg.Media != nil && !m.leaving {
				m.audio = m.cfg.Media.ToggleAudio()
				m.publish()
			}
		case "v":
			if m.cfg.Media != nil && !m.leaving {
				m.video = m.cfg.Media.ToggleVideo()
				m.publish()
			}
		case "q", "ctrl+c":
			if !m.leaving {
				m.leaving = true
				cmds = append(cmds, m.leave())
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case roomTickMsg:
		now := time.Time(msg)
		m.roster.sample(now.Sub(m.lastSample))
		m.lastSample = now
		if !m.ended {
			cmds = append(cmds, tick(), m.refreshPeers())
		}

	case peersMsg:
		m.roster.sync(msg.epoch, msg.peers)

	case sessionEndedMsg:
		m.ended = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *roomModel) View() string {
	if m.ended {
		return ""
	}

	var b strings.Builder

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		HeaderStyle.Render(fmt.Sprintf("%s Room %s", IconRoom, m.cfg.Room)),
		" ",
		StatusStyle.Render(utils.FormatTimeDuration(time.Since(m.started))),
	))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s  %s\n\n",
		IconPeer, BoldStyle.Render(m.cfg.DisplayName), mediaLabel(m.audio, m.video)))

	rows := m.roster.rows()
	switch {
	case m.leaving:
		b.WriteString(fmt.Sprintf("%s Leaving room\n", m.spinner.View()))
	case len(rows) == 0:
		b.WriteString(fmt.Sprintf("%s Waiting for participants\n", m.spinner.View()))
	default:
		b.WriteString(NewParticipantTable(rows).View())
		b.WriteString("\n")
	}

	b.WriteString(FooterStyle.Render("m mute  v camera  q leave"))
	return b.String()
}
