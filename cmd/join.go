package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/identity"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/signaling"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

var (
	flagName     string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagVideo    string
	flagAudio    string
)

var joinCmd = &cobra.Command{
	Use:     "join <room>",
	Aliases: []string{"j"},
	Short:   "Join a call room",
	Long: `Join a room on the relay and connect to every participant in it.

Local media is an Opus audio track and a VP8 video track. Without files the
audio track carries silence and the video track stays empty.

Examples:
  meshcall join standup
  meshcall join standup --name Alice --video clip.ivf --audio voice.ogg
  meshcall join standup --server wss://relay.example.com/ws --relay --turn turn.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func loadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

func defaultName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "guest"
}

func joinRoom(parent context.Context, room string) error {
	if parent == nil {
		parent = context.Background()
	}
	name := flagName
	if name == "" {
		name = defaultName()
	}
	localID := identity.New()
	log := slog.Default().With("name", name)

	cfg, err := loadConfig(config.Options{
		ServerURL:  flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		VideoFile:  flagVideo,
		AudioFile:  flagAudio,
	})
	if err != nil {
		return err
	}

	ui.PrintInfo(fmt.Sprintf("Joining room %s as %s", room, name))
	if cfg.VideoFile == "" {
		ui.PrintWarning("No video file given, the video track stays empty")
	}
	if cfg.AudioFile == "" {
		ui.PrintWarning("No audio file given, sending silence")
	}

	source, err := media.NewSource(media.Options{
		StreamID:  localID,
		VideoFile: cfg.VideoFile,
		AudioFile: cfg.AudioFile,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	var (
		session *mesh.Session
		view    *ui.RoomView
		ended   = make(chan struct{})
	)

	factory, err := webrtc.NewFactory(webrtc.FactoryConfig{
		Configuration: webrtc.Configuration(cfg),
		Tracks:        source.Tracks(),
		Logger:        log,
		OnMediaState: func(peerID string, state webrtc.MediaState) {
			view.RemoteMediaChanged(peerID, state.Audio, state.Video)
		},
	})
	if err != nil {
		source.Close()
		return err
	}

	spinner := ui.NewConnectionSpinner(ui.IconConnect + " Connecting to relay...")
	spinner.Start()
	client := signaling.NewClient(cfg.ServerURL, nil, log)
	if err := client.Connect(); err != nil {
		spinner.Stop()
		source.Close()
		return err
	}
	spinner.Success(fmt.Sprintf("Connected to %s", cfg.ServerURL))

	view = ui.NewRoomView(ui.RoomConfig{
		Room:        room,
		DisplayName: name,
		Media:       source,
		Publish: func(audio, video bool) {
			factory.PublishMediaState(webrtc.MediaState{Audio: audio, Video: video})
		},
		Peers: func() []mesh.PeerInfo { return session.Peers() },
		Leave: func() { session.Leave() },
		Done:  ended,
	})

	session, err = mesh.NewSession(mesh.SessionConfig{
		LocalID:     localID,
		DisplayName: name,
		Room:        room,
		Transport:   client,
		Factory:     factory,
		Presenter:   view,
		Media:       source,
		Policy:      mesh.RolePolicyTieBreak,
		Logger:      log,
	})
	if err != nil {
		client.Close()
		source.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, os.Interrupt)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(ctx)
		close(ended)
	}()

	if err := view.Run(); err != nil {
		session.Leave()
		return fmt.Errorf("room view: %w", err)
	}
	session.Leave()

	err = <-runErr
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		ui.PrintSuccess(fmt.Sprintf("Left room %s", room))
		return nil
	default:
		return err
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name (default: current user)")
	joinCmd.Flags().StringVar(&flagServer, "server", "", "Relay websocket URL")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN servers, comma separated")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF (VP8) file looped into the video track")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file looped into the audio track")
}
