package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/broadcast"
	"github.com/BioHazard786/meshcall/internal/call"
	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var (
	flagJoinName       string
	flagJoinDomain     string
	flagJoinRelayURL   string
	flagJoinSTUN       string
	flagJoinTURN       string
	flagJoinTURNUser   string
	flagJoinTURNPass   string
	flagJoinForceRelay bool
	flagJoinCaptions   int
	flagJoinTranscript string
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a call",
	Long: `Join a group call. Everyone in the room gets a direct WebRTC link to
everyone else; the relay only carries signaling.

Keys inside the call:
  m       mute or unmute the microphone
  v       turn the camera off or on
  s       start or stop sharing the screen
  enter   open the caption prompt
  q       leave

Examples:
  meshcall join sunny-otter-harbor --name Ada
  meshcall join https://meshcall.qzz.io/r/sunny-otter-harbor
  meshcall join sunny-otter-harbor --turn turn.example.com --force-relay
  meshcall join sunny-otter-harbor --transcript /tmp/stt.fifo`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinCall(roomID)
	},
}

func joinCall(roomID string) error {
	cfg, err := config.LoadClient(config.ClientOptions{
		Domain:         flagJoinDomain,
		RelayURL:       flagJoinRelayURL,
		STUNServer:     flagJoinSTUN,
		TURNServer:     flagJoinTURN,
		TURNUser:       flagJoinTURNUser,
		TURNPass:       flagJoinTURNPass,
		ForceRelay:     flagJoinForceRelay,
		CaptionHistory: flagJoinCaptions,
	})
	if err != nil {
		return err
	}
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return call.WrapError("force relay", errors.New("no TURN server configured"), "pass --turn or set TURN_SERVER")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var transcriber broadcast.Transcriber
	if flagJoinTranscript != "" {
		f, err := os.Open(flagJoinTranscript)
		if err != nil {
			return call.NewError("open transcript", err)
		}
		defer f.Close()
		transcriber = broadcast.NewLineTranscriber(ctx, f)
	}

	fmt.Println()
	sp := ui.NewStepSpinner("Opening camera and microphone...")
	sp.Start()
	c, err := call.New(ctx, call.Options{
		Config:      cfg,
		RoomID:      roomID,
		Name:        displayName(flagJoinName),
		Capturer:    media.Synthetic{},
		Transcriber: transcriber,
	})
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) {
			sp.Fail("Camera or microphone access was refused")
		} else {
			sp.Stop()
		}
		return err
	}
	sp.Done(fmt.Sprintf("Ready to join %s", roomID))

	done := make(chan error, 1)
	started := time.Now()
	go func() { done <- c.Run(ctx) }()

	if err := ui.RunRoom(c, cfg.GetRoomLink(roomID)); err != nil {
		c.Leave()
		cancel()
		<-done
		return fmt.Errorf("room view: %w", err)
	}

	cancel()
	if err := <-done; err != nil {
		return err
	}
	ui.RenderCallSummary(c.Summary(), time.Since(started))
	return nil
}

// displayName falls back to the login name so peers see something useful.
func displayName(flag string) string {
	if name := strings.TrimSpace(flag); name != "" {
		return name
	}
	for _, env := range []string{"MESHCALL_NAME", "USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return ""
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, ".") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		return roomID, nil
	}

	return input, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", call.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			id, err := url.PathUnescape(parts[i+1])
			if err != nil {
				return "", call.NewError("parse URL", err)
			}
			return id, nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinName, "name", "", "Display name shown to other participants")
	joinCmd.Flags().StringVar(&flagJoinDomain, "domain", "", "Custom domain")
	joinCmd.Flags().StringVar(&flagJoinRelayURL, "relay", "", "Relay websocket URL (overrides --domain)")
	joinCmd.Flags().StringVar(&flagJoinSTUN, "stun", "", "Custom STUN server")
	joinCmd.Flags().StringVar(&flagJoinTURN, "turn", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagJoinForceRelay, "force-relay", false, "Only use TURN relay candidates")
	joinCmd.Flags().IntVar(&flagJoinCaptions, "captions", 0, "Number of captions kept on screen")
	joinCmd.Flags().StringVar(&flagJoinTranscript, "transcript", "", "Read captions from a file or pipe, one per line (~ marks interim text)")
}
