package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/quotewise/callbridge/internal/client/call"
	"github.com/quotewise/callbridge/internal/config"
)

var joinOpts struct {
	server   string
	room     string
	name     string
	audio    string
	video    string
	stun     string
	turn     string
	turnUser string
	turnPass string
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a call room",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinOpts.server, "server", "", "signaling gateway URL")
	joinCmd.Flags().StringVar(&joinOpts.room, "room", "", "room id from the call link")
	joinCmd.Flags().StringVar(&joinOpts.name, "name", "", "display name shown to other participants")
	joinCmd.Flags().StringVar(&joinOpts.audio, "audio", "", "ogg/opus file played as microphone input")
	joinCmd.Flags().StringVar(&joinOpts.video, "video", "", "ivf/vp8 file played as camera input")
	joinCmd.Flags().StringVar(&joinOpts.stun, "stun", "", "STUN server URL")
	joinCmd.Flags().StringVar(&joinOpts.turn, "turn", "", "TURN server URL")
	joinCmd.Flags().StringVar(&joinOpts.turnUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&joinOpts.turnPass, "turn-pass", "", "TURN password")
	joinCmd.MarkFlagRequired("room")
	joinCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg := config.LoadClient(config.ClientOptions{
		ServerURL:  joinOpts.server,
		STUNServer: joinOpts.stun,
		TURNServer: joinOpts.turn,
		TURNUser:   joinOpts.turnUser,
		TURNPass:   joinOpts.turnPass,
	})

	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNURLs()}}
	if turnURLs := cfg.TURNURLs(); turnURLs != nil {
		user, pass := cfg.TURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnURLs,
			Username:   user,
			Credential: pass,
		})
	}

	session, err := call.Start(call.Config{
		ServerURL:   cfg.ServerURL,
		RoomID:      joinOpts.room,
		DisplayName: joinOpts.name,
		AudioPath:   joinOpts.audio,
		VideoPath:   joinOpts.video,
		ICEServers:  iceServers,
		OnPeerState: func(peerID string, state call.PeerState) {
			fmt.Printf("peer %s: %s\n", peerID, state)
		},
	})
	if err != nil {
		return err
	}
	defer session.HangUp()

	fmt.Printf("Joined room %q as %q\n", joinOpts.room, joinOpts.name)
	fmt.Println("Controls: [m]ute toggle, [c]amera toggle, [q]uit")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- scanner.Text()
		}
		close(input)
	}()

	for {
		select {
		case <-session.Done():
			return errors.New("signaling channel lost, rejoin to continue the call")

		case <-quit:
			fmt.Println("\nHanging up")
			return nil

		case line, ok := <-input:
			if !ok {
				return nil
			}
			switch line {
			case "m":
				if session.ToggleMute() {
					fmt.Println("microphone muted")
				} else {
					fmt.Println("microphone live")
				}
			case "c":
				if session.ToggleCamera() {
					fmt.Println("camera off")
				} else {
					fmt.Println("camera on")
				}
			case "q":
				fmt.Println("Hanging up")
				return nil
			}
		}
	}
}
