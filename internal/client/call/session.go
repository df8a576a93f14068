package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/quotewise/callbridge/internal/client/signaling"
	"github.com/quotewise/callbridge/internal/protocol"
)

// Config describes one call attempt.
type Config struct {
	ServerURL   string
	RoomID      string
	DisplayName string

	// Sample files standing in for camera and microphone.
	AudioPath string
	VideoPath string

	ICEServers []webrtc.ICEServer

	// Optional observers, invoked from negotiator goroutines.
	OnTrack     func(peerID, peerName string, track *webrtc.TrackRemote)
	OnPeerState func(peerID string, state PeerState)
}

// Session wires local media, the signaling channel and the negotiator into
// one call and exposes the control surface (mute, camera toggle, hang-up).
type Session struct {
	client *signaling.Client
	neg    *Negotiator
	media  *MediaSource

	done     chan struct{}
	hangOnce sync.Once
}

// Start acquires local media, opens the signaling channel and joins the room.
// Media failure is fatal and happens before any channel is opened; a failed
// dial is surfaced as a transport error with nothing to clean up server-side.
func Start(cfg Config) (*Session, error) {
	src, err := OpenMediaSource(cfg.AudioPath, cfg.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("local media unavailable: %w", err)
	}

	client, err := signaling.Dial(cfg.ServerURL)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("signaling channel: %w", err)
	}

	neg := NewNegotiator(client, webrtc.Configuration{ICEServers: cfg.ICEServers}, src.Tracks())
	if cfg.OnTrack != nil {
		neg.OnTrack(cfg.OnTrack)
	}
	if cfg.OnPeerState != nil {
		neg.OnStateChange(cfg.OnPeerState)
	}

	s := &Session{
		client: client,
		neg:    neg,
		media:  src,
		done:   make(chan struct{}),
	}
	go s.loop()

	if err := client.JoinRoom(cfg.RoomID, cfg.DisplayName); err != nil {
		s.HangUp()
		return nil, fmt.Errorf("join room: %w", err)
	}
	src.Start()

	return s, nil
}

// loop consumes gateway frames until the channel dies. There is no automatic
// rejoin: when the gateway goes away every pairing is invalid and the user
// starts over.
func (s *Session) loop() {
	defer close(s.done)

	for env := range s.client.Incoming() {
		switch env.Event {
		case protocol.EventRoomUsers:
			var users []protocol.RoomUser
			if err := env.Decode(&users); err != nil {
				log.Error().Err(err).Msg("Malformed room-users payload")
				continue
			}
			s.neg.HandleRoomUsers(users)

		case protocol.EventUserJoined:
			var user protocol.RoomUser
			if err := env.Decode(&user); err != nil {
				log.Error().Err(err).Msg("Malformed user-joined payload")
				continue
			}
			log.Info().Str("peer_id", user.UserID).Str("peer_name", user.UserName).Msg("Participant joined")
			s.neg.HandleUserJoined(user)

		case protocol.EventUserLeft:
			var user protocol.RoomUser
			if err := env.Decode(&user); err != nil {
				log.Error().Err(err).Msg("Malformed user-left payload")
				continue
			}
			log.Info().Str("peer_id", user.UserID).Str("peer_name", user.UserName).Msg("Participant left")
			s.neg.HandlePeerLeft(user.UserID)

		case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
			var sig protocol.Signal
			if err := env.Decode(&sig); err != nil {
				log.Error().Err(err).Str("event", env.Event).Msg("Malformed signal payload")
				continue
			}
			switch env.Event {
			case protocol.EventOffer:
				s.neg.HandleOffer(sig.From, sig.Offer)
			case protocol.EventAnswer:
				s.neg.HandleAnswer(sig.From, sig.Answer)
			case protocol.EventICECandidate:
				s.neg.HandleCandidate(sig.From, sig.Candidate)
			}

		case protocol.EventError:
			var p protocol.ErrorPayload
			if err := env.Decode(&p); err != nil {
				continue
			}
			log.Warn().Str("message", p.Message).Msg("Gateway rejected an event")
		}
	}

	s.neg.CloseAll()
	s.media.Close()
}

// Done is closed once the signaling channel is gone and the call is over.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ToggleMute flips the microphone and reports the new muted state. Peers are
// not signaled; they just stop receiving audio.
func (s *Session) ToggleMute() bool {
	muted := !s.media.Muted()
	s.media.SetMuted(muted)
	return muted
}

// ToggleCamera flips the camera and reports whether it is now off.
func (s *Session) ToggleCamera() bool {
	off := !s.media.CameraOff()
	s.media.SetCameraOff(off)
	return off
}

// PeerStates snapshots the current pairings for display.
func (s *Session) PeerStates() map[string]PeerState {
	return s.neg.PeerStates()
}

// HangUp releases local media, destroys every peer connection and closes the
// signaling channel.
func (s *Session) HangUp() {
	s.hangOnce.Do(func() {
		s.neg.CloseAll()
		s.media.Close()
		s.client.Close()
	})
}
