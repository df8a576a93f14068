package service

import (
	"github.com/quotewise/callbridge/internal/core/domain"
	"github.com/quotewise/callbridge/internal/core/port"
	"github.com/quotewise/callbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

// session is the per-channel state the gateway records. roomID and the
// participant name are set at most once, on the first successful join-room.
type session struct {
	client      port.Client
	participant domain.Participant
	roomID      domain.RoomID
	joined      bool
}

type inbound struct {
	client port.Client
	env    protocol.Envelope
}

// SignalingService terminates the signaling protocol: it owns the room
// registry and serializes every channel event through one Run loop, so no
// handler ever races another.
type SignalingService struct {
	registry port.RoomRegistry

	register   chan port.Client
	unregister chan port.Client
	inbound    chan inbound
	quit       chan struct{}

	// keyed by connection id, touched only by the Run loop
	sessions map[string]*session
}

func NewSignalingService(registry port.RoomRegistry) *SignalingService {
	return &SignalingService{
		registry:   registry,
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		inbound:    make(chan inbound, 64),
		quit:       make(chan struct{}),
		sessions:   make(map[string]*session),
	}
}

func (s *SignalingService) Register(c port.Client) {
	s.register <- c
}

func (s *SignalingService) Unregister(c port.Client) {
	s.unregister <- c
}

// Dispatch hands one decoded frame from a channel's reader to the Run loop.
func (s *SignalingService) Dispatch(c port.Client, env protocol.Envelope) {
	s.inbound <- inbound{client: c, env: env}
}

func (s *SignalingService) Stop() {
	close(s.quit)
}

func (s *SignalingService) Run() {
	for {
		select {
		case <-s.quit:
			log.Info().Int("count", len(s.sessions)).Msg("Stopping signaling service, disconnecting all channels")
			for id, sess := range s.sessions {
				if err := sess.client.Close(); err != nil {
					log.Error().Err(err).Str("conn_id", id).Msg("Error closing channel")
				}
				delete(s.sessions, id)
			}
			return

		case c := <-s.register:
			s.handleRegister(c)

		case c := <-s.unregister:
			s.handleDisconnect(c)

		case in := <-s.inbound:
			s.handleEvent(in.client, in.env)
		}
	}
}

func (s *SignalingService) handleRegister(c port.Client) {
	s.sessions[c.ID()] = &session{
		client:      c,
		participant: domain.Participant{ID: domain.ConnectionID(c.ID())},
	}
	log.Info().Str("conn_id", c.ID()).Msg("Channel connected")
}

func (s *SignalingService) handleEvent(c port.Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinRoom:
		s.handleJoin(c, env)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		s.handleRelay(c, env)
	default:
		log.Debug().Str("conn_id", c.ID()).Str("event", env.Event).Msg("Ignoring unknown event")
	}
}

func (s *SignalingService) handleJoin(c port.Client, env protocol.Envelope) {
	sess, ok := s.sessions[c.ID()]
	if !ok {
		return
	}

	var req protocol.JoinRoom
	if err := env.Decode(&req); err != nil {
		log.Error().Err(err).Str("conn_id", c.ID()).Msg("Malformed join-room payload")
		s.sendError(c, "malformed join-room payload")
		return
	}
	if req.RoomID == "" {
		s.sendError(c, domain.ErrEmptyRoomID.Error())
		return
	}
	if sess.joined {
		// Room switching is not supported; membership stays as it was.
		s.sendError(c, domain.ErrAlreadyJoined.Error())
		return
	}

	roomID := domain.RoomID(req.RoomID)

	// Roster snapshot before the joiner is added, so the list never
	// contains the requester itself.
	members := s.registry.Members(roomID)
	roster := make([]protocol.RoomUser, 0, len(members))
	for _, id := range members {
		other, ok := s.sessions[id.String()]
		if !ok {
			continue
		}
		roster = append(roster, protocol.RoomUser{UserID: id.String(), UserName: other.participant.Name})
	}

	s.registry.Join(roomID, domain.ConnectionID(c.ID()))
	sess.joined = true
	sess.roomID = roomID
	sess.participant.Name = req.UserName

	s.send(c, protocol.EventRoomUsers, roster)
	s.broadcast(roomID, c.ID(), protocol.EventUserJoined, protocol.RoomUser{
		UserID:   c.ID(),
		UserName: req.UserName,
	})

	log.Info().
		Str("conn_id", c.ID()).
		Str("room_id", roomID.String()).
		Str("user_name", req.UserName).
		Int("peers", len(roster)).
		Msg("Channel joined room")
}

func (s *SignalingService) handleRelay(c port.Client, env protocol.Envelope) {
	sess, ok := s.sessions[c.ID()]
	if !ok || !sess.joined {
		s.sendError(c, domain.ErrNotJoined.Error())
		return
	}

	var sig protocol.Signal
	if err := env.Decode(&sig); err != nil {
		log.Error().Err(err).Str("conn_id", c.ID()).Str("event", env.Event).Msg("Malformed signal payload")
		s.sendError(c, "malformed "+env.Event+" payload")
		return
	}

	// Routing uses the room this channel actually joined. The roomId the
	// client put on the wire is untrusted and ignored.
	out := protocol.Signal{From: c.ID()}
	switch env.Event {
	case protocol.EventOffer:
		out.Offer = sig.Offer
	case protocol.EventAnswer:
		out.Answer = sig.Answer
	case protocol.EventICECandidate:
		out.Candidate = sig.Candidate
	}

	s.broadcast(sess.roomID, c.ID(), env.Event, out)
}

func (s *SignalingService) handleDisconnect(c port.Client) {
	sess, ok := s.sessions[c.ID()]
	if !ok {
		// duplicate unregister, nothing left to do
		return
	}
	delete(s.sessions, c.ID())

	if sess.joined {
		s.registry.Leave(sess.roomID, domain.ConnectionID(c.ID()))
		s.broadcast(sess.roomID, c.ID(), protocol.EventUserLeft, protocol.RoomUser{
			UserID:   c.ID(),
			UserName: sess.participant.Name,
		})
	}

	if err := c.Close(); err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID()).Msg("Error closing channel")
	}
	log.Info().Str("conn_id", c.ID()).Msg("Channel unregistered")
}

// broadcast delivers one event to every member of roomID except the sender.
func (s *SignalingService) broadcast(roomID domain.RoomID, senderID string, event string, data any) {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return
	}

	for _, id := range s.registry.Members(roomID) {
		if id.String() == senderID {
			continue
		}
		sess, ok := s.sessions[id.String()]
		if !ok {
			continue
		}
		if err := sess.client.Send(env); err != nil {
			log.Error().Err(err).Str("conn_id", id.String()).Str("event", event).Msg("Error sending to channel")
			sess.client.Close()
		}
	}
}

func (s *SignalingService) send(c port.Client, event string, data any) {
	env, err := protocol.NewEnvelope(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return
	}
	if err := c.Send(env); err != nil {
		log.Error().Err(err).Str("conn_id", c.ID()).Str("event", event).Msg("Error sending to channel")
		c.Close()
	}
}

func (s *SignalingService) sendError(c port.Client, msg string) {
	s.send(c, protocol.EventError, protocol.ErrorPayload{Message: msg})
}
