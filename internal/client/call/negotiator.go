// Package call implements the client side of a callbridge video call: one
// peer connection per remote participant, local media playback into pion
// tracks, and the session control surface.
package call

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/quotewise/callbridge/internal/protocol"
)

// PeerState is the lifecycle of one remote pairing. Once Closed, a pairing
// is never retried.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

type peerRole int

const (
	// roleOfferer: we were already in the room and the remote is the newcomer.
	roleOfferer peerRole = iota
	// roleAnswerer: we are the newcomer and the remote will offer to us.
	roleAnswerer
)

// Signaler is the slice of the gateway client the negotiator needs.
type Signaler interface {
	Send(event string, data any) error
}

type remotePeer struct {
	id    string
	name  string
	role  peerRole
	state PeerState
	pc    *webrtc.PeerConnection

	// remote candidates that arrived before the remote description
	pending []webrtc.ICECandidateInit
}

// Negotiator establishes exactly one media connection per remote participant,
// using the gateway purely to exchange offers, answers and ICE candidates.
//
// Glare is avoided by role assignment: members already in the room offer to a
// newcomer when its user-joined event arrives, and the newcomer answers every
// entry of its initial room-users list. Both sides of a pair can therefore
// never create offers simultaneously.
type Negotiator struct {
	mu       sync.Mutex
	signaler Signaler
	cfg      webrtc.Configuration
	local    []webrtc.TrackLocal
	peers    map[string]*remotePeer

	onTrack func(peerID, peerName string, track *webrtc.TrackRemote)
	onState func(peerID string, state PeerState)
}

func NewNegotiator(signaler Signaler, cfg webrtc.Configuration, local []webrtc.TrackLocal) *Negotiator {
	return &Negotiator{
		signaler: signaler,
		cfg:      cfg,
		local:    local,
		peers:    make(map[string]*remotePeer),
	}
}

// OnTrack registers the callback invoked when a remote media stream arrives.
// Must be set before the first signaling event is handled.
func (n *Negotiator) OnTrack(cb func(peerID, peerName string, track *webrtc.TrackRemote)) {
	n.onTrack = cb
}

// OnStateChange registers the callback invoked on pairing state transitions.
func (n *Negotiator) OnStateChange(cb func(peerID string, state PeerState)) {
	n.onState = cb
}

// HandleRoomUsers prepares one answering pairing per member of the initial
// roster. We are the newcomer, so each of them will send us an offer.
func (n *Negotiator) HandleRoomUsers(users []protocol.RoomUser) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, u := range users {
		if _, ok := n.peers[u.UserID]; ok {
			continue
		}
		if _, err := n.newPeer(u, roleAnswerer); err != nil {
			log.Error().Err(err).Str("peer_id", u.UserID).Msg("Failed to prepare peer connection")
		}
	}
}

// HandleUserJoined starts an offering pairing towards the newcomer.
func (n *Negotiator) HandleUserJoined(user protocol.RoomUser) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.peers[user.UserID]; ok {
		// already paired, the joiner notification is stale
		return
	}

	peer, err := n.newPeer(user, roleOfferer)
	if err != nil {
		log.Error().Err(err).Str("peer_id", user.UserID).Msg("Failed to prepare peer connection")
		return
	}

	offer, err := peer.pc.CreateOffer(nil)
	if err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := peer.pc.SetLocalDescription(offer); err != nil {
		n.failPeer(peer, err)
		return
	}

	blob, err := json.Marshal(offer)
	if err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := n.signaler.Send(protocol.EventOffer, protocol.Signal{Offer: blob}); err != nil {
		n.failPeer(peer, err)
		return
	}

	n.setState(peer, PeerNegotiating)
	log.Debug().Str("peer_id", peer.id).Str("peer_name", peer.name).Msg("Sent offer to newcomer")
}

// HandleOffer answers an offer from a roster member we are waiting on.
// Offers from unknown senders, or from peers we are meant to offer to, are
// relay fan-out for somebody else and are dropped.
func (n *Negotiator) HandleOffer(from string, blob json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	peer, ok := n.peers[from]
	if !ok || peer.role != roleAnswerer || peer.state != PeerNew {
		log.Debug().Str("peer_id", from).Msg("Ignoring offer not addressed to us")
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(blob, &offer); err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := peer.pc.SetRemoteDescription(offer); err != nil {
		n.failPeer(peer, err)
		return
	}
	n.drainPending(peer)

	answer, err := peer.pc.CreateAnswer(nil)
	if err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := peer.pc.SetLocalDescription(answer); err != nil {
		n.failPeer(peer, err)
		return
	}

	out, err := json.Marshal(answer)
	if err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := n.signaler.Send(protocol.EventAnswer, protocol.Signal{Answer: out}); err != nil {
		n.failPeer(peer, err)
		return
	}

	n.setState(peer, PeerNegotiating)
	log.Debug().Str("peer_id", peer.id).Msg("Answered offer")
}

// HandleAnswer completes the handshake on an offering pairing.
func (n *Negotiator) HandleAnswer(from string, blob json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	peer, ok := n.peers[from]
	if !ok || peer.role != roleOfferer || peer.state != PeerNegotiating {
		log.Debug().Str("peer_id", from).Msg("Ignoring answer not addressed to us")
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(blob, &answer); err != nil {
		n.failPeer(peer, err)
		return
	}
	if err := peer.pc.SetRemoteDescription(answer); err != nil {
		n.failPeer(peer, err)
		return
	}
	n.drainPending(peer)
}

// HandleCandidate feeds a trickled remote candidate into the pairing,
// buffering it if the remote description has not arrived yet.
func (n *Negotiator) HandleCandidate(from string, blob json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()

	peer, ok := n.peers[from]
	if !ok || peer.state == PeerClosed {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(blob, &candidate); err != nil {
		log.Error().Err(err).Str("peer_id", from).Msg("Malformed ICE candidate")
		return
	}

	if peer.pc.RemoteDescription() == nil {
		peer.pending = append(peer.pending, candidate)
		return
	}
	if err := peer.pc.AddICECandidate(candidate); err != nil {
		log.Error().Err(err).Str("peer_id", from).Msg("Failed to add ICE candidate")
	}
}

// HandlePeerLeft releases the pairing. The departure already removed the
// remote from the room, so the resources just go away.
func (n *Negotiator) HandlePeerLeft(from string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	peer, ok := n.peers[from]
	if !ok {
		return
	}
	n.closePeer(peer)
	log.Info().Str("peer_id", from).Str("peer_name", peer.name).Msg("Peer left, connection released")
}

// CloseAll releases every pairing, used on hang-up and channel loss.
func (n *Negotiator) CloseAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, peer := range n.peers {
		n.closePeer(peer)
	}
}

// PeerStates snapshots the current pairings for display.
func (n *Negotiator) PeerStates() map[string]PeerState {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make(map[string]PeerState, len(n.peers))
	for id, peer := range n.peers {
		out[id] = peer.state
	}
	return out
}

// newPeer builds the peer connection and wires its callbacks. Caller holds
// the mutex.
func (n *Negotiator) newPeer(user protocol.RoomUser, role peerRole) (*remotePeer, error) {
	pc, err := webrtc.NewPeerConnection(n.cfg)
	if err != nil {
		return nil, err
	}

	for _, track := range n.local {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, err
		}
	}
	if len(n.local) == 0 {
		// Receive-only: the transceivers put m-lines into the offer so the
		// remote still sends us its media.
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, err
			}
		}
	}

	peer := &remotePeer{
		id:    user.UserID,
		name:  user.UserName,
		role:  role,
		state: PeerNew,
		pc:    pc,
	}
	n.peers[peer.id] = peer

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		blob, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		if err := n.signaler.Send(protocol.EventICECandidate, protocol.Signal{Candidate: blob}); err != nil {
			log.Error().Err(err).Str("peer_id", peer.id).Msg("Failed to send candidate")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().Str("peer_id", peer.id).Str("kind", track.Kind().String()).Msg("Received remote track")
		n.mu.Lock()
		if peer.state != PeerClosed {
			n.setState(peer, PeerConnected)
		}
		n.mu.Unlock()
		if n.onTrack != nil {
			n.onTrack(peer.id, peer.name, track)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer_id", peer.id).Str("state", state.String()).Msg("Peer connection state changed")
		if state == webrtc.PeerConnectionStateFailed {
			// Local to this pairing; other peers keep going. Closing from
			// inside the callback goroutine would deadlock pion, so defer it.
			go func() {
				n.mu.Lock()
				n.closePeer(peer)
				n.mu.Unlock()
			}()
		}
	})

	return peer, nil
}

// drainPending applies candidates buffered before the remote description was
// set. Caller holds the mutex.
func (n *Negotiator) drainPending(peer *remotePeer) {
	for _, candidate := range peer.pending {
		if err := peer.pc.AddICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("peer_id", peer.id).Msg("Failed to add buffered candidate")
		}
	}
	peer.pending = nil
}

// failPeer reports a negotiation error and releases the pairing without
// touching any other peer. Caller holds the mutex.
func (n *Negotiator) failPeer(peer *remotePeer, err error) {
	log.Error().Err(err).Str("peer_id", peer.id).Str("peer_name", peer.name).Msg("Negotiation failed")
	n.closePeer(peer)
}

// closePeer releases the connection and stops tracking the pairing. Caller
// holds the mutex.
func (n *Negotiator) closePeer(peer *remotePeer) {
	if peer.state == PeerClosed {
		return
	}
	peer.pc.Close()
	n.setState(peer, PeerClosed)
	delete(n.peers, peer.id)
}

func (n *Negotiator) setState(peer *remotePeer, state PeerState) {
	peer.state = state
	if n.onState != nil {
		n.onState(peer.id, state)
	}
}
