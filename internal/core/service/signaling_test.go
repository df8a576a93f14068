package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotewise/callbridge/internal/adapter/driven/persistence/memory"
	"github.com/quotewise/callbridge/internal/core/domain"
	"github.com/quotewise/callbridge/internal/protocol"
)

type fakeClient struct {
	id string

	mu     sync.Mutex
	events []protocol.Envelope
	closed bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id}
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) Send(env protocol.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) eventsOf(event string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range f.events {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeClient) users(t *testing.T, event string) [][]protocol.RoomUser {
	t.Helper()
	var out [][]protocol.RoomUser
	for _, env := range f.eventsOf(event) {
		var users []protocol.RoomUser
		if event == protocol.EventRoomUsers {
			require.NoError(t, env.Decode(&users))
		} else {
			var u protocol.RoomUser
			require.NoError(t, env.Decode(&u))
			users = []protocol.RoomUser{u}
		}
		out = append(out, users)
	}
	return out
}

func newService() (*SignalingService, *memory.RoomRegistry) {
	reg := memory.NewRoomRegistry()
	return NewSignalingService(reg), reg
}

func connect(s *SignalingService, c *fakeClient) {
	s.handleRegister(c)
}

func join(t *testing.T, s *SignalingService, c *fakeClient, roomID, name string) {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: roomID, UserName: name})
	require.NoError(t, err)
	s.handleEvent(c, env)
}

func sendSignal(t *testing.T, s *SignalingService, c *fakeClient, event string, sig protocol.Signal) {
	t.Helper()
	env, err := protocol.NewEnvelope(event, sig)
	require.NoError(t, err)
	s.handleEvent(c, env)
}

func TestFirstJoinerGetsEmptyRoster(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)

	join(t, s, c1, "abc123", "Alice")

	rosters := c1.users(t, protocol.EventRoomUsers)
	require.Len(t, rosters, 1)
	assert.Empty(t, rosters[0])
	assert.Equal(t, []domain.ConnectionID{"c1"}, reg.Members("abc123"))
}

func TestSecondJoinerRosterAndNotification(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	connect(s, c1)
	connect(s, c2)

	join(t, s, c1, "abc123", "Alice")
	join(t, s, c2, "abc123", "Bob")

	rosters := c2.users(t, protocol.EventRoomUsers)
	require.Len(t, rosters, 1)
	assert.Equal(t, []protocol.RoomUser{{UserID: "c1", UserName: "Alice"}}, rosters[0])

	joined := c1.users(t, protocol.EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, protocol.RoomUser{UserID: "c2", UserName: "Bob"}, joined[0][0])

	assert.Empty(t, c2.eventsOf(protocol.EventUserJoined), "joiner must not hear about itself")
}

func TestThreePartyScenario(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	c3 := newFakeClient("c3")
	for _, c := range []*fakeClient{c1, c2, c3} {
		connect(s, c)
	}

	join(t, s, c1, "abc123", "Alice")
	join(t, s, c2, "abc123", "Bob")
	join(t, s, c3, "abc123", "Carol")

	rosters := c3.users(t, protocol.EventRoomUsers)
	require.Len(t, rosters, 1)
	assert.ElementsMatch(t, []protocol.RoomUser{
		{UserID: "c1", UserName: "Alice"},
		{UserID: "c2", UserName: "Bob"},
	}, rosters[0])

	for _, c := range []*fakeClient{c1, c2} {
		joined := c.users(t, protocol.EventUserJoined)
		last := joined[len(joined)-1][0]
		assert.Equal(t, protocol.RoomUser{UserID: "c3", UserName: "Carol"}, last)
	}

	s.handleDisconnect(c2)

	for _, c := range []*fakeClient{c1, c3} {
		left := c.users(t, protocol.EventUserLeft)
		require.Len(t, left, 1, "exactly one user-left per remaining member")
		assert.Equal(t, protocol.RoomUser{UserID: "c2", UserName: "Bob"}, left[0][0])
	}
	assert.ElementsMatch(t, []domain.ConnectionID{"c1", "c3"}, reg.Members("abc123"))
}

func TestSecondJoinRejected(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	connect(s, c1)
	connect(s, c2)

	join(t, s, c1, "abc123", "Alice")
	join(t, s, c2, "abc123", "Bob")
	join(t, s, c1, "other", "Alice")

	errs := c1.eventsOf(protocol.EventError)
	require.Len(t, errs, 1)
	var p protocol.ErrorPayload
	require.NoError(t, errs[0].Decode(&p))
	assert.Equal(t, domain.ErrAlreadyJoined.Error(), p.Message)

	// membership untouched, nobody heard a second join
	assert.ElementsMatch(t, []domain.ConnectionID{"c1", "c2"}, reg.Members("abc123"))
	assert.Empty(t, reg.Members("other"))
	assert.Len(t, c2.eventsOf(protocol.EventUserJoined), 0)
}

func TestRelayBeforeJoinRejected(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)

	sendSignal(t, s, c1, protocol.EventOffer, protocol.Signal{Offer: []byte(`{"type":"offer"}`)})

	errs := c1.eventsOf(protocol.EventError)
	require.Len(t, errs, 1)
	var p protocol.ErrorPayload
	require.NoError(t, errs[0].Decode(&p))
	assert.Equal(t, domain.ErrNotJoined.Error(), p.Message)
}

func TestRelayFanOutCarriesSenderIdentity(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	c3 := newFakeClient("c3")
	for _, c := range []*fakeClient{c1, c2, c3} {
		connect(s, c)
		join(t, s, c, "abc123", "user-"+c.id)
	}

	offer := []byte(`{"type":"offer","sdp":"v=0"}`)
	sendSignal(t, s, c1, protocol.EventOffer, protocol.Signal{RoomID: "abc123", Offer: offer})

	for _, c := range []*fakeClient{c2, c3} {
		relayed := c.eventsOf(protocol.EventOffer)
		require.Len(t, relayed, 1)
		var sig protocol.Signal
		require.NoError(t, relayed[0].Decode(&sig))
		assert.Equal(t, "c1", sig.From, "from is attached by the gateway")
		assert.JSONEq(t, string(offer), string(sig.Offer))
	}
	assert.Empty(t, c1.eventsOf(protocol.EventOffer), "sender must not receive its own signal")
}

// A client lying about roomId must not reach another room: relays are routed
// by the room the channel actually joined.
func TestRelayIgnoresClientSuppliedRoom(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	other := newFakeClient("other")
	connect(s, c1)
	connect(s, c2)
	connect(s, other)

	join(t, s, c1, "r1", "Alice")
	join(t, s, c2, "r1", "Bob")
	join(t, s, other, "r2", "Mallory-target")

	sendSignal(t, s, c1, protocol.EventICECandidate, protocol.Signal{
		RoomID:    "r2",
		Candidate: []byte(`{"candidate":"x"}`),
	})

	assert.Len(t, c2.eventsOf(protocol.EventICECandidate), 1)
	assert.Empty(t, other.eventsOf(protocol.EventICECandidate), "no cross-room leakage")
}

func TestDisconnectLastMemberRemovesRoom(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)
	join(t, s, c1, "abc123", "Alice")

	s.handleDisconnect(c1)

	assert.Zero(t, reg.RoomCount())
	assert.True(t, c1.closed)
}

func TestDuplicateDisconnectIsNoop(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	connect(s, c1)
	connect(s, c2)
	join(t, s, c1, "abc123", "Alice")
	join(t, s, c2, "abc123", "Bob")

	s.handleDisconnect(c2)
	s.handleDisconnect(c2)

	assert.Len(t, c1.eventsOf(protocol.EventUserLeft), 1, "no duplicate user-left")
}

func TestDisconnectBeforeJoinNotifiesNobody(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	connect(s, c1)
	connect(s, c2)
	join(t, s, c1, "abc123", "Alice")

	s.handleDisconnect(c2)

	assert.Empty(t, c1.eventsOf(protocol.EventUserLeft))
	assert.Equal(t, 1, reg.RoomCount())
}

func TestMalformedJoinPayload(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)

	s.handleEvent(c1, protocol.Envelope{Event: protocol.EventJoinRoom, Data: []byte(`"not an object"`)})

	require.Len(t, c1.eventsOf(protocol.EventError), 1)
	assert.Zero(t, reg.RoomCount())
}

func TestEmptyRoomIDRejected(t *testing.T) {
	s, reg := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)

	join(t, s, c1, "", "Alice")

	require.Len(t, c1.eventsOf(protocol.EventError), 1)
	assert.Zero(t, reg.RoomCount())
}

func TestUnknownEventIgnored(t *testing.T) {
	s, _ := newService()
	c1 := newFakeClient("c1")
	connect(s, c1)

	s.handleEvent(c1, protocol.Envelope{Event: "chat-message", Data: []byte(`{}`)})

	assert.Empty(t, c1.eventsOf(protocol.EventError))
}

func TestRunLoopServesChannels(t *testing.T) {
	s, _ := newService()
	go s.Run()
	defer s.Stop()

	c1 := newFakeClient("c1")
	c2 := newFakeClient("c2")
	s.Register(c1)
	s.Register(c2)

	env, err := protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "abc123", UserName: "Alice"})
	require.NoError(t, err)
	s.Dispatch(c1, env)

	env, err = protocol.NewEnvelope(protocol.EventJoinRoom, protocol.JoinRoom{RoomID: "abc123", UserName: "Bob"})
	require.NoError(t, err)
	s.Dispatch(c2, env)

	require.Eventually(t, func() bool {
		return len(c1.eventsOf(protocol.EventUserJoined)) == 1 &&
			len(c2.eventsOf(protocol.EventRoomUsers)) == 1
	}, time.Second, 10*time.Millisecond)
}
