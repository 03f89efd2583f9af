package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormond/waypoint/internal/core"
	"github.com/ormond/waypoint/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var ev map[string]any
		require.NoError(t, json.Unmarshal(fr, &ev))
		out = append(out, ev)
	}
	return out
}

func (f *fakeConn) eventsOfType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range f.events(t) {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeVerifier struct {
	users map[string]*domain.User
}

func (v *fakeVerifier) Verify(_ context.Context, credential string) (*domain.User, error) {
	u, ok := v.users[credential]
	if !ok {
		return nil, errors.New("bad credential")
	}
	return u, nil
}

type fakeDirectory struct {
	rooms   map[domain.RoomID]domain.Room
	listErr error
}

func (d *fakeDirectory) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	r, ok := d.rooms[id]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return &r, nil
}

func (d *fakeDirectory) RoomsFor(_ context.Context, _ *domain.User, now time.Time) ([]domain.Room, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []domain.Room
	for _, r := range d.rooms {
		if r.Joinable(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu         sync.Mutex
	msgs       []*domain.Message
	failAppend error
	failRecent error
}

func (s *fakeStore) Append(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return s.failAppend
	}
	cp := *msg
	s.msgs = append(s.msgs, &cp)
	return nil
}

func (s *fakeStore) Recent(_ context.Context, room domain.RoomID, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecent != nil {
		return nil, s.failRecent
	}
	var out []domain.Message
	for _, m := range s.msgs {
		if m.RoomID == room {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) ToggleReaction(_ context.Context, messageID string, uid domain.UserID) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID != messageID {
			continue
		}
		if m.ReactedBy(uid) {
			kept := make([]domain.UserID, 0, len(m.Reactions))
			for _, r := range m.Reactions {
				if r != uid {
					kept = append(kept, r)
				}
			}
			m.Reactions = kept
		} else {
			m.Reactions = append(m.Reactions, uid)
		}
		cp := *m
		return &cp, nil
	}
	return nil, core.ErrMessageNotFound
}

type fixture struct {
	orch  *Orchestrator
	store *fakeStore
	dir   *fakeDirectory
}

func newFixture() *fixture {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	dir := &fakeDirectory{rooms: map[domain.RoomID]domain.Room{
		"global": {ID: "global", Name: "Global", Type: domain.RoomGlobal},
		"park":   {ID: "park", Name: "Park", Type: domain.RoomLocation, Point: &domain.GeoPoint{Lat: 52.4, Lng: 4.9}},
		"meetup": {ID: "meetup", Name: "Meetup", Type: domain.RoomEvent, EndsAt: &past},
		"launch": {ID: "launch", Name: "Launch", Type: domain.RoomEvent, EndsAt: &future},
	}}
	verifier := &fakeVerifier{users: map[string]*domain.User{
		"token-u": {ID: "u", Username: "ursula"},
		"token-v": {ID: "v", Username: "victor"},
		"token-w": {ID: "w", Username: "wanda"},
	}}
	st := &fakeStore{}
	reg := core.NewRegistry(0)
	return &fixture{
		orch:  NewOrchestrator(reg, verifier, dir, st, domain.DefaultMaxContentLen, 50),
		store: st,
		dir:   dir,
	}
}

func (f *fixture) connect(t *testing.T, id core.ConnID) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, err := f.orch.Connect(id, conn)
	require.NoError(t, err)
	return conn
}

func (f *fixture) authed(t *testing.T, id core.ConnID, token string) *fakeConn {
	t.Helper()
	conn := f.connect(t, id)
	_, err := f.orch.Authenticate(context.Background(), id, token)
	require.NoError(t, err)
	return conn
}

func (f *fixture) inRoom(t *testing.T, id core.ConnID, token string, room domain.RoomID) *fakeConn {
	t.Helper()
	conn := f.authed(t, id, token)
	_, err := f.orch.Join(context.Background(), id, room)
	require.NoError(t, err)
	return conn
}

func TestAuthenticateReturnsJoinableRooms(t *testing.T) {
	f := newFixture()
	f.connect(t, "c1")

	ev, err := f.orch.Authenticate(context.Background(), "c1", "token-u")
	require.NoError(t, err)
	assert.Equal(t, core.EvAuthenticated, ev.Type)
	assert.Equal(t, domain.UserID("u"), ev.User.ID)

	ids := map[domain.RoomID]bool{}
	for _, r := range ev.Rooms {
		ids[r.ID] = true
	}
	assert.True(t, ids["global"])
	assert.True(t, ids["launch"])
	assert.False(t, ids["meetup"], "expired event room must not be offered")
}

func TestAuthenticationGating(t *testing.T) {
	f := newFixture()
	f.connect(t, "c1")

	_, err := f.orch.Authenticate(context.Background(), "c1", "bogus")
	require.Error(t, err)
	assert.Equal(t, core.CodeAuth, core.CodeOf(err))

	// The failed attempt leaves the session unauthenticated, so joining is
	// a state error, not an authorization one.
	_, err = f.orch.Join(context.Background(), "c1", "global")
	require.Error(t, err)
	assert.Equal(t, core.CodeBadState, core.CodeOf(err))

	// Retrying with a valid credential succeeds on the same connection.
	_, err = f.orch.Authenticate(context.Background(), "c1", "token-u")
	assert.NoError(t, err)
}

func TestJoinNonexistentRoom(t *testing.T) {
	f := newFixture()
	f.authed(t, "c1", "token-u")

	_, err := f.orch.Join(context.Background(), "c1", "nowhere")
	require.Error(t, err)
	assert.Equal(t, core.CodeNotJoinable, core.CodeOf(err))
}

func TestJoinExpiredEventRoom(t *testing.T) {
	f := newFixture()
	f.authed(t, "c1", "token-u")

	_, err := f.orch.Join(context.Background(), "c1", "meetup")
	require.Error(t, err)
	assert.Equal(t, core.CodeNotJoinable, core.CodeOf(err))
	assert.Equal(t, 0, f.orch.Registry.CountOf("meetup"))
}

func TestJoinActiveEventRoom(t *testing.T) {
	f := newFixture()
	f.authed(t, "c1", "token-u")

	ev, err := f.orch.Join(context.Background(), "c1", "launch")
	require.NoError(t, err)
	assert.Equal(t, 1, ev.MemberCount)
}

func seedMessages(f *fixture, room domain.RoomID, n int) []string {
	ids := make([]string, 0, n)
	base := time.Now().Add(-time.Minute)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%d", i+1)
		f.store.msgs = append(f.store.msgs, &domain.Message{
			ID:        id,
			RoomID:    room,
			Sender:    domain.User{ID: "v", Username: "victor"},
			Content:   fmt.Sprintf("msg %d", i+1),
			Type:      domain.MsgText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		ids = append(ids, id)
	}
	return ids
}

func TestJoinDeliversHistoryToJoinerOnly(t *testing.T) {
	f := newFixture()
	ids := seedMessages(f, "global", 3)
	seedMessages(f, "park", 2)
	resident := f.inRoom(t, "c1", "token-v", "global")

	joiner := f.authed(t, "c2", "token-u")
	joined, err := f.orch.Join(context.Background(), "c2", "global")
	require.NoError(t, err)

	require.Len(t, joined.History, 3)
	for i, dto := range joined.History {
		assert.Equal(t, ids[i], dto.ID, "history is oldest to newest")
	}
	assert.Equal(t, 2, joined.MemberCount)

	// The resident sees one presence update and never the history.
	assert.Len(t, resident.eventsOfType(t, core.EvPresence), 1)
	assert.Empty(t, resident.eventsOfType(t, core.EvJoined))
	assert.Empty(t, joiner.eventsOfType(t, core.EvMessage))
}

func TestJoinHistoryWindowLimit(t *testing.T) {
	f := newFixture()
	f.orch.HistoryLimit = 2
	ids := seedMessages(f, "global", 5)
	f.authed(t, "c1", "token-u")

	joined, err := f.orch.Join(context.Background(), "c1", "global")
	require.NoError(t, err)
	require.Len(t, joined.History, 2)
	assert.Equal(t, ids[3], joined.History[0].ID)
	assert.Equal(t, ids[4], joined.History[1].ID)
}

func TestJoinHistoryFailureStillJoins(t *testing.T) {
	f := newFixture()
	f.store.failRecent = errors.New("store down")
	f.authed(t, "c1", "token-u")

	joined, err := f.orch.Join(context.Background(), "c1", "global")
	require.NoError(t, err)
	assert.Empty(t, joined.History)
	assert.Equal(t, 1, f.orch.Registry.CountOf("global"))
}

func TestJoinSwitchNotifiesBothRooms(t *testing.T) {
	f := newFixture()
	stayerA := f.inRoom(t, "c1", "token-v", "global")
	stayerB := f.inRoom(t, "c2", "token-w", "park")
	f.inRoom(t, "c3", "token-u", "global")

	_, err := f.orch.Join(context.Background(), "c3", "park")
	require.NoError(t, err)

	assert.Equal(t, 1, f.orch.Registry.CountOf("global"), "mover left global")
	assert.Equal(t, 2, f.orch.Registry.CountOf("park"))

	// global resident: +1 on c3's first join, -1 on its departure.
	presences := stayerA.eventsOfType(t, core.EvPresence)
	require.Len(t, presences, 2)
	assert.Equal(t, float64(2), presences[0]["member_count"])
	assert.Equal(t, float64(1), presences[1]["member_count"])

	presences = stayerB.eventsOfType(t, core.EvPresence)
	require.Len(t, presences, 1)
	assert.Equal(t, float64(2), presences[0]["member_count"])
}

func TestSendHelloScenario(t *testing.T) {
	f := newFixture()
	resident := f.inRoom(t, "c-v", "token-v", "global")
	f.inRoom(t, "c-u", "token-u", "global")

	ack, err := f.orch.Send(context.Background(), "c-u", "hello", domain.MsgText, "")
	require.NoError(t, err)
	assert.Equal(t, core.EvMessageAck, ack.Type)
	assert.Equal(t, "hello", ack.Message.Content)
	assert.Equal(t, domain.UserID("u"), ack.Message.Sender.ID)

	msgs := resident.eventsOfType(t, core.EvMessage)
	require.Len(t, msgs, 1)
	payload := msgs[0]["message"].(map[string]any)
	assert.Equal(t, ack.Message.ID, payload["id"])
	assert.Equal(t, "hello", payload["content"])
}

func TestSendStoreFailureNoBroadcast(t *testing.T) {
	f := newFixture()
	resident := f.inRoom(t, "c-v", "token-v", "global")
	f.inRoom(t, "c-u", "token-u", "global")
	f.store.failAppend = errors.New("store down")

	_, err := f.orch.Send(context.Background(), "c-u", "hello", domain.MsgText, "")
	require.Error(t, err)
	assert.Equal(t, core.CodePersist, core.CodeOf(err))
	assert.Empty(t, resident.eventsOfType(t, core.EvMessage))
}

func TestReactReachesEveryMember(t *testing.T) {
	f := newFixture()
	resident := f.inRoom(t, "c-v", "token-v", "global")
	toggler := f.inRoom(t, "c-u", "token-u", "global")

	ack, err := f.orch.Send(context.Background(), "c-v", "hello", domain.MsgText, "")
	require.NoError(t, err)

	dto, err := f.orch.React(context.Background(), "c-u", ack.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{"u"}, dto.Reactions)

	// Both members, the toggler included, see the updated message.
	for _, conn := range []*fakeConn{resident, toggler} {
		msgs := conn.eventsOfType(t, core.EvMessage)
		require.NotEmpty(t, msgs)
		last := msgs[len(msgs)-1]["message"].(map[string]any)
		assert.Equal(t, ack.Message.ID, last["id"])
	}
}

func TestLeaveNotifiesRoom(t *testing.T) {
	f := newFixture()
	resident := f.inRoom(t, "c1", "token-v", "global")
	f.inRoom(t, "c2", "token-u", "global")

	left, err := f.orch.Leave("c2")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomID("global"), left.RoomID)

	presences := resident.eventsOfType(t, core.EvPresence)
	require.Len(t, presences, 2)
	assert.Equal(t, float64(1), presences[1]["member_count"])

	_, err = f.orch.Leave("c2")
	assert.Equal(t, core.CodeBadState, core.CodeOf(err))
}

func TestDisconnectPresence(t *testing.T) {
	f := newFixture()
	remaining := f.inRoom(t, "c1", "token-v", "global")
	unrelated := f.inRoom(t, "c2", "token-w", "park")
	f.inRoom(t, "c3", "token-u", "global")

	before := len(remaining.eventsOfType(t, core.EvPresence))
	f.orch.Disconnect("c3")

	presences := remaining.eventsOfType(t, core.EvPresence)
	require.Len(t, presences, before+1)
	assert.Equal(t, float64(1), presences[len(presences)-1]["member_count"])
	assert.Empty(t, unrelated.eventsOfType(t, core.EvPresence))

	// Idempotent: a second disconnect emits nothing.
	f.orch.Disconnect("c3")
	assert.Len(t, remaining.eventsOfType(t, core.EvPresence), before+1)
}
