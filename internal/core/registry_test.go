package core

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"
)

func newTestRegistry() (*Registry, *recordingRelay, *clock.Mock) {
	relay := &recordingRelay{}
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(relay, WithClock(clk)), relay, clk
}

func TestRoomExistsIffItHasParticipants(t *testing.T) {
	reg, _, _ := newTestRegistry()

	type op struct {
		name   string
		run    func() error
		exists bool
		count  int
	}
	ops := []op{
		{"create", func() error { _, err := reg.CreateRoom("abc", "u1", "Al", 7, "h1"); return err }, true, 1},
		{"join u2", func() error { _, err := reg.JoinRoom("abc", "u2", "Bo", "h2"); return err }, true, 2},
		{"join u3", func() error { _, err := reg.JoinRoom("abc", "u3", "Cy", "h3"); return err }, true, 3},
		{"leave host", func() error { return reg.LeaveRoom("abc", "u1") }, true, 2},
		{"disconnect u3", func() error { return reg.Disconnect("abc", "u3", "h3") }, true, 1},
		{"leave last", func() error { return reg.LeaveRoom("abc", "u2") }, false, 0},
		{"recreate", func() error { _, err := reg.CreateRoom("abc", "u9", "Zed", 1, "h9"); return err }, true, 1},
	}

	for _, o := range ops {
		if err := o.run(); err != nil {
			t.Fatalf("%s: %v", o.name, err)
		}
		snap, ok := reg.Snapshot("abc")
		if ok != o.exists {
			t.Fatalf("%s: exists=%v, want %v", o.name, ok, o.exists)
		}
		if ok && len(snap.Participants) != o.count {
			t.Fatalf("%s: %d participants, want %d: %s", o.name, len(snap.Participants), o.count, spew.Sdump(snap))
		}
		if ok && len(snap.Participants) == 0 {
			t.Fatalf("%s: live room with no participants", o.name)
		}
	}
}

func TestJoinUnknownRoomCreatesNothing(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	_, err := reg.JoinRoom("ghost", "u1", "Al", "h1")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, ok := reg.Snapshot("ghost"); ok {
		t.Fatal("join must not create a room")
	}
	if s := reg.Stats(); s.Rooms != 0 || s.Participants != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if len(relay.log) != 0 {
		t.Fatalf("nothing should be published: %s", spew.Sdump(relay.log))
	}
}

func TestSeekIsVisibleToLaterJoiner(t *testing.T) {
	reg, _, _ := newTestRegistry()

	if _, err := reg.CreateRoom("abc", "u1", "Al", 7, "h1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	seekTo := 120.0
	if err := reg.ApplyPlayback("abc", "u1", PlaybackSeek, PlaybackUpdate{CurrentTime: &seekTo}); err != nil {
		t.Fatalf("seek: %v", err)
	}

	snap, err := reg.JoinRoom("abc", "u2", "Bo", "h2")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Playback.CurrentTime != 120 {
		t.Fatalf("expected currentTime 120, got %v", snap.Playback.CurrentTime)
	}
	if snap.Playback.MediaID != 7 || snap.Playback.IsPlaying {
		t.Fatalf("unexpected playback: %+v", snap.Playback)
	}
	if len(snap.Participants) != 2 || !snap.Participants[0].IsHost || snap.Participants[1].IsHost {
		t.Fatalf("unexpected participants: %s", spew.Sdump(snap.Participants))
	}
}

func TestLeaveOneOfSeveralPublishesOnce(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	reg.CreateRoom("abc", "u1", "Al", 0, "h1")
	reg.JoinRoom("abc", "u2", "Bo", "h2")
	reg.JoinRoom("abc", "u3", "Cy", "h3")

	if err := reg.LeaveRoom("abc", "u2"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	left := relay.ofKind(EventParticipantLeft)
	if len(left) != 1 {
		t.Fatalf("expected exactly one participant-left, got %d", len(left))
	}
	got := left[0]
	if got.ev.UserID != "u2" {
		t.Fatalf("unexpected leaver: %+v", got.ev)
	}
	if len(got.targets) != 2 || got.targets[0] != "h1" || got.targets[1] != "h3" {
		t.Fatalf("unexpected targets: %v", got.targets)
	}
	if len(got.ev.Participants) != 2 || got.ev.Participants[0].ID != "u1" || got.ev.Participants[1].ID != "u3" {
		t.Fatalf("unexpected remaining set: %s", spew.Sdump(got.ev.Participants))
	}
}

func TestLeaveOnlyParticipantDeletesRoomSilently(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	reg.CreateRoom("abc", "u1", "Al", 0, "h1")
	if err := reg.LeaveRoom("abc", "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := reg.Snapshot("abc"); ok {
		t.Fatal("room should be gone")
	}
	if n := len(relay.ofKind(EventParticipantLeft)); n != 0 {
		t.Fatalf("nobody left to notify, got %d publishes", n)
	}
}

func TestCreateRoomRejectsLiveID(t *testing.T) {
	reg, _, _ := newTestRegistry()

	reg.CreateRoom("abc", "u1", "Al", 7, "h1")
	reg.JoinRoom("abc", "u2", "Bo", "h2")

	_, err := reg.CreateRoom("abc", "u3", "Cy", 9, "h3")
	if !errors.Is(err, ErrRoomAlreadyExists) {
		t.Fatalf("expected ErrRoomAlreadyExists, got %v", err)
	}
	if ce := ToCoreError(err); ce.Code != ErrCodeRoomExists {
		t.Fatalf("expected code %s, got %s", ErrCodeRoomExists, ce.Code)
	}

	snap, _ := reg.Snapshot("abc")
	if len(snap.Participants) != 2 || snap.Playback.MediaID != 7 {
		t.Fatalf("existing room was modified: %s", spew.Sdump(snap))
	}
}

func TestPlaybackSkipsSender(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	reg.CreateRoom("xyz", "A", "Al", 0, "hA")
	reg.JoinRoom("xyz", "B", "Bo", "hB")

	at := 42.0
	if err := reg.ApplyPlayback("xyz", "A", PlaybackPlay, PlaybackUpdate{CurrentTime: &at}); err != nil {
		t.Fatalf("play: %v", err)
	}

	plays := relay.ofKind(EventPlay)
	if len(plays) != 1 {
		t.Fatalf("expected one play publish, got %d", len(plays))
	}
	if len(plays[0].targets) != 1 || plays[0].targets[0] != "hB" {
		t.Fatalf("play should reach only B, got %v", plays[0].targets)
	}
	ev := plays[0].ev
	if ev.Playback.CurrentTime == nil || *ev.Playback.CurrentTime != 42 {
		t.Fatalf("unexpected playback payload: %s", spew.Sdump(ev.Playback))
	}
	if ev.Playback.IsPlaying == nil || !*ev.Playback.IsPlaying {
		t.Fatal("play should carry isPlaying=true")
	}

	snap, _ := reg.Snapshot("xyz")
	if !snap.Playback.IsPlaying || snap.Playback.CurrentTime != 42 {
		t.Fatalf("authoritative state not updated: %+v", snap.Playback)
	}
}

func TestPauseKeepsTimeWhenAbsent(t *testing.T) {
	reg, _, _ := newTestRegistry()

	reg.CreateRoom("r", "A", "Al", 0, "hA")
	at := 10.0
	reg.ApplyPlayback("r", "A", PlaybackPlay, PlaybackUpdate{CurrentTime: &at})
	reg.ApplyPlayback("r", "A", PlaybackPause, PlaybackUpdate{})

	snap, _ := reg.Snapshot("r")
	if snap.Playback.IsPlaying || snap.Playback.CurrentTime != 10 {
		t.Fatalf("unexpected playback: %+v", snap.Playback)
	}
}

func TestPlaybackOnMissingRoom(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	err := reg.ApplyPlayback("nope", "A", PlaybackSeek, PlaybackUpdate{})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if len(relay.log) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestChatSkipsSenderAndIsStamped(t *testing.T) {
	reg, relay, clk := newTestRegistry()

	reg.CreateRoom("xyz", "A", "Al", 0, "hA")
	reg.JoinRoom("xyz", "B", "Bo", "hB")
	reg.JoinRoom("xyz", "C", "Cy", "hC")

	msg, err := reg.RelayChat("xyz", "A", "", "hi")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if msg.ID == "" || msg.SenderName != "Al" || !msg.CreatedAt.Equal(clk.Now()) {
		t.Fatalf("unexpected message: %s", spew.Sdump(msg))
	}

	chats := relay.ofKind(EventChat)
	if len(chats) != 1 {
		t.Fatalf("expected one chat publish, got %d", len(chats))
	}
	targets := chats[0].targets
	if len(targets) != 2 || targets[0] != "hB" || targets[1] != "hC" {
		t.Fatalf("chat should reach B and C once each, got %v", targets)
	}

	second, _ := reg.RelayChat("xyz", "B", "Bo", "hey")
	if second.ID <= msg.ID {
		t.Fatalf("ids should be monotonic: %s then %s", msg.ID, second.ID)
	}

	if _, err := reg.RelayChat("xyz", "A", "Al", "   "); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for empty chat, got %v", err)
	}
}

func TestUpdateTimeIsSilent(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	reg.CreateRoom("r", "A", "Al", 0, "hA")
	reg.JoinRoom("r", "B", "Bo", "hB")
	before := len(relay.log)

	if err := reg.UpdateTime("r", 33.5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(relay.log) != before {
		t.Fatal("time update must not broadcast")
	}
	snap, _ := reg.Snapshot("r")
	if snap.Playback.CurrentTime != 33.5 {
		t.Fatalf("time not stored: %+v", snap.Playback)
	}
}

func TestRejoinRebindsHandleWithoutBroadcast(t *testing.T) {
	reg, relay, _ := newTestRegistry()

	reg.CreateRoom("r", "A", "Al", 0, "hA")
	reg.JoinRoom("r", "B", "Bo", "hB-old")

	snap, err := reg.JoinRoom("r", "B", "Bo", "hB-new")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(snap.Participants) != 2 {
		t.Fatalf("rejoin must not duplicate: %s", spew.Sdump(snap.Participants))
	}
	if n := len(relay.ofKind(EventParticipantJoined)); n != 1 {
		t.Fatalf("expected only the first join to be published, got %d", n)
	}

	// The old socket closing must not evict the rebound participant.
	if err := reg.Disconnect("r", "B", "hB-old"); err != nil {
		t.Fatalf("stale disconnect: %v", err)
	}
	if snap, _ := reg.Snapshot("r"); len(snap.Participants) != 2 {
		t.Fatal("stale disconnect removed the participant")
	}

	if err := reg.Disconnect("r", "B", "hB-new"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if snap, _ := reg.Snapshot("r"); len(snap.Participants) != 1 {
		t.Fatal("disconnect with the current handle should remove the participant")
	}
}

func TestHostIsNotReassigned(t *testing.T) {
	reg, _, _ := newTestRegistry()

	reg.CreateRoom("r", "A", "Al", 0, "hA")
	reg.JoinRoom("r", "B", "Bo", "hB")
	reg.LeaveRoom("r", "A")

	snap, _ := reg.Snapshot("r")
	for _, p := range snap.Participants {
		if p.IsHost {
			t.Fatalf("host should not be transferred: %s", spew.Sdump(snap.Participants))
		}
	}
}

func TestLeaveErrors(t *testing.T) {
	reg, _, _ := newTestRegistry()

	if err := reg.LeaveRoom("ghost", "A"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	reg.CreateRoom("r", "A", "Al", 0, "hA")
	if err := reg.LeaveRoom("r", "Z"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("expected ErrNotInRoom, got %v", err)
	}
}

func TestListAndStats(t *testing.T) {
	reg, _, clk := newTestRegistry()

	reg.CreateRoom("second", "B", "Bo", 2, "hB")
	clk.Add(time.Second)
	reg.CreateRoom("first", "A", "Al", 1, "hA")
	reg.JoinRoom("first", "C", "Cy", "hC")

	list := reg.List()
	if len(list) != 2 || list[0].ID != "second" || list[1].ID != "first" {
		t.Fatalf("unexpected order: %s", spew.Sdump(list))
	}
	if list[1].Participants != 2 {
		t.Fatalf("unexpected count: %+v", list[1])
	}
	if s := reg.Stats(); s.Rooms != 2 || s.Participants != 3 {
		t.Fatalf("unexpected stats: %+v", s)
	}

	reg.Close()
	if s := reg.Stats(); s.Rooms != 0 {
		t.Fatalf("close should drop rooms: %+v", s)
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	a, _, _ := newTestRegistry()
	b, _, _ := newTestRegistry()

	a.CreateRoom("abc", "u1", "Al", 0, "h1")
	if _, ok := b.Snapshot("abc"); ok {
		t.Fatal("registries must not share rooms")
	}
}
