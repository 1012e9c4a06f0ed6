package gateway

import (
	"bytes"
	"testing"

	"github.com/lvdashuaibi/livepoll/config"
	"github.com/lvdashuaibi/livepoll/internal/model"
	"github.com/lvdashuaibi/livepoll/internal/repository"
	"github.com/lvdashuaibi/livepoll/internal/room"
	"github.com/lvdashuaibi/livepoll/internal/service"
)

func newTestGateway(legacy bool) (*Gateway, *service.PollService) {
	repo := repository.NewPollRepository()
	rooms := room.NewRegistry(repo)
	hub := NewHub(rooms, 16)
	polls := service.NewPollService(repo, hub, config.PollConfig{})
	votes := service.NewVoteService(repo, hub)
	return New(hub, rooms, polls, votes, config.GatewayConfig{LegacyMode: legacy}), polls
}

func send(t *testing.T, gw *Gateway, s *Session, action, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"type": action, "id": id, "data": data})
	if err != nil {
		t.Fatal(err)
	}
	gw.Dispatch(s, raw)
}

func drain(s *Session) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-s.Outbox():
			out = append(out, b)
		default:
			return out
		}
	}
}

func parse(t *testing.T, raw []byte) Frame {
	t.Helper()
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("bad frame %s: %v", raw, err)
	}
	return f
}

func framesOfType(t *testing.T, raws [][]byte, eventType string) [][]byte {
	var out [][]byte
	for _, raw := range raws {
		if parse(t, raw).Type == eventType {
			out = append(out, raw)
		}
	}
	return out
}

func lastAck(t *testing.T, s *Session) model.Ack {
	t.Helper()
	acks := framesOfType(t, drain(s), model.EventAck)
	if len(acks) == 0 {
		t.Fatal("Expected an ack")
	}
	var ack model.Ack
	if err := json.Unmarshal(parse(t, acks[len(acks)-1]).Data, &ack); err != nil {
		t.Fatal(err)
	}
	return ack
}

// postPoll has the presenter post a poll and returns its id from poll:started.
func postPoll(t *testing.T, gw *Gateway, presenter *Session) string {
	t.Helper()
	send(t, gw, presenter, ActionPostPoll, "p1", map[string]any{
		"question": "Favorite color?",
		"options":  []string{"Red", "Blue"},
	})
	started := framesOfType(t, drain(presenter), model.EventPollStarted)
	if len(started) != 1 {
		t.Fatalf("Expected presenter to receive poll:started, got %d", len(started))
	}
	var payload model.PollStartedPayload
	if err := json.Unmarshal(parse(t, started[0]).Data, &payload); err != nil {
		t.Fatal(err)
	}
	return payload.PollID
}

func TestGateway_MembersSeeIdenticalTally(t *testing.T) {
	gw, _ := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()
	s2 := gw.Connect()

	pollID := postPoll(t, gw, presenter)
	send(t, gw, s1, ActionJoin, "j1", map[string]any{"pollId": pollID, "name": "Ann"})
	send(t, gw, s2, ActionJoin, "j2", map[string]any{"pollId": pollID, "name": "Bob"})
	drain(s1)
	drain(s2)

	send(t, gw, s1, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 1})

	u1 := framesOfType(t, drain(s1), model.EventVoteUpdated)
	u2 := framesOfType(t, drain(s2), model.EventVoteUpdated)
	if len(u1) != 1 || len(u2) != 1 {
		t.Fatalf("Expected one vote:updated each, got %d and %d", len(u1), len(u2))
	}
	if !bytes.Equal(u1[0], u2[0]) {
		t.Errorf("Expected identical frames, got %s and %s", u1[0], u2[0])
	}

	var tally model.TallyPayload
	json.Unmarshal(parse(t, u1[0]).Data, &tally)
	if tally.Total != 1 || tally.Votes[1] != 1 {
		t.Errorf("Expected [0,1] total 1, got %v total %d", tally.Votes, tally.Total)
	}
}

func TestGateway_JoinSendsSnapshot(t *testing.T) {
	gw, _ := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()
	pollID := postPoll(t, gw, presenter)

	send(t, gw, s1, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 0})
	if ack := lastAck(t, s1); !ack.OK {
		t.Fatalf("Expected vote without joining to be accepted, got %+v", ack)
	}

	send(t, gw, s1, ActionJoin, "j1", map[string]any{"pollId": pollID})
	frames := drain(s1)
	if len(frames) != 2 {
		t.Fatalf("Expected snapshot and ack, got %d frames", len(frames))
	}

	snapFrame := parse(t, frames[0])
	if snapFrame.Type != model.EventPollSnapshot || snapFrame.ID != "j1" {
		t.Fatalf("Expected poll:snapshot for j1 first, got %s/%s", snapFrame.Type, snapFrame.ID)
	}
	var snap model.SnapshotPayload
	json.Unmarshal(snapFrame.Data, &snap)
	if !snap.HasVoted || snap.Poll.Total != 1 || snap.Poll.State != model.StateActive {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if snap.Choice == nil || *snap.Choice != 0 {
		t.Errorf("Expected snapshot to carry choice 0, got %v", snap.Choice)
	}
	if ackFrame := parse(t, frames[1]); ackFrame.Type != model.EventAck || ackFrame.ID != "j1" {
		t.Errorf("Expected ack for j1, got %s/%s", ackFrame.Type, ackFrame.ID)
	}
}

func TestGateway_Acks(t *testing.T) {
	gw, _ := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()
	pollID := postPoll(t, gw, presenter)

	testCases := []struct {
		name     string
		action   string
		data     any
		wantCode string
		wantMsg  string
	}{
		{"unknown action", "student:dance", nil, "InvalidInput", ""},
		{"missing option", ActionSubmit, map[string]any{"pollId": pollID}, "InvalidInput", ""},
		{"missing poll id", ActionJoin, map[string]any{}, "InvalidInput", ""},
		{"unknown poll", ActionSubmit, map[string]any{"pollId": "nope", "optionIndex": 0}, "NotFound", "Poll not found"},
		{"bad option", ActionSubmit, map[string]any{"pollId": pollID, "optionIndex": 7}, "InvalidOption", "Invalid option"},
		{"first vote", ActionSubmit, map[string]any{"pollId": pollID, "optionIndex": 0}, "", ""},
		{"second vote", ActionSubmit, map[string]any{"pollId": pollID, "optionIndex": 1}, "DuplicateVote", "Already voted"},
		{"post with one option", ActionPostPoll, map[string]any{"question": "Q?", "options": []string{"A"}}, "InvalidInput", ""},
		{"close", ActionClosePoll, map[string]any{"pollId": pollID}, "", ""},
		{"close again", ActionClosePoll, map[string]any{"pollId": pollID}, "PollNotActive", "No active poll"},
		{"vote after close", ActionSubmit, map[string]any{"pollId": pollID, "optionIndex": 0}, "PollNotActive", "No active poll"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			send(t, gw, s1, tc.action, tc.name, tc.data)
			ack := lastAck(t, s1)
			if tc.wantCode == "" {
				if !ack.OK {
					t.Errorf("Expected ok ack, got %+v", ack)
				}
				return
			}
			if ack.OK || ack.Code != tc.wantCode {
				t.Errorf("Expected code %s, got %+v", tc.wantCode, ack)
			}
			if tc.wantMsg != "" && ack.Error != tc.wantMsg {
				t.Errorf("Expected message %q, got %q", tc.wantMsg, ack.Error)
			}
		})
	}
}

func TestGateway_MalformedFrame(t *testing.T) {
	gw, _ := newTestGateway(false)
	s := gw.Connect()

	gw.Dispatch(s, []byte("{not json"))
	ack := lastAck(t, s)
	if ack.OK || ack.Code != "InvalidInput" {
		t.Errorf("Expected InvalidInput ack, got %+v", ack)
	}
}

func TestGateway_StartAndCloseReachRoom(t *testing.T) {
	gw, polls := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()

	created, _ := polls.Create("Q?", []string{"A", "B"})
	send(t, gw, s1, ActionJoin, "j1", map[string]any{"pollId": created.ID})
	drain(s1)

	send(t, gw, presenter, ActionStartPoll, "st", map[string]any{"pollId": created.ID, "timeLimitSeconds": 30})
	if ack := lastAck(t, presenter); !ack.OK {
		t.Fatalf("Expected start ack ok, got %+v", ack)
	}
	if got := len(framesOfType(t, drain(s1), model.EventPollStarted)); got != 1 {
		t.Errorf("Expected member to receive poll:started, got %d", got)
	}

	send(t, gw, presenter, ActionClosePoll, "cl", map[string]any{"pollId": created.ID})
	if got := len(framesOfType(t, drain(s1), model.EventPollEnded)); got != 1 {
		t.Errorf("Expected member to receive poll:ended, got %d", got)
	}
}

func TestGateway_FailedStartLeavesRoom(t *testing.T) {
	gw, polls := newTestGateway(false)
	presenter := gw.Connect()

	created, _ := polls.Create("Q?", []string{"A", "B"})
	polls.Start(created.ID, 30)
	polls.Close(created.ID)

	send(t, gw, presenter, ActionStartPoll, "st", map[string]any{"pollId": created.ID})
	if ack := lastAck(t, presenter); ack.OK || ack.Code != "InvalidInput" {
		t.Fatalf("Expected InvalidInput for a closed poll, got %+v", ack)
	}
	if gw.rooms.IsMember(created.ID, presenter.ID) {
		t.Error("Expected presenter not to stay in the room after a rejected start")
	}

	// a member that was already in the room stays there
	other, _ := polls.Create("Q2?", []string{"A", "B"})
	polls.Start(other.ID, 30)
	polls.Close(other.ID)
	send(t, gw, presenter, ActionJoin, "j1", map[string]any{"pollId": other.ID})
	send(t, gw, presenter, ActionStartPoll, "st2", map[string]any{"pollId": other.ID})
	if ack := lastAck(t, presenter); ack.OK {
		t.Fatalf("Expected start of a closed poll to be rejected, got %+v", ack)
	}
	if !gw.rooms.IsMember(other.ID, presenter.ID) {
		t.Error("Expected an existing member to keep its membership")
	}
}

func TestGateway_LeaveStopsEvents(t *testing.T) {
	gw, _ := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()
	pollID := postPoll(t, gw, presenter)

	send(t, gw, s1, ActionJoin, "j1", map[string]any{"pollId": pollID})
	send(t, gw, s1, ActionLeave, "l1", map[string]any{"pollId": pollID})
	drain(s1)

	send(t, gw, presenter, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 0})
	if got := framesOfType(t, drain(s1), model.EventVoteUpdated); len(got) != 0 {
		t.Errorf("Expected no events after leave, got %d", len(got))
	}
}

func TestGateway_LegacyMode(t *testing.T) {
	gw, _ := newTestGateway(true)
	early := gw.Connect()
	presenter := gw.Connect()

	pollID := postPoll(t, gw, presenter)
	if got := len(framesOfType(t, drain(early), model.EventPollStarted)); got != 1 {
		t.Errorf("Expected connected session to be joined to the posted poll, got %d poll:started", got)
	}

	late := gw.Connect()
	frames := drain(late)
	if len(frames) != 1 || parse(t, frames[0]).Type != model.EventPollSnapshot {
		t.Fatalf("Expected late session to receive a snapshot on connect, got %d frames", len(frames))
	}

	send(t, gw, late, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 1})
	if got := len(framesOfType(t, drain(early), model.EventVoteUpdated)); got != 1 {
		t.Errorf("Expected early session to see the late vote, got %d", got)
	}
}

func TestGateway_LegacyStragglersJoined(t *testing.T) {
	gw, _ := newTestGateway(true)
	presenter := gw.Connect()
	pollID := postPoll(t, gw, presenter)

	// registered between the room fill and the poll becoming current
	late := newSession("late", 16)
	gw.hub.register(late)
	gw.joinStragglers(pollID)

	if !gw.rooms.IsMember(pollID, late.ID) {
		t.Fatal("Expected late session to be joined")
	}
	frames := drain(late)
	if len(frames) != 1 || parse(t, frames[0]).Type != model.EventPollSnapshot {
		t.Fatalf("Expected one snapshot for the late session, got %d frames", len(frames))
	}
	if got := drain(presenter); len(got) != 0 {
		t.Errorf("Expected existing members to get nothing, got %d frames", len(got))
	}

	send(t, gw, presenter, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 0})
	if got := len(framesOfType(t, drain(late), model.EventVoteUpdated)); got != 1 {
		t.Errorf("Expected late session to see votes, got %d", got)
	}
}

func TestGateway_Disconnect(t *testing.T) {
	gw, _ := newTestGateway(false)
	presenter := gw.Connect()
	s1 := gw.Connect()
	pollID := postPoll(t, gw, presenter)
	send(t, gw, s1, ActionJoin, "j1", map[string]any{"pollId": pollID})
	send(t, gw, s1, ActionSubmit, "v1", map[string]any{"pollId": pollID, "optionIndex": 0})
	drain(s1)

	gw.Disconnect(s1)

	select {
	case <-s1.Done():
	default:
		t.Error("Expected Done to be closed after disconnect")
	}
	if gw.SessionCount() != 1 {
		t.Errorf("Expected 1 session left, got %d", gw.SessionCount())
	}
	if gw.rooms.IsMember(pollID, s1.ID) {
		t.Error("Expected disconnected session to leave its rooms")
	}

	// the vote survives the disconnect
	poll, _ := gw.polls.Get(pollID)
	if poll.Total != 1 {
		t.Errorf("Expected recorded vote to remain, got total %d", poll.Total)
	}
}

func TestHub_FullOutboxDrops(t *testing.T) {
	repo := repository.NewPollRepository()
	rooms := room.NewRegistry(repo)
	hub := NewHub(rooms, 1)
	id, _ := repo.Create("Q?", []string{"A", "B"})

	slow := newSession("slow", 1)
	hub.register(slow)
	rooms.Join(id, slow.ID, "")

	event := model.Event{Type: model.EventVoteUpdated, PollID: id, Data: model.TallyPayload{PollID: id}}
	if res := hub.Publish(event); res.SentTo != 1 {
		t.Errorf("Expected first event delivered, got %+v", res)
	}
	res := hub.Publish(event)
	if res.SentTo != 0 || len(res.Dropped) != 1 {
		t.Errorf("Expected second event dropped, got %+v", res)
	}
	if slow.Dropped() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", slow.Dropped())
	}
}
