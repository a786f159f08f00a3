package client

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/KeeprDigital/stream-keepr/go/internal/matchclock"
	"github.com/KeeprDigital/stream-keepr/go/internal/models"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/store"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

func startMatchStore(t *testing.T, g *testGateway) (*MatchStore, *Client) {
	t.Helper()
	c := connectClient(t, g.url(), nil)
	s := NewMatchStore(c, nil)
	assert.Equal(t, s.Start(), nil)
	eventually(t, s.Loaded)
	return s, c
}

func seedMatches(t *testing.T, matches models.MatchDataList) store.DocumentStore {
	t.Helper()
	docs := store.NewMemoryStore()
	assert.Equal(t, store.SetJSON(context.Background(), docs, string(topics.TopicMatches), matches), nil)
	return docs
}

func TestMatchStore_AddMatchTakesGatewayIdentity(t *testing.T) {
	g := newTestGateway(t, nil)
	producer, _ := startMatchStore(t, g)
	viewer, _ := startMatchStore(t, g)

	added, err := producer.AddMatch(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, strings.HasPrefix(added.ID, "temp-"), false)
	assert.NotEqual(t, added.ID, "")
	assert.Equal(t, added.Name, "Match 1")

	state := producer.State()
	assert.Equal(t, len(state), 1)
	assert.Equal(t, state[0].ID, added.ID)
	assert.Equal(t, producer.FormData()[0].ID, added.ID)

	eventually(t, func() bool {
		m, ok := viewer.Match(added.ID)
		return ok && m.Name == "Match 1"
	})
}

func TestMatchStore_EditAndSave(t *testing.T) {
	docs := seedMatches(t, models.MatchDataList{{ID: "m1", Name: "Match 1", TableNumber: "1"}})
	g := newTestGateway(t, docs)
	producer, _ := startMatchStore(t, g)
	viewer, _ := startMatchStore(t, g)

	assert.Equal(t, producer.IsDirty("m1"), false)
	assert.Equal(t, producer.UpdateMatch("m1", func(m *models.MatchData) {
		m.TableNumber = "7"
		m.PlayerOne.Name = "Alice"
	}), nil)
	assert.Equal(t, producer.IsDirty("m1"), true)

	m, _ := producer.Match("m1")
	assert.Equal(t, m.TableNumber, "1")

	assert.Equal(t, producer.SaveMatch(context.Background(), "m1"), nil)
	assert.Equal(t, producer.IsDirty("m1"), false)

	eventually(t, func() bool {
		m, ok := viewer.Match("m1")
		return ok && m.TableNumber == "7" && m.PlayerOne.Name == "Alice"
	})

	err := producer.UpdateMatch("missing", func(*models.MatchData) {})
	assert.Equal(t, errors.Is(err, ErrUnknownMatch), true)
}

func TestMatchStore_ControlClockUsesGatewayTimestamp(t *testing.T) {
	docs := seedMatches(t, models.MatchDataList{
		{ID: "m1", Name: "Match 1", Clock: models.NewMatchClock(50 * 60 * 1000)},
		{ID: "m2", Name: "Match 2"},
	})
	g := newTestGateway(t, docs)
	producer, _ := startMatchStore(t, g)
	viewer, _ := startMatchStore(t, g)
	ctx := context.Background()

	assert.Equal(t, producer.ControlClock(ctx, "m1", matchclock.Command{Action: matchclock.ActionStart}), nil)

	m, _ := producer.Match("m1")
	assert.Equal(t, m.Clock.Running, true)
	assert.Equal(t, *m.Clock.StartTime, int64(testNow))

	eventually(t, func() bool {
		m, _ := viewer.Match("m1")
		return m.Clock != nil && m.Clock.Running && m.Clock.StartTime != nil && *m.Clock.StartTime == testNow
	})

	err := producer.ControlClock(ctx, "m2", matchclock.Command{Action: matchclock.ActionStart})
	assert.Equal(t, errors.Is(err, topics.ErrMatchNoClock), true)

	err = producer.ControlClock(ctx, "m1", matchclock.Command{Action: matchclock.ActionSet})
	var verr *topics.ValidationError
	assert.Equal(t, errors.As(err, &verr), true)
}

func TestMatchStore_RemoveRollsBackWhenRejected(t *testing.T) {
	docs := seedMatches(t, models.MatchDataList{{ID: "m1", Name: "Match 1"}})
	g := newTestGateway(t, docs)
	s, c := startMatchStore(t, g)

	var changes []int
	s.OnChange(func(l models.MatchDataList) { changes = append(changes, len(l)) })

	assert.Equal(t, c.Unsubscribe(topics.TopicMatches, s.consumerID), nil)
	eventually(t, func() bool { return g.subscribers(t, topics.TopicMatches) == 0 })

	err := s.RemoveMatch(context.Background(), "m1")
	assert.Equal(t, errors.Is(err, protocol.ErrNotSubscribed), true)
	assert.Equal(t, len(s.State()), 1)
	assert.Equal(t, len(s.FormData()), 1)
	assert.Equal(t, changes, []int{0, 1})
}

func TestMatchStore_Remove(t *testing.T) {
	docs := seedMatches(t, models.MatchDataList{{ID: "m1"}, {ID: "m2"}})
	g := newTestGateway(t, docs)
	producer, _ := startMatchStore(t, g)
	viewer, _ := startMatchStore(t, g)

	assert.Equal(t, producer.RemoveMatch(context.Background(), "m1"), nil)
	assert.Equal(t, len(producer.State()), 1)
	assert.Equal(t, producer.State()[0].ID, "m2")

	eventually(t, func() bool {
		_, ok := viewer.Match("m1")
		return !ok && len(viewer.State()) == 1
	})
}
