package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/matchclock"
	"github.com/KeeprDigital/stream-keepr/go/internal/models"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// ErrUnknownMatch is returned for operations on a match the store does not hold.
var ErrUnknownMatch = errors.New("unknown match")

// MatchStore keeps the "matches" topic for a control surface: the synced state plus an editable
// copy, with optimistic add, remove, save and clock control.
type MatchStore struct {
	client     *Client
	time       *TimeSync
	consumerID string

	mu       sync.RWMutex
	state    models.MatchDataList
	formData models.MatchDataList
	loaded   bool
	onChange []func(models.MatchDataList)
}

// NewMatchStore creates a store on c. ts may be nil, in which case clock transitions use the
// client's local clock.
func NewMatchStore(c *Client, ts *TimeSync) *MatchStore {
	return &MatchStore{
		client:     c,
		time:       ts,
		consumerID: "matchstore-" + uuid.NewString(),
	}
}

// Start subscribes to the matches topic.
func (s *MatchStore) Start() error {
	return s.client.Subscribe(topics.TopicMatches, s.consumerID, s.handleUpdate)
}

// Stop discards the store's in-flight operations without rollback and unsubscribes from the
// matches topic.
func (s *MatchStore) Stop() error {
	s.client.CancelPendingOperations(s.consumerID)
	return s.client.Unsubscribe(topics.TopicMatches, s.consumerID)
}

// OnChange registers fn to receive the state after every change.
func (s *MatchStore) OnChange(fn func(models.MatchDataList)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Loaded reports whether the initial state has arrived.
func (s *MatchStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// State returns a copy of the synced matches.
func (s *MatchStore) State() models.MatchDataList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMatches(s.state)
}

// FormData returns a copy of the editable matches.
func (s *MatchStore) FormData() models.MatchDataList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMatches(s.formData)
}

// Match returns the synced match with the given id.
func (s *MatchStore) Match(id string) (models.MatchData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.state.IndexOf(id)
	if i < 0 {
		return models.MatchData{}, false
	}
	return cloneMatches(s.state[i : i+1])[0], true
}

// UpdateMatch edits the form copy of a match. Nothing is sent until SaveMatch.
func (s *MatchStore) UpdateMatch(id string, edit func(*models.MatchData)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.formData.IndexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, id)
	}
	edit(&s.formData[i])
	return nil
}

// IsDirty reports whether the form copy of a match differs from the synced one.
func (s *MatchStore) IsDirty(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, j := s.state.IndexOf(id), s.formData.IndexOf(id)
	if i < 0 || j < 0 {
		return i != j
	}
	return !matchesEqual(s.state[i], s.formData[j])
}

// AddMatch appends a placeholder match and renames it to the identity the gateway assigns.
func (s *MatchStore) AddMatch(ctx context.Context) (models.MatchData, error) {
	tempID := "temp-" + uuid.NewString()

	var added models.MatchData
	_, err := OptimisticEmit(ctx, s.client, topics.TopicMatches, topics.MatchesAction{Action: topics.ActionAdd}, Options[models.MatchDataList, string]{
		ConsumerID:   s.consumerID,
		InitialState: s.State(),
		Action: func(models.MatchDataList) string {
			s.mutate(func(state, form *models.MatchDataList) {
				placeholder := models.NewMatch(tempID, fmt.Sprintf("Match %d", len(*state)+1))
				*state = append(*state, placeholder)
				*form = append(*form, placeholder)
			})
			return tempID
		},
		OnSuccess: func(ack protocol.Ack, tempID string) {
			var (
				id    string
				name  string
				clock *models.MatchClock
			)
			if err := errors.Join(
				ack.ExtraInto("matchId", &id),
				ack.ExtraInto("matchName", &name),
				ack.ExtraInto("clock", &clock),
			); err != nil {
				log.Warn().Err(err).Msg("invalid add match acknowledgement")
			}
			s.mutate(func(state, form *models.MatchDataList) {
				for _, list := range []*models.MatchDataList{state, form} {
					if i := list.IndexOf(tempID); i >= 0 {
						(*list)[i].ID = id
						(*list)[i].Name = name
						(*list)[i].Clock = clock
						added = (*list)[i]
					}
				}
			})
		},
		Rollback: func(snapshot models.MatchDataList, _ string) {
			s.restore(snapshot)
		},
	})
	return added, err
}

// RemoveMatch removes a match locally and on the gateway.
func (s *MatchStore) RemoveMatch(ctx context.Context, id string) error {
	_, err := OptimisticEmit(ctx, s.client, topics.TopicMatches, topics.MatchesAction{Action: topics.ActionRemove, ID: id}, Options[models.MatchDataList, struct{}]{
		ConsumerID:   s.consumerID,
		InitialState: s.State(),
		Action: func(models.MatchDataList) struct{} {
			s.mutate(func(state, form *models.MatchDataList) {
				*state = removeMatch(*state, id)
				*form = removeMatch(*form, id)
			})
			return struct{}{}
		},
		Rollback: func(snapshot models.MatchDataList, _ struct{}) {
			s.restore(snapshot)
		},
	})
	return err
}

// SaveMatch sends the form copy of a match.
func (s *MatchStore) SaveMatch(ctx context.Context, id string) error {
	s.mu.RLock()
	i := s.formData.IndexOf(id)
	var match models.MatchData
	if i >= 0 {
		match = cloneMatches(s.formData[i : i+1])[0]
	}
	s.mu.RUnlock()
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, id)
	}

	_, err := OptimisticEmit(ctx, s.client, topics.TopicMatches, topics.MatchesAction{Action: topics.ActionSet, ID: id, Match: &match}, Options[models.MatchDataList, struct{}]{
		ConsumerID:   s.consumerID,
		InitialState: s.State(),
		Action: func(models.MatchDataList) struct{} {
			s.mutate(func(state, _ *models.MatchDataList) {
				if j := state.IndexOf(id); j >= 0 {
					(*state)[j] = match
				}
			})
			return struct{}{}
		},
		Rollback: func(snapshot models.MatchDataList, _ struct{}) {
			s.mu.Lock()
			s.state = snapshot
			s.mu.Unlock()
			s.changed()
		},
	})
	return err
}

// ControlClock applies a clock transition locally at synced time and sends it. Once
// acknowledged, the transition is replayed at the gateway's timestamp.
func (s *MatchStore) ControlClock(ctx context.Context, id string, cmd matchclock.Command) error {
	if err := cmd.Valid(); err != nil {
		return &topics.ValidationError{Topic: topics.TopicMatches, Action: topics.ActionClock, Field: "clockAction", Reason: err.Error()}
	}

	match, ok := s.Match(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, id)
	}
	if match.Clock == nil {
		return topics.ErrMatchNoClock
	}
	before := *match.Clock

	action := topics.MatchesAction{
		Action:      topics.ActionClock,
		ID:          id,
		ClockAction: cmd.Action,
		Value:       cmd.Value,
		Mode:        cmd.Mode,
	}
	_, err := OptimisticEmit(ctx, s.client, topics.TopicMatches, action, Options[models.MatchDataList, struct{}]{
		ConsumerID:   s.consumerID,
		InitialState: s.State(),
		Action: func(models.MatchDataList) struct{} {
			s.applyClock(id, before, cmd, s.now())
			return struct{}{}
		},
		OnSuccess: func(ack protocol.Ack, _ struct{}) {
			if ack.Timestamp > 0 {
				s.applyClock(id, before, cmd, ack.Timestamp)
			}
		},
		Rollback: func(snapshot models.MatchDataList, _ struct{}) {
			s.restore(snapshot)
		},
	})
	return err
}

func (s *MatchStore) applyClock(id string, before models.MatchClock, cmd matchclock.Command, now int64) {
	clock := before
	if err := matchclock.Apply(&clock, cmd, now); err != nil {
		log.Warn().Err(err).Str("match_id", id).Msg("clock transition rejected locally")
		return
	}
	s.mutate(func(state, form *models.MatchDataList) {
		for _, list := range []*models.MatchDataList{state, form} {
			if i := list.IndexOf(id); i >= 0 {
				c := clock
				(*list)[i].Clock = &c
			}
		}
	})
}

func (s *MatchStore) now() int64 {
	if s.time != nil {
		return s.time.Now()
	}
	return s.client.clock.Now().UnixMilli()
}

func (s *MatchStore) handleUpdate(u Update) {
	var matches models.MatchDataList
	if err := u.Decode(&matches); err != nil {
		log.Warn().Err(err).Msg("invalid matches state")
		return
	}
	if matches == nil {
		matches = models.MatchDataList{}
	}

	s.mu.Lock()
	s.state = matches
	s.formData = cloneMatches(matches)
	s.loaded = true
	s.mu.Unlock()
	s.changed()
}

// restore resets both copies to the snapshot.
func (s *MatchStore) restore(snapshot models.MatchDataList) {
	s.mu.Lock()
	s.state = snapshot
	s.formData = cloneMatches(snapshot)
	s.mu.Unlock()
	s.changed()
}

func (s *MatchStore) mutate(fn func(state, form *models.MatchDataList)) {
	s.mu.Lock()
	fn(&s.state, &s.formData)
	s.mu.Unlock()
	s.changed()
}

func (s *MatchStore) changed() {
	s.mu.RLock()
	state := cloneMatches(s.state)
	listeners := append([]func(models.MatchDataList){}, s.onChange...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func removeMatch(list models.MatchDataList, id string) models.MatchDataList {
	i := list.IndexOf(id)
	if i < 0 {
		return list
	}
	return append(list[:i:i], list[i+1:]...)
}

func cloneMatches(list models.MatchDataList) models.MatchDataList {
	if list == nil {
		return nil
	}
	out, err := deepCopy(list)
	if err != nil {
		return append(models.MatchDataList{}, list...)
	}
	return out
}

func matchesEqual(a, b models.MatchData) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
