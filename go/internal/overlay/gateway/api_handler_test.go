package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/KeeprDigital/stream-keepr/go/internal/models"
	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
)

func (g *testGateway) post(t *testing.T, path, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Post(g.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	assert.Equal(t, json.NewDecoder(resp.Body).Decode(&out), nil)
	return resp, out
}

func (g *testGateway) get(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(g.server.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	assert.Equal(t, json.NewDecoder(resp.Body).Decode(v), nil)
	return resp
}

func TestAPIActionSyncsEverySubscriber(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	b.subscribe("card")

	resp, body := g.post(t, "/api/card/set", `{"card":`+testCard+`}`)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, string(body["success"]), "true")

	var data models.CardData
	assert.Equal(t, json.Unmarshal(body["data"], &data), nil)
	assert.Equal(t, data.Name, "Ragavan")

	for _, cl := range []*testClient{a, b} {
		assert.Equal(t, decodeCard(t, cl.expect(protocol.TypeSync)).Name, "Ragavan")
	}
}

func TestAPIGetCardProjection(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	var slots models.CardImageSlots
	resp := g.get(t, "/api/card/data", &slots)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, slots, models.CardImageSlots{})

	g.post(t, "/api/card/set", `{"card":`+testCard+`}`)
	g.post(t, "/api/card/rotate", `{}`)

	g.get(t, "/api/card/data", &slots)
	assert.Equal(t, slots.RotatedImage, "r.png")
	assert.Equal(t, slots.VerticalImage, "")
}

func TestAPIMatchesByIndex(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	var match *models.MatchData
	resp := g.get(t, "/api/matches/0/data", &match)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, match, (*models.MatchData)(nil))

	resp, _ = g.post(t, "/api/matches/add", ``)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	g.post(t, "/api/matches/add", `{}`)

	g.get(t, "/api/matches/1/data", &match)
	assert.Equal(t, match.Name, "Match 2")
	assert.Equal(t, match.PlayerOne.Position, "0-0")

	resp, _ = g.post(t, "/api/matches/remove", `{"index":0}`)
	assert.Equal(t, resp.StatusCode, http.StatusOK)

	var matches models.MatchDataList
	g.get(t, "/api/matches/data", &matches)
	assert.Equal(t, len(matches), 1)
	assert.Equal(t, matches[0].Name, "Match 2")
}

func TestAPIErrors(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	resp, body := g.post(t, "/api/weather/set", `{}`)
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
	assert.Equal(t, string(body["code"]), `"InvalidTopic"`)
	assert.Equal(t, string(body["success"]), "false")

	resp, body = g.post(t, "/api/card/bogus", `{}`)
	assert.Equal(t, resp.StatusCode, http.StatusBadRequest)
	assert.Equal(t, string(body["code"]), `"InvalidAction"`)

	resp, body = g.post(t, "/api/matches/clock", `{"id":"missing","clockAction":"start"}`)
	assert.Equal(t, resp.StatusCode, http.StatusInternalServerError)
	assert.Equal(t, string(body["error"]), `"Match not found"`)
}

func TestConnectionStats(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	a, b := g.dial(t), g.dial(t)
	a.subscribe("card")
	a.subscribe("matches")
	b.subscribe("card")

	var stats ConnectionStats
	resp := g.get(t, "/ws/stats", &stats)
	assert.Equal(t, resp.StatusCode, http.StatusOK)
	assert.Equal(t, stats.TotalConnections, 2)
	assert.Equal(t, stats.Topics, map[string]int{"card": 2, "matches": 1})

	for _, c := range stats.Clients {
		if c.ID == a.id {
			assert.Equal(t, c.Topics, []string{"card", "matches"})
		} else {
			assert.Equal(t, c.Topics, []string{"card"})
		}
	}

	var info ServiceInfo
	g.get(t, "/info", &info)
	assert.Equal(t, info.Connections, 2)
	assert.Equal(t, info.Topics, 2)
	assert.Equal(t, info.Version, Version)
}

func TestHealth(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	resp, err := http.Get(g.server.URL + "/health")
	assert.Equal(t, err, nil)
	defer resp.Body.Close()
	assert.Equal(t, resp.StatusCode, http.StatusOK)
}
