package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/pantheon/internal/colony"
	"github.com/talgya/pantheon/internal/config"
	"github.com/talgya/pantheon/internal/engine"
	"github.com/talgya/pantheon/internal/entropy"
	"github.com/talgya/pantheon/internal/gods"
	"github.com/talgya/pantheon/internal/pantheon"
)

const testKey = "s3cret"

type fakeJournal struct {
	rows  []pantheon.Dispatch
	limit int
}

func (f *fakeJournal) RecentDispatches(_ context.Context, limit int) ([]pantheon.Dispatch, error) {
	f.limit = limit
	return f.rows, nil
}

func (f *fakeJournal) EntryHistory(_ context.Context, id string) ([]pantheon.Dispatch, error) {
	var out []pantheon.Dispatch
	for _, r := range f.rows {
		if r.EntryID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	col := colony.New(42, 3, entropy.NewSeeded(1))
	reg := gods.NewRegistry()
	tuning := config.DefaultTuning()
	drv := pantheon.New(pantheon.Config{
		Host:     col,
		Gods:     reg,
		Congrats: colony.CongratsPool(col),
		Wraths:   colony.WrathPool(col),
		Rand:     entropy.NewSeeded(1),
		Tuning:   tuning,
	})
	colony.RegisterGods(reg, col, drv)
	drv.Start(context.Background())
	drv.Step(context.Background(), 100)

	s := &Server{
		Driver:   drv,
		Gods:     reg,
		Eng:      engine.NewEngine(tuning.Calendar),
		Colony:   col,
		Journal:  &fakeJournal{rows: []pantheon.Dispatch{{Tick: 5, EntryID: "abc", Kind: "callGod", Subject: "ares favor", Outcome: pantheon.OutcomeDispatched}}},
		AdminKey: testKey,
	}
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/v1/status", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
	assert.EqualValues(t, 42, body["seed"])
	assert.EqualValues(t, 100, body["tick"])
	assert.EqualValues(t, 4, body["gods"])
	assert.Contains(t, body["sim_time"], "Spring Day 1")
}

func TestSubmitOfferingRequiresToken(t *testing.T) {
	s, h := newTestServer(t)
	line := `{"line": "Ada favor ares 10 5"}`

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/api/v1/offerings", line, false).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/offerings", line, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "callGod", entry["kind"])
	assert.Equal(t, "ares favor", entry["subject"])
	assert.EqualValues(t, 101, entry["due"])

	rec = do(t, h, http.MethodGet, "/api/v1/schedule", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, entry["id"], pending[0]["id"])

	rec = do(t, h, http.MethodPost, "/api/v1/offerings", `{"line": "Ada favor ares 1 5"}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/v1/offerings", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/offerings", line, true).Code)
}

func TestToggleGod(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/gods/zeus/disable", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.Gods.Enabled("zeus"))

	rec = do(t, h, http.MethodGet, "/api/v1/gods", "", false)
	var list []struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 4)
	assert.Equal(t, "zeus", list[3].Name)
	assert.False(t, list[3].Enabled)

	rec = do(t, h, http.MethodPost, "/api/v1/gods/zeus/enable", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, s.Gods.Enabled("zeus"))

	rec = do(t, h, http.MethodPost, "/api/v1/gods/zeuss/enable", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `did you mean "zeus"`)

	rec = do(t, h, http.MethodPost, "/api/v1/gods/zeus/smite", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpendFavor(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/gods/demeter/spend", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, s.Driver.AddCounter("demeter", 1))
	rec = do(t, h, http.MethodPost, "/api/v1/gods/demeter/spend", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.Colony.Living(), 4)
}

func TestFavorEarnedFromOfferingCanBeSpent(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(t, h, http.MethodPost, "/api/v1/offerings", `{"line": "Ada favor demeter 10 5"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	fine := s.Driver.Status().Tick + config.DefaultTuning().Calendar.FinePhase()
	s.Driver.Step(context.Background(), fine)
	assert.Equal(t, 1, s.Driver.Status().Counters["demeter"])
	assert.Len(t, s.Colony.Living(), 4)

	rec = do(t, h, http.MethodPost, "/api/v1/gods/demeter/spend", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, s.Colony.Living(), 5)
	assert.Zero(t, s.Driver.Status().Counters["demeter"])
}

func TestAltarAndSpeed(t *testing.T) {
	s, h := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/altar", `{"level": 2}`, true).Code)
	assert.Equal(t, 2, s.Driver.Status().AltarState)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/altar", `{"level": -1}`, true).Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed": 4}`, true).Code)
	assert.Equal(t, 4.0, s.Eng.Speed())
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/speed", `{"speed": 5000}`, true).Code)
}

func TestDispatches(t *testing.T) {
	s, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/v1/dispatches?limit=9999", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxDispatchLimit, s.Journal.(*fakeJournal).limit)
	var rows []pantheon.Dispatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, pantheon.OutcomeDispatched, rows[0].Outcome)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/dispatches?limit=x", "", false).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/dispatches/abc", "", false).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/dispatches/nope", "", false).Code)

	s.Journal = nil
	h = s.Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/dispatches", "", false).Code)
}

func TestLetters(t *testing.T) {
	s, h := newTestServer(t)
	s.Colony.Notify("Hello", "world")
	rec := do(t, h, http.MethodGet, "/api/v1/letters", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var letters []colony.Letter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &letters))
	require.Len(t, letters, 1)
	assert.Equal(t, "Hello", letters[0].Title)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
	assert.Equal(t, 61, rl.RetryAfter("1.2.3.4"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("1.2.3.4"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	assert.Equal(t, "9.9.9.9", clientIP(r))
}
