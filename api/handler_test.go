package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsid.es/diana"
	"bsid.es/diana/api"
	"bsid.es/diana/engine"
	"bsid.es/diana/mem"
	"bsid.es/diana/pkg/logger"
)

var refNow = time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)

type alarmJSON struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Time        string     `json:"time"`
	Enabled     bool       `json:"enabled"`
	Handle      string     `json:"handle"`
	NextTrigger *time.Time `json:"next_trigger"`
}

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newServer(t *testing.T, sched diana.NotificationScheduler) *httptest.Server {
	t.Helper()
	clock := mem.NewClock()
	clock.Wall = func() time.Time { return refNow }

	log := logger.Discard()
	e := engine.New(engine.Config{
		Store:     mem.NewAlarmStore(),
		Scheduler: sched,
		Clock:     clock,
		Log:       log,
		Timeout:   time.Second,
	})
	interactor, _ := sched.(api.Interactor)
	h := api.NewHandler(e, clock, interactor, validator.New(), log)
	srv := httptest.NewServer(api.NewRouter(h, log, cors.Options{AllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func mustCreate(t *testing.T, srv *httptest.Server, body string) alarmJSON {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/alarms", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[alarmJSON](t, resp)
}

func TestCreate(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())

	a := mustCreate(t, srv, `{"label": "Gym", "time": "08:30"}`)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "Gym", a.Label)
	assert.Equal(t, "08:30", a.Time)
	assert.True(t, a.Enabled)
	assert.NotEmpty(t, a.Handle)
	require.NotNil(t, a.NextTrigger)
	assert.True(t, a.NextTrigger.Equal(time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)))

	resp := do(t, srv, http.MethodGet, "/alarms/"+a.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, a, decode[alarmJSON](t, resp))
}

func TestCreateDefaultLabel(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	a := mustCreate(t, srv, `{"time": "06:00"}`)
	assert.Equal(t, diana.DefaultLabel, a.Label)
}

func TestCreateRejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{{
		name:   "malformed json",
		body:   `{"time": `,
		status: http.StatusBadRequest,
		code:   string(diana.ErrInvalid),
	}, {
		name:   "missing time",
		body:   `{"label": "x"}`,
		status: http.StatusBadRequest,
		code:   string(diana.ErrInvalid),
	}, {
		name:   "time out of range",
		body:   `{"time": "24:00"}`,
		status: http.StatusBadRequest,
		code:   string(diana.ErrInvalid),
	}, {
		name:   "unknown field",
		body:   `{"time": "08:00", "repeat": "weekly"}`,
		status: http.StatusBadRequest,
		code:   string(diana.ErrInvalid),
	}, {
		name:   "label too long",
		body:   `{"time": "08:00", "label": "` + strings.Repeat("x", 65) + `"}`,
		status: http.StatusBadRequest,
		code:   string(diana.ErrInvalid),
	}}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, mem.NewScheduler())
			resp := do(t, srv, http.MethodPost, "/alarms", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decode[errorJSON](t, resp).Error)

			resp = do(t, srv, http.MethodGet, "/alarms", "")
			assert.Empty(t, decode[[]alarmJSON](t, resp))
		})
	}
}

func TestPermissionDenied(t *testing.T) {
	sched := mem.NewScheduler()
	sched.Permission = func(context.Context) (bool, error) { return false, nil }
	srv := newServer(t, sched)

	resp := do(t, srv, http.MethodPost, "/alarms", `{"time": "08:00"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, string(diana.ErrPermissionDenied), decode[errorJSON](t, resp).Error)
}

type brokenScheduler struct{}

func (brokenScheduler) RequestPermission(context.Context) (bool, error) {
	return true, nil
}

func (brokenScheduler) ScheduleDaily(context.Context, diana.DailyRequest) (diana.Handle, error) {
	return "", errors.New("platform unavailable")
}

func (brokenScheduler) Cancel(context.Context, diana.Handle) error {
	return errors.New("platform unavailable")
}

func TestSchedulerUnavailable(t *testing.T) {
	srv := newServer(t, brokenScheduler{})

	resp := do(t, srv, http.MethodPost, "/alarms", `{"time": "08:00"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, string(diana.ErrSchedulerUnavailable), decode[errorJSON](t, resp).Error)
}

func TestNotFound(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())

	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/alarms/missing", ""},
		{http.MethodPost, "/alarms/missing/toggle", ""},
		{http.MethodPatch, "/alarms/missing", `{"label": "x"}`},
		{http.MethodDelete, "/alarms/missing", ""},
	} {
		resp := do(t, srv, req.method, req.path, req.body)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", req.method, req.path)
		assert.Equal(t, string(diana.ErrNotFound), decode[errorJSON](t, resp).Error)
	}
}

func TestToggle(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	a := mustCreate(t, srv, `{"time": "08:00"}`)

	resp := do(t, srv, http.MethodPost, "/alarms/"+a.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	off := decode[alarmJSON](t, resp)
	assert.False(t, off.Enabled)
	assert.Empty(t, off.Handle)
	assert.Nil(t, off.NextTrigger)

	resp = do(t, srv, http.MethodPost, "/alarms/"+a.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	on := decode[alarmJSON](t, resp)
	assert.True(t, on.Enabled)
	assert.NotEmpty(t, on.Handle)
	assert.NotEqual(t, a.Handle, on.Handle)
}

func TestEdit(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	a := mustCreate(t, srv, `{"label": "Gym", "time": "08:00"}`)

	resp := do(t, srv, http.MethodPatch, "/alarms/"+a.ID, `{"time": "06:15"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decode[alarmJSON](t, resp)
	assert.Equal(t, "Gym", edited.Label)
	assert.Equal(t, "06:15", edited.Time)
	assert.NotEqual(t, a.Handle, edited.Handle)
	require.NotNil(t, edited.NextTrigger)
	assert.True(t, edited.NextTrigger.Equal(time.Date(2024, 5, 2, 6, 15, 0, 0, time.UTC)))

	resp = do(t, srv, http.MethodPatch, "/alarms/"+a.ID, `{"time": "6pm"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	a := mustCreate(t, srv, `{"time": "08:00"}`)
	b := mustCreate(t, srv, `{"time": "09:00"}`)

	resp := do(t, srv, http.MethodDelete, "/alarms/"+a.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/alarms", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alarms := decode[[]alarmJSON](t, resp)
	require.Len(t, alarms, 1)
	assert.Equal(t, b.ID, alarms[0].ID)
}

func TestListOrder(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	var ids []string
	for _, tod := range []string{"09:00", "06:00", "23:59"} {
		ids = append(ids, mustCreate(t, srv, `{"time": "`+tod+`"}`).ID)
	}

	resp := do(t, srv, http.MethodGet, "/alarms", "")
	var got []string
	for _, a := range decode[[]alarmJSON](t, resp) {
		got = append(got, a.ID)
	}
	assert.Equal(t, ids, got)
}

func TestInteract(t *testing.T) {
	sched := mem.NewScheduler()
	srv := newServer(t, sched)
	a := mustCreate(t, srv, `{"time": "08:00"}`)

	resp := do(t, srv, http.MethodPost, "/alarms/"+a.ID+"/interact", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	select {
	case in := <-sched.Interactions():
		assert.Equal(t, a.Handle, string(in.Handle))
	case <-time.After(2 * time.Second):
		t.Fatal("interaction not delivered")
	}

	resp = do(t, srv, http.MethodPost, "/alarms/"+a.ID+"/toggle", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/alarms/"+a.ID+"/interact", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(diana.ErrInvalid), decode[errorJSON](t, resp).Error)

	resp = do(t, srv, http.MethodPost, "/alarms/missing/interact", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExport(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	a := mustCreate(t, srv, `{"label": "Gym", "time": "08:00"}`)

	resp := do(t, srv, http.MethodGet, "/alarms.ics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
	assert.Contains(t, string(body), "UID:"+a.ID)
	assert.Contains(t, string(body), "RRULE:FREQ=DAILY")
	assert.Contains(t, string(body), "BEGIN:VALARM")
}

func TestHealth(t *testing.T) {
	srv := newServer(t, mem.NewScheduler())
	resp := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
