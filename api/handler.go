package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"bsid.es/diana"
	"bsid.es/diana/ical"
	"bsid.es/diana/pkg/logger"
)

// alarmEngine is the part of engine.Engine the handlers drive.
type alarmEngine interface {
	Create(ctx context.Context, label string, tod diana.TimeOfDay) (*diana.Alarm, error)
	Toggle(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error)
	Edit(ctx context.Context, id diana.AlarmID, edit diana.AlarmEdit) (*diana.Alarm, error)
	Delete(ctx context.Context, id diana.AlarmID) error
	List(ctx context.Context) ([]*diana.Alarm, error)
	Find(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error)
	NextTrigger(a *diana.Alarm) time.Time
}

// Interactor delivers user interactions with a notification, as if the user
// had tapped it.
type Interactor interface {
	Interact(h diana.Handle) error
}

// Handler serves the alarm HTTP API.
type Handler struct {
	engine     alarmEngine
	clock      diana.Clock
	interactor Interactor
	validator  *validator.Validate
	log        *logger.Logger
}

// NewHandler returns a Handler. interactor may be nil, in which case
// interactions are rejected.
func NewHandler(e alarmEngine, clock diana.Clock, interactor Interactor, v *validator.Validate, log *logger.Logger) *Handler {
	return &Handler{
		engine:     e,
		clock:      clock,
		interactor: interactor,
		validator:  v,
		log:        log.With("component", "api"),
	}
}

// CreateRequest is the body of POST /alarms.
type CreateRequest struct {
	Label string `json:"label" validate:"max=64"`
	Time  string `json:"time"  validate:"required"`
}

// EditRequest is the body of PATCH /alarms/{id}. Absent fields are left
// untouched.
type EditRequest struct {
	Label *string `json:"label" validate:"omitempty,max=64"`
	Time  *string `json:"time"  validate:"omitempty,min=1"`
}

type alarmResponse struct {
	*diana.Alarm
	NextTrigger *time.Time `json:"next_trigger,omitempty"`
}

func (h *Handler) response(a *diana.Alarm) alarmResponse {
	resp := alarmResponse{Alarm: a}
	if a.Enabled {
		next := h.engine.NextTrigger(a)
		resp.NextTrigger = &next
	}
	return resp
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.engine.List(r.Context())
	if err != nil {
		fail(w, h.log, err)
		return
	}

	resp := make([]alarmResponse, 0, len(alarms))
	for _, a := range alarms {
		resp = append(resp, h.response(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := h.decode(r, &req); err != nil {
		fail(w, h.log, err)
		return
	}
	tod, err := diana.ParseTimeOfDay(req.Time)
	if err != nil {
		fail(w, h.log, err)
		return
	}

	a, err := h.engine.Create(r.Context(), req.Label, tod)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.response(a))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Find(r.Context(), alarmID(r))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(a))
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Toggle(r.Context(), alarmID(r))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(a))
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if err := h.decode(r, &req); err != nil {
		fail(w, h.log, err)
		return
	}

	edit := diana.AlarmEdit{Label: req.Label}
	if req.Time != nil {
		tod, err := diana.ParseTimeOfDay(*req.Time)
		if err != nil {
			fail(w, h.log, err)
			return
		}
		edit.TimeOfDay = &tod
	}

	a, err := h.engine.Edit(r.Context(), alarmID(r), edit)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(a))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), alarmID(r)); err != nil {
		fail(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Interact taps the notification of an enabled alarm.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.Find(r.Context(), alarmID(r))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	switch {
	case h.interactor == nil:
		err = diana.Errorf(diana.ErrInvalid, "interactions are not supported by this scheduler")
	case !a.Enabled:
		err = diana.Errorf(diana.ErrInvalid, "alarm %s is disabled", a.ID)
	default:
		err = h.interactor.Interact(a.Handle)
	}
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.response(a))
}

// Export serves every alarm as an iCalendar stream.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.engine.List(r.Context())
	if err != nil {
		fail(w, h.log, err)
		return
	}

	var buf bytes.Buffer
	if err := ical.Export(&buf, alarms, h.clock.Now()); err != nil {
		fail(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", ical.MediaType)
	w.Header().Set("Content-Disposition", `attachment; filename="alarms.ics"`)
	buf.WriteTo(w)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return diana.Errorf(diana.ErrInvalid, "invalid request body: %v", err)
	}
	if err := h.validator.Struct(v); err != nil {
		return diana.Errorf(diana.ErrInvalid, "validation error: %v", err)
	}
	return nil
}

func alarmID(r *http.Request) diana.AlarmID {
	return diana.AlarmID(chi.URLParam(r, "id"))
}
