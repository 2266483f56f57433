package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vango-go/village-live/pkg/core"
	"github.com/vango-go/village-live/pkg/live/protocol"
	"github.com/vango-go/village-live/pkg/village"
)

type startCallRequest struct {
	ElderID string `json:"elder_id"`
}

// injectResponse reports how many dashboards received an injected event.
type injectResponse struct {
	Type      string `json:"type"`
	Delivered int    `json:"delivered"`
}

func decodeBody(c echo.Context, dst any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(dst); err != nil {
		return core.NewInvalidRequestError("invalid JSON body")
	}
	return nil
}

func parseLimit(c echo.Context) (int, error) {
	raw := strings.TrimSpace(c.QueryParam("limit"))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, core.NewInvalidRequestErrorWithParam("limit must be a non-negative integer", "limit")
	}
	return n, nil
}

func notFound(err error, message string) error {
	if errors.Is(err, ErrNotFound) {
		return core.NewNotFoundError(message)
	}
	return err
}

func (s *Server) startCall(c echo.Context) error {
	var req startCallRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	elderID := strings.TrimSpace(req.ElderID)
	if elderID == "" {
		return core.NewInvalidRequestErrorWithParam("elder_id is required", "elder_id")
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetElder(ctx, elderID); err != nil {
		return notFound(err, "Elder not found: "+elderID)
	}

	call := village.CallSession{
		ID:             s.newID(),
		ElderID:        elderID,
		Type:           village.CallElderCheckin,
		StartedAt:      village.NewTimestamp(s.now().UTC()),
		Status:         village.CallInProgress,
		Transcript:     []village.TranscriptLine{},
		Concerns:       []village.Concern{},
		ProfileUpdates: []village.ProfileFact{},
		VillageActions: []village.VillageAction{},
	}
	if err := s.store.PutCall(ctx, call); err != nil {
		return err
	}
	s.logger.Info("call started", "call_id", call.ID, "elder_id", elderID)
	s.hub.Broadcast(protocol.CallStarted{CallID: call.ID, ElderID: elderID})
	return c.JSON(http.StatusOK, call)
}

func (s *Server) endCall(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	s.recordMu.Lock()
	call, err := s.store.GetCall(ctx, id)
	if err != nil {
		s.recordMu.Unlock()
		return notFound(err, "Call not found: "+id)
	}
	if call.Status.Terminal() {
		s.recordMu.Unlock()
		return core.NewConflictError("call already ended")
	}
	endCall(&call, village.CallCompleted, s.now())
	err = s.store.PutCall(ctx, call)
	s.recordMu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("call ended", "call_id", id, "duration_seconds", *call.DurationSeconds)
	s.hub.BroadcastToCall(id, protocol.CallEnded{CallID: id, Summary: call.Summary})
	return c.JSON(http.StatusOK, call)
}

func (s *Server) getCall(c echo.Context) error {
	id := c.Param("id")
	call, err := s.store.GetCall(c.Request().Context(), id)
	if err != nil {
		return notFound(err, "Call not found: "+id)
	}
	return c.JSON(http.StatusOK, call)
}

func (s *Server) listCalls(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	calls, err := s.store.ListCalls(c.Request().Context(), CallFilter{
		ElderID: strings.TrimSpace(c.QueryParam("elder_id")),
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, calls)
}

func (s *Server) getElder(c echo.Context) error {
	id := c.Param("id")
	elder, err := s.store.GetElder(c.Request().Context(), id)
	if err != nil {
		return notFound(err, "Elder not found: "+id)
	}
	return c.JSON(http.StatusOK, elder)
}

func (s *Server) elderHistory(c echo.Context) error {
	id := c.Param("id")
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.store.GetElder(ctx, id); err != nil {
		return notFound(err, "Elder not found: "+id)
	}
	calls, err := s.store.ListCalls(ctx, CallFilter{ElderID: id, Limit: limit})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, calls)
}

// triggerAction records a village action and announces it to the call's
// dashboards as village_action_started.
func (s *Server) triggerAction(c echo.Context) error {
	var action village.VillageAction
	if err := decodeBody(c, &action); err != nil {
		return err
	}
	callID := strings.TrimSpace(action.CallSessionID)
	if callID == "" {
		return core.NewInvalidRequestErrorWithParam("call_session_id is required", "call_session_id")
	}
	if strings.TrimSpace(action.Recipient.Name) == "" {
		return core.NewInvalidRequestErrorWithParam("recipient.name is required", "recipient.name")
	}
	if action.ID == "" {
		action.ID = s.newID()
	}
	if action.Status == "" {
		action.Status = village.ActionPending
	}
	if action.InitiatedAt.IsZero() {
		action.InitiatedAt = village.NewTimestamp(s.now().UTC())
	}

	ctx := c.Request().Context()
	s.recordMu.Lock()
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		s.recordMu.Unlock()
		return notFound(err, "Call not found: "+callID)
	}
	call.VillageActions = upsertAction(call.VillageActions, action)
	err = s.store.PutAction(ctx, action)
	if err == nil {
		err = s.store.PutCall(ctx, call)
	}
	s.recordMu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("village action triggered",
		"call_id", callID,
		"action_id", action.ID,
		"recipient", action.Recipient.Name)
	s.hub.BroadcastToCall(callID, protocol.VillageActionStarted{Action: action})
	return c.JSON(http.StatusOK, action)
}

func (s *Server) listActions(c echo.Context) error {
	actions, err := s.store.ListActions(c.Request().Context(), ActionFilter{
		CallID: strings.TrimSpace(c.QueryParam("call_id")),
		Status: village.ActionStatus(strings.TrimSpace(c.QueryParam("status"))),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, actions)
}

// injectEvent takes one server frame, folds it into the stored record and
// forwards it to the call's dashboards. Unknown tags are forwarded as-is.
func (s *Server) injectEvent(c echo.Context) error {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return core.NewInvalidRequestError("request body too large")
	}
	ev, err := protocol.DecodeServerMessage(body)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return &core.Error{Type: core.ErrInvalidRequest, Message: de.Message, Param: de.Param, Code: de.Code}
		}
		return core.NewInvalidRequestError(err.Error())
	}

	if err := s.record(c, id, ev); err != nil {
		return err
	}
	delivered := s.hub.BroadcastToCall(id, ev)
	s.logger.Debug("event injected", "call_id", id, "event_type", ev.EventType(), "delivered", delivered)
	return c.JSON(http.StatusAccepted, injectResponse{Type: ev.EventType(), Delivered: delivered})
}

func (s *Server) record(c echo.Context, callID string, ev protocol.Event) error {
	ctx := c.Request().Context()
	now := s.now()

	s.recordMu.Lock()
	defer s.recordMu.Unlock()

	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return notFound(err, "Call not found: "+callID)
	}

	switch e := ev.(type) {
	case protocol.VillageActionStarted:
		a := e.Action
		if a.CallSessionID == "" {
			a.CallSessionID = callID
		}
		if err := s.store.PutAction(ctx, a); err != nil {
			return err
		}
		call.VillageActions = upsertAction(call.VillageActions, a)
	case protocol.VillageActionUpdate:
		a, err := s.store.GetAction(ctx, e.ID)
		if errors.Is(err, ErrNotFound) {
			// Forwarded anyway; dashboards drop updates for actions they never saw.
			return nil
		}
		if err != nil {
			return err
		}
		a.Status = e.Status
		if e.Response != nil {
			a.Response = *e.Response
		}
		switch e.Status {
		case village.ActionCompleted, village.ActionFailed, village.ActionNoAnswer:
			done := village.NewTimestamp(now.UTC())
			a.CompletedAt = &done
		}
		if err := s.store.PutAction(ctx, a); err != nil {
			return err
		}
		call.VillageActions = upsertAction(call.VillageActions, a)
	default:
		if !recordEvent(&call, ev, now) {
			return nil
		}
	}
	return s.store.PutCall(ctx, call)
}
