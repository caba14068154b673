package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/hub"
	"github.com/DoyleJ11/mission-game-backend/internal/room"
	"github.com/DoyleJ11/mission-game-backend/internal/session"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
	"github.com/DoyleJ11/mission-game-backend/internal/types"
)

const (
	HeaderPlayerID = "X-Player-ID"
	maxBodyBytes   = 16 << 10
)

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id"`
	Token    string `json:"token"`
}

// CreateRoom opens a lobby and seats the caller as its host.
func CreateRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if !decode(w, r, &req) {
			return
		}

		rm, err := h.Create(r.Context())
		if err != nil {
			logger.Error("create room", zap.Error(err))
			writeError(w, err)
			return
		}

		resp, err := join(r.Context(), rm, req.Name)
		if err != nil {
			// Nobody can reach an empty room; let it expire.
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// JoinRoom seats a new player and hands back their session token.
func JoinRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if !decode(w, r, &req) {
			return
		}
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}

		resp, err := join(r.Context(), rm, req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func join(ctx context.Context, rm *room.Room, name string) (joinResponse, error) {
	token, digest, err := session.NewToken()
	if err != nil {
		return joinResponse{}, err
	}
	playerID := uuid.NewString()
	err = rm.Do(ctx, engine.Command{
		Type:        engine.CmdJoin,
		PlayerID:    playerID,
		Name:        name,
		TokenDigest: digest,
	})
	if err != nil {
		return joinResponse{}, err
	}
	return joinResponse{Code: rm.Code(), PlayerID: playerID, Token: token}, nil
}

// SubmitAction is the request/response action channel. The response only
// says whether the action was accepted; its effects arrive as deltas.
func SubmitAction(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var action types.Action
		if !decode(w, r, &action) {
			return
		}
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}
		playerID, ok := authenticate(w, r, rm, true)
		if !ok {
			return
		}

		cmd, err := action.Command(playerID)
		if err == nil {
			err = rm.Do(r.Context(), cmd)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ServerMessage{Type: types.MsgAck, ActionID: action.ActionID})
	}
}

// GetState returns the caller's redacted view, or the public one without
// credentials.
func GetState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}
		playerID, ok := authenticate(w, r, rm, false)
		if !ok {
			return
		}
		view, err := rm.ViewFor(r.Context(), playerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// CloseRoom ends the game and deletes the room. Host only.
func CloseRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}
		playerID, ok := authenticate(w, r, rm, true)
		if !ok {
			return
		}
		if err := rm.CloseBy(r.Context(), playerID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*room.Room, bool) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	rm, err := h.Get(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return rm, true
}

// authenticate checks the X-Player-ID header against the bearer token. With
// required unset, a request without a player id is a spectator.
func authenticate(w http.ResponseWriter, r *http.Request, rm *room.Room, required bool) (string, bool) {
	playerID := r.Header.Get(HeaderPlayerID)
	if playerID == "" && !required {
		return "", true
	}
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := rm.Authorize(r.Context(), playerID, token); err != nil {
		if engine.IsValidation(err) {
			err = session.ErrInvalidToken
		}
		writeError(w, err)
		return "", false
	}
	return playerID, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorBody{Code: "bad_json", Message: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), types.ErrorFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, room.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrRoomFull), errors.Is(err, engine.ErrNameTaken), errors.Is(err, engine.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, types.ErrUnknownAction):
		return http.StatusBadRequest
	case engine.IsValidation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, hub.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
