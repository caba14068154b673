package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/hub"
	"github.com/DoyleJ11/mission-game-backend/internal/room"
	"github.com/DoyleJ11/mission-game-backend/internal/session"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
	"github.com/DoyleJ11/mission-game-backend/internal/types"
)

type Options struct {
	HelloTimeout time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	// OriginPatterns is passed to websocket.Accept. Empty means same origin.
	OriginPatterns []string
}

func DefaultOptions() Options {
	return Options{
		HelloTimeout: 10 * time.Second,
		WriteTimeout: 3 * time.Second,
		PingInterval: 20 * time.Second,
	}
}

// Handler serves GET /ws?code=ROOM. The first client frame must be a hello;
// after that the connection carries redacted deltas out and actions in.
func Handler(h *hub.Hub, logger *zap.Logger, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		rm, err := h.Get(r.Context(), code)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("lookup room", zap.String("room", code), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.CloseNow()

		s := &peer{
			conn:   conn,
			room:   rm,
			opts:   opts,
			connID: uuid.NewString(),
			out:    make(chan types.ServerMessage, 16),
		}
		s.logger = logger.With(zap.String("room", code), zap.String("conn", s.connID))

		if err := s.run(r.Context()); err != nil {
			s.logger.Debug("connection ended", zap.Error(err))
		}
	}
}

type peer struct {
	conn     *websocket.Conn
	room     *room.Room
	opts     Options
	connID   string
	playerID string
	logger   *zap.Logger

	// out carries acks and errors from the reader to the writer.
	out chan types.ServerMessage
}

func (s *peer) run(ctx context.Context) error {
	hello, err := s.hello(ctx)
	if err != nil {
		return err
	}

	last := -1
	if hello.LastVersion != nil {
		last = *hello.LastVersion
	}
	sub, err := s.room.Attach(ctx, s.connID, s.playerID, last, hello.Pending)
	if err != nil {
		s.conn.Close(websocket.StatusGoingAway, "room closed")
		return err
	}
	defer func() {
		_ = s.room.Send(context.WithoutCancel(ctx), room.Unsubscribe{ConnID: s.connID})
	}()
	s.logger.Debug("connection attached", zap.String("player", s.playerID), zap.Int("last_version", last))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.writeLoop(gctx, sub) })
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.pingLoop(gctx) })
	err = g.Wait()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.conn.Close(websocket.StatusNormalClosure, "bye")
		return nil
	}
	return err
}

// hello authenticates the connection. A hello without a player id joins as a
// spectator.
func (s *peer) hello(ctx context.Context) (types.ClientMessage, error) {
	hctx, cancel := context.WithTimeout(ctx, s.opts.HelloTimeout)
	defer cancel()

	var msg types.ClientMessage
	if err := s.readJSON(hctx, &msg); err != nil {
		return msg, err
	}
	if msg.Type != types.MsgHello {
		s.closeWith(ctx, websocket.StatusPolicyViolation, types.ErrorMessage("", errors.New("expected hello")))
		return msg, errors.New("first frame was not hello")
	}
	if msg.PlayerID != "" {
		if err := s.room.Authorize(ctx, msg.PlayerID, msg.Token); err != nil {
			s.closeWith(ctx, websocket.StatusPolicyViolation, types.ErrorMessage("", err))
			return msg, err
		}
	}
	s.playerID = msg.PlayerID
	return msg, nil
}

func (s *peer) writeLoop(ctx context.Context, sub broadcast.Subscription) error {
	lastWritten := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f, ok := <-sub.Frames:
			if !ok {
				s.conn.Close(websocket.StatusGoingAway, "room closed")
				return room.ErrClosed
			}
			msg := types.FromFrame(f)
			if err := s.write(ctx, msg); err != nil {
				return err
			}
			switch {
			case f.Delta != nil:
				lastWritten = f.Delta.Version
			case f.Snapshot != nil:
				lastWritten = f.Snapshot.Version
			case f.Resumed != nil:
				lastWritten = f.Resumed.Version
			}

		case <-sub.Lagged:
			s.logger.Info("connection lagged, resuming", zap.Int("last_version", lastWritten))
			if err := s.room.Send(ctx, room.Resume{ConnID: s.connID, LastVersion: lastWritten}); err != nil {
				return err
			}

		case msg := <-s.out:
			if err := s.write(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *peer) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg types.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.reply(ctx, types.ServerMessage{Type: types.MsgError, Error: &types.ErrorBody{Code: "bad_json", Message: "bad json"}})
			continue
		}

		switch msg.Type {
		case types.MsgAction:
			s.action(ctx, msg.Action)

		case types.MsgResume:
			last := -1
			if msg.LastVersion != nil {
				last = *msg.LastVersion
			}
			if err := s.room.Send(ctx, room.Resume{ConnID: s.connID, LastVersion: last, Pending: msg.Pending}); err != nil {
				return err
			}

		default:
			s.reply(ctx, types.ServerMessage{Type: types.MsgError, Error: &types.ErrorBody{Code: "unknown_type", Message: "unknown type"}})
		}
	}
}

// action submits one client action and reports the outcome to this
// connection only. Its effects reach everyone through the room's deltas.
func (s *peer) action(ctx context.Context, a *types.Action) {
	if a == nil {
		s.reply(ctx, types.ServerMessage{Type: types.MsgError, Error: &types.ErrorBody{Code: "bad_request", Message: "missing action"}})
		return
	}
	if s.playerID == "" {
		s.reply(ctx, types.ErrorMessage(a.ActionID, errSpectator))
		return
	}
	cmd, err := a.Command(s.playerID)
	if err == nil {
		err = s.room.Do(ctx, cmd)
	}
	if err != nil {
		s.reply(ctx, types.ErrorMessage(a.ActionID, err))
		return
	}
	s.reply(ctx, types.ServerMessage{Type: types.MsgAck, ActionID: a.ActionID})
}

// Spectators hold no session token.
var errSpectator = fmt.Errorf("spectators cannot act: %w", session.ErrInvalidToken)

func (s *peer) pingLoop(ctx context.Context) error {
	if s.opts.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.opts.PingInterval)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *peer) reply(ctx context.Context, msg types.ServerMessage) {
	select {
	case s.out <- msg:
	case <-ctx.Done():
	}
}

func (s *peer) readJSON(ctx context.Context, v any) error {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *peer) write(ctx context.Context, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, payload)
}

func (s *peer) closeWith(ctx context.Context, code websocket.StatusCode, msg types.ServerMessage) {
	_ = s.write(ctx, msg)
	s.conn.Close(code, msg.Error.Code)
}
