// Command bot joins a room and plays it over the websocket protocol. It is
// used for load and soak testing and to fill seats in development.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/client"
	"github.com/DoyleJ11/mission-game-backend/internal/config"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/logging"
	"github.com/DoyleJ11/mission-game-backend/internal/types"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	code := flag.String("code", "", "room code; empty creates a room")
	name := flag.String("name", "", "player name; empty picks one")
	flag.Parse()

	cfg, err := config.Load(nil, ".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *name == "" {
		*name = "bot-" + uuid.NewString()[:4]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seat, err := takeSeat(ctx, *server, *code, *name)
	if err != nil {
		logger.Fatal("join", zap.Error(err))
	}
	logger.Info("seated", zap.String("room", seat.Code), zap.String("player", seat.PlayerID))

	b := &bot{seat: seat, ttl: cfg.OptimisticTTL, logger: logger.With(zap.String("player", *name))}
	if err := b.play(ctx, *server); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("play", zap.Error(err))
	}
}

type seat struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id"`
	Token    string `json:"token"`
}

func takeSeat(ctx context.Context, server, code, name string) (seat, error) {
	url := server + "/rooms"
	if code != "" {
		url += "/" + code + "/players"
	}
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return seat{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return seat{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return seat{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var e types.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return seat{}, fmt.Errorf("%s: %s", resp.Status, e.Code)
	}
	var s seat
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return seat{}, err
	}
	if s.Code == "" {
		s.Code = code
	}
	return s, nil
}

type bot struct {
	seat   seat
	ttl    time.Duration
	logger *zap.Logger

	conn   *websocket.Conn
	mirror *client.Mirror
	// actedIn is the phase version the bot last acted in.
	actedIn int
}

// play keeps the bot connected until the game ends, resuming from the last
// applied version whenever the connection drops.
func (b *bot) play(ctx context.Context, server string) error {
	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/ws?code=" + b.seat.Code
	b.actedIn = -1
	for {
		err := b.session(ctx, wsURL)
		if errors.Is(err, errGameOver) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.logger.Warn("connection lost, reconnecting", zap.Error(err))
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errGameOver = errors.New("game over")

func (b *bot) session(parent context.Context, url string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()
	b.conn = conn

	hello := types.ClientMessage{Type: types.MsgHello, PlayerID: b.seat.PlayerID, Token: b.seat.Token}
	if b.mirror != nil {
		v := b.mirror.Version()
		hello.LastVersion = &v
		hello.Pending = b.mirror.Pending()
	}
	if err := b.send(ctx, hello); err != nil {
		return err
	}

	expire := time.NewTicker(b.ttl)
	defer expire.Stop()
	msgs := make(chan types.ServerMessage)
	errc := make(chan error, 1)
	go func() {
		for {
			var msg types.ServerMessage
			_, data, err := conn.Read(ctx)
			if err == nil {
				err = json.Unmarshal(data, &msg)
			}
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return parent.Err()
		case err := <-errc:
			return err
		case <-expire.C:
			if b.mirror != nil {
				b.report(b.mirror.Expire())
			}
		case msg := <-msgs:
			if err := b.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (b *bot) handle(ctx context.Context, msg types.ServerMessage) error {
	switch msg.Type {
	case types.MsgSnapshot:
		if b.mirror == nil {
			b.mirror = client.NewMirror(*msg.Snapshot, b.ttl)
			return nil
		}
		b.report(b.mirror.ApplySnapshot(*msg.Snapshot))
		return nil

	case types.MsgResumed:
		b.report(b.mirror.Resume(msg.Confirmed, msg.Discarded))

	case types.MsgDelta:
		res, err := b.mirror.ApplyDelta(*msg.Delta)
		if errors.Is(err, engine.ErrVersionGap) {
			v := b.mirror.Version()
			return b.send(ctx, types.ClientMessage{Type: types.MsgResume, LastVersion: &v, Pending: b.mirror.Pending()})
		}
		if err != nil {
			return err
		}
		b.report(res)

	case types.MsgError:
		b.logger.Info("action rejected", zap.String("action", msg.ActionID), zap.String("code", msg.Error.Code))
		if msg.ActionID != "" {
			b.report(b.mirror.Reject(msg.ActionID))
		}
		return nil

	default:
		return nil
	}

	v := b.mirror.View()
	if v.Phase == engine.PhaseGameOver {
		b.logger.Info("game over", zap.String("outcome", string(v.Outcome)), zap.String("reason", string(v.Reason)))
		b.conn.Close(websocket.StatusNormalClosure, "game over")
		return errGameOver
	}
	return b.act(ctx, v)
}

// act issues at most one action per phase version.
func (b *bot) act(ctx context.Context, v engine.View) error {
	if b.actedIn == v.PhaseVersion || len(b.mirror.Pending()) > 0 {
		return nil
	}
	a, ok := choose(v)
	if !ok {
		return nil
	}
	a.ActionID = uuid.NewString()
	cmd, err := a.Command(b.seat.PlayerID)
	if err != nil {
		return err
	}
	if err := b.mirror.Predict(cmd); err != nil {
		return err
	}
	b.actedIn = v.PhaseVersion
	b.logger.Debug("acting", zap.String("type", a.Type), zap.String("action", a.ActionID))
	return b.send(ctx, types.ClientMessage{Type: types.MsgAction, Action: &a})
}

// choose picks a move: good players approve and succeed, evil players
// sabotage, and the leader proposes itself plus the next seats.
func choose(v engine.View) (types.Action, bool) {
	self := v.Self
	switch v.Phase {
	case engine.PhaseLobby:
		if me := find(v.Players, self); me != nil && !me.Ready {
			return types.Action{Type: "set_ready", Ready: true}, true
		}

	case engine.PhaseRoleReveal:
		if me := find(v.Players, self); me != nil && !me.Ready {
			return types.Action{Type: "set_ready", Ready: true}, true
		}

	case engine.PhaseTeamProposal:
		if v.Leader < 0 || v.Leader >= len(v.Players) || v.Players[v.Leader].ID != self {
			return types.Action{}, false
		}
		size := 0
		for _, m := range v.Missions {
			if m.Number == v.Mission {
				size = m.TeamSize
			}
		}
		team := make([]string, 0, size)
		for i := 0; i < size && i < len(v.Players); i++ {
			team = append(team, v.Players[(v.Leader+i)%len(v.Players)].ID)
		}
		return types.Action{Type: "propose_team", Team: team}, true

	case engine.PhaseTeamVote:
		return types.Action{Type: "cast_vote", Approve: v.Team != engine.TeamEvil || v.Rejections > 0}, true

	case engine.PhaseMissionExecution:
		for _, m := range v.Missions {
			if m.Number == v.Mission && slices.Contains(m.Team, self) {
				return types.Action{Type: "submit_ballot", Success: v.Team != engine.TeamEvil}, true
			}
		}

	case engine.PhaseEliminationAttempt:
		if v.Eliminator != self {
			return types.Action{}, false
		}
		for _, p := range v.Players {
			if p.ID != self && !evilSighting(v, p.ID) {
				return types.Action{Type: "eliminate", Target: p.ID}, true
			}
		}
	}
	return types.Action{}, false
}

func evilSighting(v engine.View, id string) bool {
	return slices.ContainsFunc(v.Sightings, func(s engine.Sighting) bool { return s.PlayerID == id })
}

func find(ps []engine.PlayerInfo, id string) *engine.PlayerInfo {
	for i := range ps {
		if ps[i].ID == id {
			return &ps[i]
		}
	}
	return nil
}

func (b *bot) report(res client.Resolution) {
	if res.Empty() {
		return
	}
	b.logger.Debug("predictions settled", zap.Strings("confirmed", res.Confirmed), zap.Strings("rolled_back", res.RolledBack))
	if len(res.RolledBack) > 0 {
		// A refused or superseded move may be retried in the same phase.
		b.actedIn = -1
	}
}

func (b *bot) send(ctx context.Context, msg types.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return b.conn.Write(wctx, websocket.MessageText, data)
}
