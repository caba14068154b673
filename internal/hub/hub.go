package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/room"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
)

var (
	ErrCodeSpaceExhausted = errors.New("could not find a free room code")
	ErrShuttingDown       = errors.New("hub is shutting down")
)

const codeAttempts = 8

type HubMsg interface{ isHubMsg() }

type Result struct {
	Room *room.Room
	Err  error
}

// CreateRoom persists a new lobby under a fresh code and starts its actor.
type CreateRoom struct {
	Reply chan Result
}

// GetRoom returns the running actor for Code, reopening it from the store if
// it is not in memory. Err is store.ErrNotFound for unknown codes.
type GetRoom struct {
	Code  string
	Reply chan Result
}

// RemoveRoom forgets Room if it is still the one registered under Code.
type RemoveRoom struct {
	Code string
	Room *room.Room
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub owns the registry of running room actors.
type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	store  store.Store
	rules  engine.Rules
	cfg    room.Config
	logger *zap.Logger
	roomLg *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, st store.Store, rules engine.Rules, cfg room.Config, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		store:  st,
		rules:  rules,
		cfg:    cfg,
		logger: logger.Named("hub"),
		roomLg: logger.Named("room"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once every room actor has stopped.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateRoom:
				rm, err := h.create()
				msg.Reply <- Result{Room: rm, Err: err}

			case GetRoom:
				rm, err := h.get(msg.Code)
				msg.Reply <- Result{Room: rm, Err: err}

			case RemoveRoom:
				if h.rooms[msg.Code] == msg.Room {
					delete(h.rooms, msg.Code)
					h.logger.Info("room removed", zap.String("room", msg.Code))
				}

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create() (*room.Room, error) {
	for range codeAttempts {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		if _, taken := h.rooms[code]; taken {
			continue
		}

		state := engine.NewRoom(uuid.NewString(), code, h.rules, time.Now())
		err = h.store.SaveRoom(h.ctx, state, 0)
		if errors.Is(err, store.ErrConflict) {
			h.logger.Debug("room code collision", zap.String("room", code))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}

		rm := room.New(h.ctx, state, h.store, h.cfg, h.roomLg, h.onClose)
		h.rooms[code] = rm
		h.logger.Info("room created", zap.String("room", code), zap.String("id", state.ID))
		return rm, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (h *Hub) get(code string) (*room.Room, error) {
	if rm, ok := h.rooms[code]; ok {
		select {
		case <-rm.Done():
			delete(h.rooms, code)
		default:
			return rm, nil
		}
	}

	state, err := h.store.LoadRoom(h.ctx, code)
	if err != nil {
		return nil, err
	}
	rm := room.Reopen(h.ctx, state, h.store, h.cfg, h.roomLg, h.onClose)
	h.rooms[code] = rm
	h.logger.Info("room reopened",
		zap.String("room", code),
		zap.String("phase", string(state.Phase)),
		zap.Int("version", state.Version))
	return rm, nil
}

// onClose runs on a room's goroutine once it has deleted itself.
func (h *Hub) onClose(rm *room.Room) {
	select {
	case h.inbox <- RemoveRoom{Code: rm.Code(), Room: rm}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	h.cancel()
	for _, rm := range h.rooms {
		<-rm.Done()
	}
	clear(h.rooms)
}

// Create asks the hub for a new room.
func (h *Hub) Create(ctx context.Context) (*room.Room, error) {
	return h.ask(ctx, func(reply chan Result) HubMsg { return CreateRoom{Reply: reply} })
}

// Get returns the room for code, reopening it from the store if needed.
func (h *Hub) Get(ctx context.Context, code string) (*room.Room, error) {
	return h.ask(ctx, func(reply chan Result) HubMsg { return GetRoom{Code: code, Reply: reply} })
}

func (h *Hub) ask(ctx context.Context, build func(chan Result) HubMsg) (*room.Room, error) {
	reply := make(chan Result, 1)
	select {
	case h.inbox <- build(reply):
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrShuttingDown
	}
	select {
	case res := <-reply:
		return res.Room, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, ErrShuttingDown
	}
}

// Restore reopens every unfinished room in the store so their timers run
// again after a restart.
func (h *Hub) Restore(ctx context.Context) (int, error) {
	codes, err := h.store.ActiveCodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active rooms: %w", err)
	}
	n := 0
	for _, code := range codes {
		if _, err := h.Get(ctx, code); err != nil {
			h.logger.Error("reopen room", zap.String("room", code), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// Shutdown stops every room and waits for them, or for ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
