package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
	"github.com/DoyleJ11/mission-game-backend/internal/recovery"
	"github.com/DoyleJ11/mission-game-backend/internal/session"
	"github.com/DoyleJ11/mission-game-backend/internal/store"
)

type Msg interface{ isRoomMsg() }

// Submit runs a player command. Reply receives nil, a *engine.ValidationError
// for the acting client, or an internal error.
type Submit struct {
	Cmd   engine.Command
	Reply chan error
}

// Subscribe attaches a connection. LastVersion is the newest version the
// client holds (-1 for none); Pending lists its uncommitted action ids.
type Subscribe struct {
	ConnID      string
	PlayerID    string
	LastVersion int
	Pending     []string
	Reply       chan broadcast.Subscription
}

// Resume re-runs catch-up for a connection that fell behind.
type Resume struct {
	ConnID      string
	LastVersion int
	Pending     []string
}

type Unsubscribe struct{ ConnID string }

type GetView struct {
	PlayerID string
	Reply    chan engine.View
}

// Authorize checks a player's session token.
type Authorize struct {
	PlayerID string
	Token    string
	Reply    chan error
}

// Close ends and deletes the room on the host's request.
type Close struct {
	PlayerID string
	Reply    chan error
}

// GetState returns the unredacted room. Used by tests and admin tooling.
type GetState struct {
	Reply chan engine.Room
}

type Shutdown struct{}

type timerFired struct {
	phase        engine.Phase
	phaseVersion int
}

type absentFired struct {
	playerID string
	gen      int
}

type idleFired struct{}

func (Submit) isRoomMsg()      {}
func (Subscribe) isRoomMsg()   {}
func (Resume) isRoomMsg()      {}
func (Unsubscribe) isRoomMsg() {}
func (GetView) isRoomMsg()     {}
func (Authorize) isRoomMsg()   {}
func (Close) isRoomMsg()       {}
func (GetState) isRoomMsg()    {}
func (Shutdown) isRoomMsg()    {}
func (timerFired) isRoomMsg()  {}
func (absentFired) isRoomMsg() {}
func (idleFired) isRoomMsg()   {}

type Config struct {
	QueueDepth        int
	SnapshotThreshold int
	LogSize           int
	IdleTimeout       time.Duration
	CommitAttempts    int
}

func DefaultConfig() Config {
	return Config{
		QueueDepth:        64,
		SnapshotThreshold: 32,
		LogSize:           256,
		IdleTimeout:       30 * time.Minute,
		CommitAttempts:    3,
	}
}

// Room is the single writer for one game room. Every mutation goes through
// its inbox and is applied by one goroutine.
type Room struct {
	code   string
	inbox  chan Msg
	state  engine.Room
	store  store.Store
	fanout *broadcast.Fanout
	log    *recovery.Log
	coord  *recovery.Coordinator
	cfg    Config
	logger *zap.Logger

	timers   *timers
	filledAt int // phase version whose absentees were filled in
	reopened bool

	onClose func(*Room)
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// New starts the actor for a freshly created room, which must already be
// persisted. onClose is called from the actor goroutine when the room expires
// or is closed.
func New(parent context.Context, state engine.Room, st store.Store, cfg Config, logger *zap.Logger, onClose func(*Room)) *Room {
	return start(parent, state, st, cfg, logger, onClose, false)
}

// Reopen starts the actor for a room loaded back from the store. Players the
// stored room still shows as connected get the reconnect grace period.
func Reopen(parent context.Context, state engine.Room, st store.Store, cfg Config, logger *zap.Logger, onClose func(*Room)) *Room {
	return start(parent, state, st, cfg, logger, onClose, true)
}

func start(parent context.Context, state engine.Room, st store.Store, cfg Config, logger *zap.Logger, onClose func(*Room), reopened bool) *Room {
	ctx, cancel := context.WithCancel(parent)
	log := recovery.NewLog(cfg.LogSize)
	r := &Room{
		code:     state.Code,
		inbox:    make(chan Msg, 64),
		state:    state,
		store:    st,
		log:      log,
		coord:    recovery.NewCoordinator(log, cfg.SnapshotThreshold),
		cfg:      cfg,
		logger:   logger.With(zap.String("room", state.Code)),
		onClose:  onClose,
		reopened: reopened,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.timers = newTimers(r.send)
	r.fanout = broadcast.New(cfg.QueueDepth, r.logger)
	if r.onClose == nil {
		r.onClose = func(*Room) {}
	}

	go r.loop()
	return r
}

// Inbox exposes the actor's mailbox to the transport layers.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

// Done is closed once the actor has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

// Code is fixed for the life of the actor and safe to call from any goroutine.
func (r *Room) Code() string { return r.code }

func (r *Room) send(m Msg) {
	select {
	case r.inbox <- m:
	case <-r.ctx.Done():
	}
}

func (r *Room) loop() {
	defer close(r.done)
	if r.reopened {
		r.restore()
	} else {
		r.armPhaseTimer()
	}
	r.timers.armIdle(r.cfg.IdleTimeout)

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Submit:
				msg.Reply <- r.submit(msg.Cmd)

			case Subscribe:
				sub := r.fanout.Subscribe(msg.ConnID, msg.PlayerID)
				r.catchUp(msg.ConnID, msg.PlayerID, msg.LastVersion, msg.Pending)
				msg.Reply <- sub
				r.connected(msg.PlayerID)

			case Resume:
				r.resume(msg)

			case Unsubscribe:
				r.unsubscribe(msg.ConnID)

			case GetView:
				msg.Reply <- engine.ViewFor(r.state, msg.PlayerID)

			case Authorize:
				msg.Reply <- r.authorize(msg.PlayerID, msg.Token)

			case GetState:
				msg.Reply <- r.state.Clone()

			case Close:
				if !r.isHost(msg.PlayerID) {
					msg.Reply <- &engine.ValidationError{Err: engine.ErrNotHost}
					break
				}
				r.logger.Info("room closed by host", zap.String("player", msg.PlayerID))
				msg.Reply <- nil
				r.destroy("room closed by host")
				return

			case timerFired:
				r.phaseTimeout(msg)

			case absentFired:
				r.absentTimeout(msg)

			case idleFired:
				if r.idleExpired() {
					r.logger.Info("room expired", zap.Time("last_activity", r.state.LastActivity))
					r.destroy("room expired")
					return
				}

			case Shutdown:
				r.shutdown()
				return
			}
			r.fillAbsentees()
		}
	}
}

func (r *Room) shutdown() {
	r.timers.stopAll()
	r.fanout.Close()
	r.cancel()
}

// destroy ends the game if it is still running, deletes the room from the
// store and stops the actor.
func (r *Room) destroy(reason string) {
	if r.state.Phase != engine.PhaseGameOver {
		if _, err := r.commit(engine.Command{Type: engine.CmdAbort, Reason: reason}); err != nil {
			r.logger.Error("abort before delete", zap.Error(err))
		}
	}
	if err := r.store.DeleteRoom(context.WithoutCancel(r.ctx), r.state.ID); err != nil {
		r.logger.Error("delete room", zap.Error(err))
	}
	r.shutdown()
	r.onClose(r)
}

func (r *Room) isHost(playerID string) bool {
	p, ok := r.state.Player(playerID)
	return ok && p.Host
}

func (r *Room) authorize(playerID, token string) error {
	p, ok := r.state.Player(playerID)
	if !ok {
		return &engine.ValidationError{Err: engine.ErrUnknownPlayer}
	}
	if !session.Verify(token, p.TokenDigest) {
		return session.ErrInvalidToken
	}
	return nil
}

func (r *Room) idleExpired() bool {
	idle := time.Since(r.state.LastActivity)
	if idle < r.cfg.IdleTimeout {
		r.timers.armIdle(r.cfg.IdleTimeout - idle)
		return false
	}
	return true
}
