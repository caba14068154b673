package room

import (
	"context"
	"errors"

	"github.com/DoyleJ11/mission-game-backend/internal/broadcast"
	"github.com/DoyleJ11/mission-game-backend/internal/engine"
)

var ErrClosed = errors.New("room closed")

// Send posts m without blocking past ctx or the actor's lifetime.
func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func ask[T any](ctx context.Context, r *Room, build func(reply chan T) Msg) (T, error) {
	reply := make(chan T, 1)
	if err := r.Send(ctx, build(reply)); err != nil {
		var zero T
		return zero, err
	}
	return await(ctx, r, reply)
}

func await[T any](ctx context.Context, r *Room, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		// The actor may have answered just before stopping.
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do submits cmd and waits for the outcome.
func (r *Room) Do(ctx context.Context, cmd engine.Command) error {
	err, askErr := ask(ctx, r, func(reply chan error) Msg { return Submit{Cmd: cmd, Reply: reply} })
	if askErr != nil {
		return askErr
	}
	return err
}

func (r *Room) Authorize(ctx context.Context, playerID, token string) error {
	err, askErr := ask(ctx, r, func(reply chan error) Msg {
		return Authorize{PlayerID: playerID, Token: token, Reply: reply}
	})
	if askErr != nil {
		return askErr
	}
	return err
}

// CloseBy asks the room to shut down on behalf of playerID, who must be the
// host.
func (r *Room) CloseBy(ctx context.Context, playerID string) error {
	err, askErr := ask(ctx, r, func(reply chan error) Msg { return Close{PlayerID: playerID, Reply: reply} })
	if askErr != nil {
		return askErr
	}
	return err
}

func (r *Room) ViewFor(ctx context.Context, playerID string) (engine.View, error) {
	return ask(ctx, r, func(reply chan engine.View) Msg { return GetView{PlayerID: playerID, Reply: reply} })
}

func (r *Room) State(ctx context.Context) (engine.Room, error) {
	return ask(ctx, r, func(reply chan engine.Room) Msg { return GetState{Reply: reply} })
}

// Attach subscribes a connection. The catch-up frames from lastVersion are
// already queued on the returned subscription. If ctx ends after the request
// was queued, the connection is detached again.
func (r *Room) Attach(ctx context.Context, connID, playerID string, lastVersion int, pending []string) (broadcast.Subscription, error) {
	reply := make(chan broadcast.Subscription, 1)
	msg := Subscribe{ConnID: connID, PlayerID: playerID, LastVersion: lastVersion, Pending: pending, Reply: reply}
	if err := r.Send(ctx, msg); err != nil {
		return broadcast.Subscription{}, err
	}
	sub, err := await(ctx, r, reply)
	if err != nil && ctx.Err() != nil {
		_ = r.Send(context.WithoutCancel(ctx), Unsubscribe{ConnID: connID})
	}
	return sub, err
}
