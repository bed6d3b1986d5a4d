package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const sseDataPrefix = "data: "

// Broker fans board change events out to SSE subscribers of that board.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan domain.Event]struct{})}
}

func (b *Broker) subscribe(board string) chan domain.Event {
	ch := make(chan domain.Event, 16)
	b.mu.Lock()
	if b.subs[board] == nil {
		b.subs[board] = make(map[chan domain.Event]struct{})
	}
	b.subs[board][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(board string, ch chan domain.Event) {
	b.mu.Lock()
	if set, ok := b.subs[board]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, board)
		}
	}
	b.mu.Unlock()
}

// TaskChanged delivers ev to every subscriber of its board. Slow subscribers
// miss events rather than block the store.
func (b *Broker) TaskChanged(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	for ch := range b.subs[ev.Board] {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}

// streamBoard sends the board as the first event, then every change to it.
func streamBoard(boards Boards, auth Authenticator, broker *Broker, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if token := c.QueryParam("token"); authHeader == "" && token != "" {
			authHeader = bearerPrefix + token
		}
		owner, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		session, err := boards.Session(ctx, owner)
		if err != nil {
			logger.WithError(err).Error("open board for stream")
			return c.String(http.StatusInternalServerError, "failed to load board")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ch := broker.subscribe(session.Store.Key())
		defer broker.unsubscribe(session.Store.Key(), ch)

		if err := writeEvent(c, "board", boardView(session.Store)); err != nil {
			return err
		}
		flusher.Flush()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ch:
				if err := writeEvent(c, ev.Type, ev); err != nil {
					logger.WithError(err).Debug("stream write failed")
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(c echo.Context, name string, payload any) error {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return err
	}
	w := c.Response()
	if _, err := w.Write([]byte("event: " + name + "\n" + sseDataPrefix)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}
