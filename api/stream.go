package api

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"taskmate-sync/broadcast"
)

// streamBoard relays a board's change events to the caller as server-sent
// events until the client disconnects.
func (h *handlers) streamBoard(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	boardID := c.Param("id")
	ctx := c.Request().Context()
	if _, err := h.loadBoard(ctx, userID, boardID); err != nil {
		return err
	}
	sub, err := h.events.Subscribe(ctx, broadcast.ChannelName(boardID))
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable").SetInternal(err)
	}
	defer sub.Close()

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	// Initial comment so proxies forward the headers right away.
	if _, err := res.Write([]byte(":ok\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				h.logger.WithField("boardId", boardID).Warn("board event subscription closed")
				return nil
			}
			if _, err := res.Write([]byte("event: " + broadcast.EventName + "\ndata: ")); err != nil {
				return nil
			}
			if _, err := res.Write(msg.Payload); err != nil {
				return nil
			}
			if _, err := res.Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := res.Write([]byte(":keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// publishBoardEvent fans a client's change notification out to the board's
// subscribers. Channel, event name and sender are set from the route and the
// authenticated caller, so a client can only speak for itself on boards it
// collaborates on.
func (h *handlers) publishBoardEvent(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	boardID := c.Param("id")
	ctx := c.Request().Context()
	if _, err := h.loadBoard(ctx, userID, boardID); err != nil {
		return err
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 16<<10))
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	var ev broadcast.Event
	if len(body) > 0 {
		if ev, err = broadcast.DecodeEvent(body); err != nil {
			return c.String(http.StatusBadRequest, "invalid event")
		}
	}
	ev.Channel = broadcast.ChannelName(boardID)
	ev.Event = broadcast.EventName
	ev.Data.Sender = userID
	if ev.Data.TimeStamp == 0 {
		ev.Data.TimeStamp = time.Now().UnixMilli()
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	if err := h.events.Publish(ctx, ev.Channel, payload); err != nil {
		h.logger.WithError(err).WithField("boardId", boardID).Warn("publish board event")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable").SetInternal(err)
	}
	return c.NoContent(http.StatusAccepted)
}
