package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskmate-sync/broadcast"
	"taskmate-sync/domain"
)

// ChannelSigner signs presence subscriptions to board channels.
type ChannelSigner struct {
	Key    string
	Secret []byte
}

// Sign returns "key:signature" for a socket joining channel with data.
func (s *ChannelSigner) Sign(socketID, channel, data string) string {
	mac := hmac.New(sha256.New, s.Secret)
	mac.Write([]byte(socketID + ":" + channel + ":" + data))
	return s.Key + ":" + hex.EncodeToString(mac.Sum(nil))
}

func (h *handlers) channelAuth(c echo.Context) error {
	userID, err := h.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req channelAuthRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.SocketID == "" || req.ChannelName == "" || req.UserID == "" {
		return c.String(http.StatusBadRequest, "socket_id, userId and channel_name are required")
	}
	if req.UserID != userID {
		return c.String(http.StatusForbidden, "user mismatch")
	}
	boardID, ok := broadcast.BoardIDFromChannel(req.ChannelName)
	if !ok {
		return c.String(http.StatusBadRequest, "unknown channel")
	}
	ctx := c.Request().Context()
	if _, err := h.loadBoard(ctx, userID, boardID); err != nil {
		return err
	}

	user, err := h.store.FetchUser(ctx, userID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load user").SetInternal(err)
		}
		user = domain.User{ID: userID}
	}
	data, err := sonic.MarshalString(channelData{
		UserID:   userID,
		UserInfo: channelUserInfo{Name: user.Name, Email: user.Email, Image: user.Image},
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, channelAuthResponse{
		Auth:        h.channels.Sign(req.SocketID, req.ChannelName, data),
		ChannelData: data,
	})
}
