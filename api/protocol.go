package api

const postCommandMaxSize = 64 * 1024 // 64 KiB

// POST /api/commands response body
type postCommandResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Duplicates      []string `json:"duplicates,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// POST /api/channels/auth request body
type channelAuthRequest struct {
	SocketID    string `json:"socket_id" form:"socket_id"`
	UserID      string `json:"userId" form:"userId"`
	ChannelName string `json:"channel_name" form:"channel_name"`
}

// POST /api/channels/auth response body
type channelAuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

type channelData struct {
	UserID   string          `json:"user_id"`
	UserInfo channelUserInfo `json:"user_info"`
}

type channelUserInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image"`
}
