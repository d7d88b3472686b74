package broadcast

import (
	"strings"

	"github.com/bytedance/sonic"
)

// EventName is the only event clients exchange on board channels.
const EventName = "update-event"

const channelPrefix = "public-board-"

// ChannelName returns the pub/sub channel of a board.
func ChannelName(boardID string) string { return channelPrefix + boardID }

// BoardIDFromChannel extracts the board id from a channel name.
func BoardIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || len(channel) == len(channelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, channelPrefix), true
}

// Event is the wire form of a board change notification. It carries no
// state; receivers refetch.
type Event struct {
	Channel string    `json:"channel"`
	Event   string    `json:"event"`
	Data    EventData `json:"data"`
}

// EventData identifies when and by whom a board changed. Sender is the user
// id; Session tells apart several clients of the same user.
type EventData struct {
	TimeStamp int64  `json:"timeStamp"`
	Sender    string `json:"sender"`
	Session   string `json:"session,omitempty"`
}

// BoardID returns the board the event refers to.
func (e Event) BoardID() (string, bool) { return BoardIDFromChannel(e.Channel) }

// NewEvent builds an update event for a board.
func NewEvent(boardID, sender string, timestamp int64) Event {
	return Event{
		Channel: ChannelName(boardID),
		Event:   EventName,
		Data:    EventData{TimeStamp: timestamp, Sender: sender},
	}
}

// Encode serializes the event.
func (e Event) Encode() ([]byte, error) { return sonic.Marshal(e) }

// DecodeEvent parses a wire event.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	err := sonic.Unmarshal(payload, &ev)
	return ev, err
}
