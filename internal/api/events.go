package api

import (
	"time"

	"hyperliquid-engine/pkg/types"
)

// Event is the wrapper for everything sent over the websocket stream.
type Event struct {
	Type      string    `json:"type"` // "levels_update"
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Data      any       `json:"data"`
}

// NewLevelsEvent wraps one finished scanner row for broadcast.
func NewLevelsEvent(row types.LevelRow) Event {
	return Event{
		Type:      "levels_update",
		Timestamp: time.Now().UTC(),
		Symbol:    row.Symbol,
		Data:      row,
	}
}
