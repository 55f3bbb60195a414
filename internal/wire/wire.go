// Package wire defines the frame formats spoken between the gateway and its
// clients over the realtime websocket, and between gateway instances over the
// redis bus. Both sides of the connection import this package, nothing else.
package wire

import (
	"encoding/json"

	"github.com/flamechat/internal/model"
)

// Change-feed tables.
const (
	TableMessages  = "messages"
	TableRooms     = "rooms"
	TablePollVotes = "poll_votes"
)

// Client to server operations.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpTrack       = "track"
	OpUntrack     = "untrack"
)

// Server to client frame types.
const (
	FrameChange = "change"
	FrameSync   = "sync"
)

// ClientFrame is one request sent by a client over the websocket.
type ClientFrame struct {
	Op     string                `json:"op"`
	Topic  string                `json:"topic"`
	ConnID string                `json:"conn_id,omitempty"` // untrack
	Record *model.PresenceRecord `json:"record,omitempty"`  // track
}

// ServerFrame is one event delivered to a client. Change frames carry a row
// of the topic's table; sync frames carry the full presence record set of the
// topic's scope.
type ServerFrame struct {
	Type    string                 `json:"type"`
	Topic   string                 `json:"topic"`
	Kind    string                 `json:"kind,omitempty"`
	Row     json.RawMessage        `json:"row,omitempty"`
	Records []model.PresenceRecord `json:"records,omitempty"`
}

// BusFrame is one message on the inter-instance redis bus: a change event
// fanned out to every instance, or a presence track/untrack applied by every
// instance's registry.
type BusFrame struct {
	Type   string                `json:"type"` // FrameChange, OpTrack, OpUntrack
	Topic  string                `json:"topic"`
	Kind   string                `json:"kind,omitempty"`
	Row    json.RawMessage       `json:"row,omitempty"`
	ConnID string                `json:"conn_id,omitempty"`
	Record *model.PresenceRecord `json:"record,omitempty"`
}

// Topic names. Messages and rooms use one firehose topic each; clients filter
// rows locally. Votes and presence are partitioned server-side, by poll and
// by scope.
const (
	TopicMessages = "messages"
	TopicRooms    = "rooms"
)

func VotesTopic(pollID string) string { return "votes:" + pollID }

// PresenceTopic takes the scope name ("global" or "room-<id>").
func PresenceTopic(scope string) string { return "presence:" + scope }
