package ir

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a watch event.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
	EventBookmark EventType = "bookmark"
)

// Event is one element of an entity watch stream.
//
// Seq is the sequence of the commit that produced the event, or the
// watermark for a Bookmark. Entity is nil for bookmarks. For Removed it holds
// the last state that matched the query.
type Event struct {
	Type   EventType `json:"type"`
	Seq    Seq       `json:"seq"`
	Entity *Entity   `json:"entity,omitempty"`
}

// RowEvent is one element of a row watch stream. Row is aligned with the
// attribute types the watch requested.
type RowEvent struct {
	Type     EventType `json:"type"`
	Seq      Seq       `json:"seq"`
	EntityID EntityID  `json:"entityId"`
	Row      EntityRow `json:"row"`
}

// MarshalJSON leaves entityId and row out of bookmarks only. Entity 0 is a
// real entity, so a zero id is always written on change events.
func (e RowEvent) MarshalJSON() ([]byte, error) {
	if e.IsBookmark() {
		return json.Marshal(struct {
			Type EventType `json:"type"`
			Seq  Seq       `json:"seq"`
		}{e.Type, e.Seq})
	}
	type plain RowEvent
	return json.Marshal(plain(e))
}

// IsBookmark reports whether the event is a watermark.
func (e Event) IsBookmark() bool { return e.Type == EventBookmark }

// IsBookmark reports whether the event is a watermark.
func (e RowEvent) IsBookmark() bool { return e.Type == EventBookmark }

// UnmarshalJSON rejects unknown event types.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch EventType(s) {
	case EventAdded, EventModified, EventRemoved, EventBookmark:
		*t = EventType(s)
		return nil
	default:
		return fmt.Errorf("unknown event type %q", s)
	}
}
