package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType names a real-time event.
type EventType string

const (
	EventNewDiscussion    EventType = "newDiscussion"
	EventNewComment       EventType = "newComment"
	EventNotification     EventType = "notification"
	EventDiscussionUpdate EventType = "discussionUpdate"

	// Connection-state events are synthesized by sources, never received.
	EventConnect      EventType = "connect"
	EventDisconnect   EventType = "disconnect"
	EventConnectError EventType = "connect_error"

	// EventAll subscribes to every event type.
	EventAll EventType = "*"
)

var (
	// ErrMalformedEvent indicates a payload that cannot be decoded into an Event.
	ErrMalformedEvent = errors.New("realtime: malformed event")
	// ErrEmptyPayload marks an event received without data. It always
	// accompanies ErrMalformedEvent.
	ErrEmptyPayload = errors.New("realtime: empty payload")
)

// Event is one message received from the real-time channel.
type Event struct {
	Type       EventType       `json:"event"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"-"`
}

// DecodeEvent parses an {event, data} envelope.
func DecodeEvent(raw []byte, receivedAt time.Time) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	event.Type = EventType(strings.TrimSpace(string(event.Type)))
	if event.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	event.ReceivedAt = receivedAt
	return event, nil
}

func connectionEvent(eventType EventType, cause error, at time.Time) Event {
	event := Event{Type: eventType, ReceivedAt: at}
	if cause != nil {
		if payload, err := json.Marshal(map[string]string{"error": cause.Error()}); err == nil {
			event.Data = payload
		}
	}
	return event
}

// NewDiscussion announces a discussion created by some user.
type NewDiscussion struct {
	DiscussionID int64 `json:"discussionId"`
	SpaceID      int64 `json:"spaceId"`
	AuthorID     int64 `json:"authorId"`
}

// DecodeNewDiscussion extracts the newDiscussion payload. The gateway also
// emits the event without data; that case reports ErrEmptyPayload.
func DecodeNewDiscussion(event Event) (NewDiscussion, error) {
	var payload NewDiscussion
	if err := decodePayload(event, EventNewDiscussion, &payload); err != nil {
		return NewDiscussion{}, err
	}
	return payload, nil
}

// NewComment announces a comment posted in a discussion the viewer joined.
type NewComment struct {
	DiscussionID int64 `json:"discussionId"`
	CommentID    int64 `json:"commentId"`
	IsReply      bool  `json:"isReply"`
	ParentID     int64 `json:"parentId"`
}

// DecodeNewComment extracts the newComment payload.
func DecodeNewComment(event Event) (NewComment, error) {
	var payload NewComment
	if err := decodePayload(event, EventNewComment, &payload); err != nil {
		return NewComment{}, err
	}
	if payload.DiscussionID <= 0 {
		return NewComment{}, fmt.Errorf("%w: %s without discussion id", ErrMalformedEvent, event.Type)
	}
	return payload, nil
}

// DiscussionUpdate announces a change to one discussion. Only the identifier
// is read; the rest of the payload is refetched.
type DiscussionUpdate struct {
	DiscussionID int64 `json:"discussionId"`
	ID           int64 `json:"id"`
}

// Target returns the updated discussion id.
func (u DiscussionUpdate) Target() int64 {
	if u.DiscussionID > 0 {
		return u.DiscussionID
	}
	return u.ID
}

// DecodeDiscussionUpdate extracts the discussionUpdate payload.
func DecodeDiscussionUpdate(event Event) (DiscussionUpdate, error) {
	var payload DiscussionUpdate
	if err := decodePayload(event, EventDiscussionUpdate, &payload); err != nil {
		return DiscussionUpdate{}, err
	}
	if payload.Target() <= 0 {
		return DiscussionUpdate{}, fmt.Errorf("%w: %s without discussion id", ErrMalformedEvent, event.Type)
	}
	return payload, nil
}

func decodePayload(event Event, expected EventType, out any) error {
	if event.Type != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedEvent, expected, event.Type)
	}
	trimmed := strings.TrimSpace(string(event.Data))
	if trimmed == "" || trimmed == "null" {
		return fmt.Errorf("%w: %w for %s", ErrMalformedEvent, ErrEmptyPayload, event.Type)
	}
	if err := json.Unmarshal(event.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
