package realtime

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeEventEnvelope(t *testing.T) {
	receivedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	event, err := DecodeEvent([]byte(`{"event":"newDiscussion","data":{"discussionId":4,"spaceId":2,"authorId":7}}`), receivedAt)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if event.Type != EventNewDiscussion {
		t.Fatalf("unexpected event type %q", event.Type)
	}
	if !event.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("expected receivedAt to be stamped")
	}
	payload, err := DecodeNewDiscussion(event)
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	if payload.DiscussionID != 4 || payload.SpaceID != 2 || payload.AuthorID != 7 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDecodeEventRejectsMalformedInput(t *testing.T) {
	testCases := map[string]string{
		"not-json":      `newDiscussion`,
		"missing-event": `{"data":{}}`,
		"blank-event":   `{"event":"  "}`,
	}
	for name, raw := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeEvent([]byte(raw), time.Now()); !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected ErrMalformedEvent, got %v", err)
			}
		})
	}
}

func TestDecodeNewDiscussionRequiresPayload(t *testing.T) {
	for _, event := range []Event{
		{Type: EventNewDiscussion},
		{Type: EventNewDiscussion, Data: []byte("null")},
		{Type: EventNewDiscussion, Data: []byte(`{"spaceId":"general"}`)},
		{Type: EventNewComment, Data: []byte(`{"discussionId":1}`)},
	} {
		if _, err := DecodeNewDiscussion(event); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected ErrMalformedEvent for %s %s, got %v", event.Type, event.Data, err)
		}
	}
}

func TestDecodeNewDiscussionFlagsEmptyPayload(t *testing.T) {
	for _, event := range []Event{
		{Type: EventNewDiscussion},
		{Type: EventNewDiscussion, Data: []byte(" null ")},
	} {
		_, err := DecodeNewDiscussion(event)
		if !errors.Is(err, ErrEmptyPayload) || !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected an empty payload error, got %v", err)
		}
	}
	if _, err := DecodeNewDiscussion(Event{Type: EventNewDiscussion, Data: []byte(`{"spaceId":"general"}`)}); errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("undecodable payload must not be reported as empty")
	}
}

func TestDecodeNewCommentReadsReplyParent(t *testing.T) {
	event := Event{Type: EventNewComment, Data: []byte(`{"discussionId":9,"commentId":31,"isReply":true,"parentId":12}`)}
	payload, err := DecodeNewComment(event)
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	if payload.DiscussionID != 9 || payload.ParentID != 12 || !payload.IsReply {
		t.Fatalf("unexpected payload %+v", payload)
	}

	topLevel, err := DecodeNewComment(Event{Type: EventNewComment, Data: []byte(`{"discussionId":9,"commentId":32,"isReply":false,"parentId":null}`)})
	if err != nil {
		t.Fatalf("unexpected payload error: %v", err)
	}
	if topLevel.ParentID != 0 {
		t.Fatalf("expected no parent, got %d", topLevel.ParentID)
	}

	if _, err := DecodeNewComment(Event{Type: EventNewComment, Data: []byte(`{"commentId":1}`)}); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent without discussion id, got %v", err)
	}
}

func TestDecodeDiscussionUpdateAcceptsEitherIdentifier(t *testing.T) {
	for _, raw := range []string{`{"discussionId":5}`, `{"id":5,"content":"edited"}`} {
		payload, err := DecodeDiscussionUpdate(Event{Type: EventDiscussionUpdate, Data: []byte(raw)})
		if err != nil {
			t.Fatalf("unexpected payload error for %s: %v", raw, err)
		}
		if payload.Target() != 5 {
			t.Fatalf("expected target 5 for %s, got %d", raw, payload.Target())
		}
	}
	if _, err := DecodeDiscussionUpdate(Event{Type: EventDiscussionUpdate, Data: []byte(`{}`)}); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}
