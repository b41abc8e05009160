package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/realtime"
)

// Run routes real-time events until ctx is cancelled. It outlives individual
// sessions: the dispatcher stays in place across login and logout.
func (m *Manager) Run(ctx context.Context) error {
	stream, cleanup := m.realtime.Dispatcher().Subscribe(ctx, realtime.EventAll)
	defer cleanup()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-stream:
			if !ok {
				return nil
			}
			m.route(event)
		}
	}
}

func (m *Manager) route(event realtime.Event) {
	switch event.Type {
	case realtime.EventNewDiscussion:
		for _, synchronizer := range m.openFeeds() {
			synchronizer.ObserveArrival(event)
		}
	case realtime.EventNewComment:
		comment, err := realtime.DecodeNewComment(event)
		if err != nil {
			m.dropEvent(event, err)
			return
		}
		m.cache.Invalidate(cache.DiscussionCommentsKey(comment.DiscussionID))
		m.cache.Invalidate(cache.EntityKey(cache.FamilyDiscussions, comment.DiscussionID))
		if comment.ParentID > 0 {
			m.cache.Invalidate(cache.RepliesKey(comment.ParentID))
		} else {
			m.cache.Invalidate(cache.NewKey(cache.FamilyCommentReplies))
		}
	case realtime.EventDiscussionUpdate:
		update, err := realtime.DecodeDiscussionUpdate(event)
		if err != nil {
			m.dropEvent(event, err)
			return
		}
		m.cache.Invalidate(cache.EntityKey(cache.FamilyDiscussions, update.Target()))
	case realtime.EventNotification:
		m.cache.Invalidate(cache.NewKey(cache.FamilyNotifications))
	case realtime.EventConnect, realtime.EventDisconnect, realtime.EventConnectError:
		m.logger.Debug("realtime connection state", zap.String("event", string(event.Type)))
	}
}

func (m *Manager) dropEvent(event realtime.Event, err error) {
	m.logger.Debug("realtime event dropped",
		zap.String("operation", opRoute),
		zap.String("reason", "malformed_event"),
		zap.String("event", string(event.Type)),
		zap.Error(err))
}
