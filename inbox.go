package hala

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Inbox maintains the local view of notifications and conversations, updated
// both from REST loads and from push events. All mutating entry points take
// the inbox lock, so it is safe to feed from the dispatcher and read from
// elsewhere concurrently.
type Inbox struct {
	notifications *NotificationsClient
	messages      *MessagesClient
	logger        *slog.Logger

	mu sync.Mutex
	// Newest first, mirroring the server's sort order.
	items          []Notification
	unread         int
	pendingFriends int

	conversations []Conversation
	unreadMsgs    int
	// Conversation currently on screen; new messages for it are read
	// immediately instead of raising the unread counters.
	openConversation string

	alertMu  sync.RWMutex
	onAlert  []func(Alert)
	onChange []func()
}

// Alert is a transient, user-facing ping raised for events that warrant
// immediate attention (a toast, a ringtone, a badge flash).
type Alert struct {
	Kind    string // "notification" or "message"
	Title   string
	Body    string
	Payload any
}

func NewInbox(notifications *NotificationsClient, messages *MessagesClient, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.New(discardHandler{})
	}
	return &Inbox{
		notifications: notifications,
		messages:      messages,
		logger:        logger,
	}
}

// OnAlert registers a callback for transient alerts.
func (in *Inbox) OnAlert(h func(Alert)) {
	in.alertMu.Lock()
	in.onAlert = append(in.onAlert, h)
	in.alertMu.Unlock()
}

// OnChange registers a callback invoked after any inbox mutation. Useful for
// re-rendering badges and lists.
func (in *Inbox) OnChange(h func()) {
	in.alertMu.Lock()
	in.onChange = append(in.onChange, h)
	in.alertMu.Unlock()
}

func (in *Inbox) alert(a Alert) {
	in.alertMu.RLock()
	handlers := append([]func(Alert){}, in.onAlert...)
	in.alertMu.RUnlock()
	for _, h := range handlers {
		h(a)
	}
}

func (in *Inbox) changed() {
	in.alertMu.RLock()
	handlers := append([]func(){}, in.onChange...)
	in.alertMu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

// ============================================================================
// Initial loads
// ============================================================================

// Refresh replaces the local state with fresh server state.
func (in *Inbox) Refresh(ctx context.Context) error {
	page, err := in.notifications.List(ctx, 50, 0)
	if err != nil {
		return err
	}
	convs, err := in.messages.Conversations(ctx)
	if err != nil {
		return err
	}
	unreadMsgs, err := in.messages.UnreadCount(ctx)
	if err != nil {
		return err
	}

	in.mu.Lock()
	in.items = page.Notifications
	in.unread = 0
	in.pendingFriends = 0
	for _, n := range in.items {
		if !n.IsRead {
			in.unread++
		}
		if n.Type == "friend_request" && !n.IsRead {
			in.pendingFriends++
		}
	}
	in.conversations = convs
	in.sortConversationsLocked()
	in.unreadMsgs = unreadMsgs
	in.mu.Unlock()

	in.changed()
	return nil
}

// ============================================================================
// Push-event entry points
// ============================================================================

// HandleNotification applies a pushed notification: prepend, bump counters,
// raise an alert.
func (in *Inbox) HandleNotification(p NotificationPayload) {
	n := p.Notification
	in.mu.Lock()
	for _, existing := range in.items {
		if existing.ID != "" && existing.ID == n.ID {
			in.mu.Unlock()
			return
		}
	}
	in.items = append([]Notification{n}, in.items...)
	in.unread++
	if n.Type == "friend_request" {
		in.pendingFriends++
	}
	in.mu.Unlock()

	in.alert(Alert{Kind: "notification", Title: n.Sender.Name, Body: n.Message, Payload: n})
	in.changed()
}

// HandleNewMessage applies a pushed chat message. The owning conversation's
// summary moves to the top; when that conversation is open on screen the
// message is marked read on the server immediately and the unread counters
// stay put.
func (in *Inbox) HandleNewMessage(p NewMessagePayload) {
	convID := p.ConversationID
	if convID == "" {
		convID = p.Message.ConversationID
	}

	in.mu.Lock()
	open := in.openConversation != "" && in.openConversation == convID
	found := false
	for i := range in.conversations {
		if in.conversations[i].ID != convID {
			continue
		}
		found = true
		in.conversations[i].LastMessage = p.Message.Content
		in.conversations[i].LastMessageTime = p.Message.CreatedAt
		if !open {
			in.conversations[i].UnreadCount++
		}
		break
	}
	if !found {
		c := Conversation{
			ID:              convID,
			Participant:     &p.Message.Sender,
			LastMessage:     p.Message.Content,
			LastMessageTime: p.Message.CreatedAt,
		}
		if !open {
			c.UnreadCount = 1
		}
		in.conversations = append(in.conversations, c)
	}
	in.sortConversationsLocked()
	if !open {
		in.unreadMsgs++
	}
	in.mu.Unlock()

	if open {
		// Off the dispatch path: the push channel must not stall behind a
		// mark-read round trip.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := in.messages.MarkAsRead(ctx, convID); err != nil {
				in.logger.Debug("mark-as-read failed", "conversation", convID, "error", err)
			}
		}()
	} else {
		in.alert(Alert{Kind: "message", Title: p.Message.Sender.Name, Body: p.Message.Content, Payload: p.Message})
	}
	in.changed()
}

// ============================================================================
// Local mutations
// ============================================================================

// SetOpenConversation records which conversation is on screen. Pass "" when
// none is. Opening a conversation zeroes its local unread count.
func (in *Inbox) SetOpenConversation(conversationID string) {
	in.mu.Lock()
	in.openConversation = conversationID
	if conversationID != "" {
		for i := range in.conversations {
			if in.conversations[i].ID == conversationID {
				in.unreadMsgs -= in.conversations[i].UnreadCount
				if in.unreadMsgs < 0 {
					in.unreadMsgs = 0
				}
				in.conversations[i].UnreadCount = 0
				break
			}
		}
	}
	in.mu.Unlock()
	in.changed()
}

// MarkRead marks a single notification read locally and on the server.
func (in *Inbox) MarkRead(ctx context.Context, notificationID string) error {
	in.mu.Lock()
	for i := range in.items {
		if in.items[i].ID == notificationID && !in.items[i].IsRead {
			in.items[i].IsRead = true
			in.unread--
			if in.items[i].Type == "friend_request" && in.pendingFriends > 0 {
				in.pendingFriends--
			}
			break
		}
	}
	in.mu.Unlock()
	in.changed()
	return in.notifications.MarkRead(ctx, notificationID)
}

// MarkAllRead marks every notification read locally and on the server.
func (in *Inbox) MarkAllRead(ctx context.Context) error {
	in.mu.Lock()
	for i := range in.items {
		in.items[i].IsRead = true
	}
	in.unread = 0
	in.pendingFriends = 0
	in.mu.Unlock()
	in.changed()
	return in.notifications.MarkAllRead(ctx)
}

// ============================================================================
// Reads
// ============================================================================

// Notifications returns the current notification list, newest first.
func (in *Inbox) Notifications() []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Notification{}, in.items...)
}

// Conversations returns the conversation summaries, most recent activity
// first.
func (in *Inbox) Conversations() []Conversation {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]Conversation{}, in.conversations...)
}

// UnreadNotifications returns the unread notification count.
func (in *Inbox) UnreadNotifications() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unread
}

// PendingFriendRequests returns the count of unread friend-request
// notifications.
func (in *Inbox) PendingFriendRequests() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pendingFriends
}

// UnreadMessages returns the total unread chat-message count.
func (in *Inbox) UnreadMessages() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.unreadMsgs
}

// sortConversationsLocked orders summaries by last activity, newest first.
// Stable so that equal timestamps keep their current relative order.
func (in *Inbox) sortConversationsLocked() {
	sort.SliceStable(in.conversations, func(i, j int) bool {
		return in.conversations[i].LastMessageTime > in.conversations[j].LastMessageTime
	})
}
