package hala

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error payload returned by the Hala API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// UserRef is the embedded user shape the API attaches to notifications,
// messages and friend records.
type UserRef struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ============================================================================
// Auth Types
// ============================================================================

type RegisterOptions struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginOptions struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult is returned by register, login and OTP verification.
type AuthResult struct {
	Message      string   `json:"message"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	User         *UserRef `json:"user,omitempty"`
}

// RefreshResult is returned by POST /auth/refresh-token.
type RefreshResult struct {
	AccessToken string `json:"accessToken"`
}

// ============================================================================
// Post / Comment Types
// ============================================================================

type Post struct {
	ID            string   `json:"_id"`
	Author        UserRef  `json:"author"`
	Content       string   `json:"content"`
	Images        []string `json:"images,omitempty"`
	Likes         []string `json:"likes,omitempty"`
	LikesCount    int      `json:"likesCount"`
	CommentsCount int      `json:"commentsCount"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

type PostPage struct {
	Posts      []Post `json:"posts"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	Total      int    `json:"total"`
}

type PostResult struct {
	Message string `json:"message"`
	Post    Post   `json:"post"`
}

type LikeResult struct {
	Message    string `json:"message"`
	Liked      bool   `json:"liked"`
	LikesCount int    `json:"likesCount"`
}

type Comment struct {
	ID           string  `json:"_id"`
	PostID       string  `json:"post"`
	Author       UserRef `json:"author"`
	Content      string  `json:"content"`
	ParentID     *string `json:"parentComment,omitempty"`
	LikesCount   int     `json:"likesCount"`
	RepliesCount int     `json:"repliesCount"`
	CreatedAt    string  `json:"createdAt"`
}

type CommentPage struct {
	Comments   []Comment `json:"comments"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Total      int       `json:"total"`
}

// ============================================================================
// Friend Types
// ============================================================================

type Friend struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	FriendAt string `json:"friendAt,omitempty"`
}

type FriendRequest struct {
	ID        string  `json:"_id"`
	Sender    UserRef `json:"sender"`
	Receiver  UserRef `json:"receiver"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
}

type FriendStatus struct {
	Status    string `json:"status"` // "none", "pending", "received", "friends"
	RequestID string `json:"requestId,omitempty"`
}

// ============================================================================
// Message / Conversation Types
// ============================================================================

type Message struct {
	ID             string  `json:"_id"`
	ConversationID string  `json:"conversationId"`
	Sender         UserRef `json:"sender"`
	Content        string  `json:"content"`
	Type           string  `json:"type"` // "text" or "image"
	MediaURL       string  `json:"mediaUrl,omitempty"`
	IsRead         bool    `json:"isRead"`
	CreatedAt      string  `json:"createdAt"`
}

// Conversation is the server-side conversation record.
type Conversation struct {
	ID              string   `json:"_id"`
	Participant     *UserRef `json:"participant,omitempty"`
	LastMessage     string   `json:"lastMessage,omitempty"`
	LastMessageTime string   `json:"lastMessageTime,omitempty"`
	UnreadCount     int      `json:"unreadCount"`
}

type SendMessageOptions struct {
	Type     string `json:"type,omitempty"` // defaults to "text"
	MediaURL string `json:"mediaUrl,omitempty"`
}

type UnreadCountResult struct {
	UnreadCount int `json:"unreadCount"`
}

// ============================================================================
// Notification Types
// ============================================================================

// Notification mirrors the API notification record. Type is a tag such as
// "friend_request", "friend_accept", "like", "comment" or "message".
type Notification struct {
	ID        string  `json:"_id"`
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Sender    UserRef `json:"sender"`
	IsRead    bool    `json:"isRead"`
	CreatedAt string  `json:"createdAt"`
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	HasMore       bool           `json:"hasMore"`
}

// ============================================================================
// Profile Types
// ============================================================================

type Profile struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Avatar     string `json:"avatar,omitempty"`
	CoverPhoto string `json:"coverPhoto,omitempty"`
	Bio        string `json:"bio,omitempty"`
	Location   string `json:"location,omitempty"`
	Website    string `json:"website,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

type UpdateProfileOptions struct {
	Name     string `json:"name,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Location string `json:"location,omitempty"`
	Website  string `json:"website,omitempty"`
}

type UploadResult struct {
	Avatar     string   `json:"avatar,omitempty"`
	CoverPhoto string   `json:"coverPhoto,omitempty"`
	User       *Profile `json:"user,omitempty"`
}

// ============================================================================
// Call Signaling Types
// ============================================================================

// CallGrant is returned by POST /api/calls/initiate: the media channel plus
// the credential needed to join it. Token may be empty in degraded/test mode.
type CallGrant struct {
	Token       string `json:"token"`
	AppID       string `json:"appId"`
	ChannelName string `json:"channelName"`
	UID         int    `json:"uid"`
}

type InitiateCallOptions struct {
	ReceiverID   string `json:"receiverId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	CallType     string `json:"callType"` // "video" or "audio"
}

type AcceptCallOptions struct {
	CallerID    string `json:"callerId"`
	ChannelName string `json:"channelName"`
	UserName    string `json:"userName"`
	UserAvatar  string `json:"userAvatar,omitempty"`
}

// ============================================================================
// Push Event Payloads (server → client)
// ============================================================================

// Envelope is the wire format for all push-channel events: a tagged union
// validated at the channel boundary before dispatch.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NotificationPayload is pushed for the "notification" event.
type NotificationPayload struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// NewMessagePayload is pushed for the "new_message" event.
type NewMessagePayload struct {
	Message        Message `json:"message"`
	ConversationID string  `json:"conversationId"`
}

// IncomingCallPayload is pushed to the callee for the "call_incoming" event.
type IncomingCallPayload struct {
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar,omitempty"`
	ChannelName  string `json:"channelName"`
	Token        string `json:"token"`
	AppID        string `json:"appId"`
	CallType     string `json:"callType"`
}

// CallAcceptedPayload is pushed to the caller for the "call_accepted" event.
type CallAcceptedPayload struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	UserAvatar  string `json:"userAvatar,omitempty"`
	ChannelName string `json:"channelName"`
}

// CallRejectedPayload is pushed to the caller for the "call_rejected" event.
type CallRejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// CallEndedPayload is pushed to the surviving peer for the "call_ended" event.
type CallEndedPayload struct{}
