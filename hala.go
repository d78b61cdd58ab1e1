// Package hala provides the Go client for the Hala social network API.
//
// Covers the REST gateway (posts, comments, friends, messages, notifications,
// profile, call signaling) plus the realtime session layer: the persistent
// push channel and the call-signaling state machine built on top of it.
//
// Example:
//
//	client := hala.NewClient("", hala.WithBaseURL("https://api.hala.example"))
//	res, _ := client.Auth.Login(ctx, &hala.LoginOptions{Email: email, Password: pw})
//	client.SetTokens(res.AccessToken, res.RefreshToken)
//
//	sess, _ := hala.NewSession(client, nil)
//	sess.Start(ctx)
//	defer sess.Close()
package hala

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 30 * time.Second
)

// ErrSessionExpired is returned when the access token is rejected and the
// refresh token cannot produce a new one. It is the only error class that
// requires the user to authenticate again.
var ErrSessionExpired = fmt.Errorf("hala: session expired, re-authentication required")

// ============================================================================
// Client
// ============================================================================

// Client is the Hala REST client. Token rotation is handled transparently:
// a 401 triggers a single-flight refresh followed by one retry, and every
// rotation is reported through the OnTokenRotated hook so the push channel
// can reconnect with the fresh token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onRotate     []func(accessToken string)

	refreshMu sync.Mutex

	Auth          *AuthClient
	Posts         *PostsClient
	Comments      *CommentsClient
	Friends       *FriendsClient
	Messages      *MessagesClient
	Notifications *NotificationsClient
	Users         *UsersClient
	Calls         *CallsClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Hala client.
// accessToken is optional — pass "" for the logged-out state.
func NewClient(accessToken string, opts ...ClientOption) *Client {
	c := &Client{
		accessToken: accessToken,
		baseURL:     DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.New(discardHandler{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Posts = &PostsClient{client: c}
	c.Comments = &CommentsClient{client: c}
	c.Friends = &FriendsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Notifications = &NotificationsClient{client: c}
	c.Users = &UsersClient{client: c}
	c.Calls = &CallsClient{client: c}
	return c
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTokens stores the token pair obtained from login or registration.
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
	c.mu.Unlock()
}

// AccessToken returns the current access token ("" when logged out).
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// ClearTokens drops both tokens, returning the client to the logged-out state.
func (c *Client) ClearTokens() {
	c.mu.Lock()
	c.accessToken = ""
	c.refreshToken = ""
	c.mu.Unlock()
}

// OnTokenRotated registers a hook invoked with the new access token after a
// successful refresh. The realtime layer uses it to reconnect the push
// channel so that no stale-token connection persists.
func (c *Client) OnTokenRotated(h func(accessToken string)) {
	c.mu.Lock()
	c.onRotate = append(c.onRotate, h)
	c.mu.Unlock()
}

// TokenExpiry reports the access token's expiry claim without verifying the
// signature (the client is not the token's audience validator). Returns the
// zero time when no token is set or the token carries no exp claim.
func (c *Client) TokenExpiry() time.Time {
	tok := c.AccessToken()
	if tok == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	token := c.AccessToken()
	data, status, err := c.doOnce(ctx, method, path, body, query, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && token != "" && !strings.HasPrefix(path, "/auth/") {
		fresh, rerr := c.refreshAccessToken(ctx, token)
		if rerr != nil {
			return nil, rerr
		}
		data, status, err = c.doOnce(ctx, method, path, body, query, fresh)
		if err != nil {
			return nil, err
		}
	}
	if status >= 300 {
		return nil, apiErrorFrom(status, data)
	}
	return data, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, query map[string]string, token string) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

// refreshAccessToken performs the single-flight refresh-then-retry-once
// dance. staleToken is the token that just got a 401; if another caller
// already rotated past it, the current token is returned without a second
// refresh round-trip.
func (c *Client) refreshAccessToken(ctx context.Context, staleToken string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	current := c.accessToken
	refresh := c.refreshToken
	c.mu.Unlock()

	if current != staleToken && current != "" {
		return current, nil
	}
	if refresh == "" {
		c.ClearTokens()
		return "", ErrSessionExpired
	}

	data, status, err := c.doOnce(ctx, http.MethodPost, "/auth/refresh-token",
		map[string]string{"refreshToken": refresh}, nil, "")
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	if status >= 300 {
		c.ClearTokens()
		c.logger.Warn("token refresh rejected", "status", status)
		return "", ErrSessionExpired
	}

	var result RefreshResult
	if err := json.Unmarshal(data, &result); err != nil || result.AccessToken == "" {
		c.ClearTokens()
		return "", ErrSessionExpired
	}

	c.mu.Lock()
	c.accessToken = result.AccessToken
	hooks := append([]func(string){}, c.onRotate...)
	c.mu.Unlock()

	c.logger.Debug("access token rotated")
	for _, h := range hooks {
		go h(result.AccessToken)
	}
	return result.AccessToken, nil
}

func apiErrorFrom(status int, data []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	if len(data) > 0 {
		var parsed APIError
		if json.Unmarshal(data, &parsed) == nil && parsed.Message != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
	}
	return apiErr
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// discardHandler is the default slog handler: the SDK stays silent unless a
// logger is injected.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles registration, login and token lifecycle.
type AuthClient struct{ client *Client }

func (a *AuthClient) Register(ctx context.Context, opts *RegisterOptions) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/auth/register", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) VerifyOTP(ctx context.Context, email, otp string) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/auth/verify-otp", map[string]string{"email": email, "otp": otp}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) ResendOTP(ctx context.Context, email string) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/auth/resend-otp", map[string]string{"email": email}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

func (a *AuthClient) Login(ctx context.Context, opts *LoginOptions) (*AuthResult, error) {
	data, err := a.client.doRequest(ctx, "POST", "/auth/login", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

// Logout invalidates the refresh token server-side and clears both tokens
// locally regardless of the server's answer.
func (a *AuthClient) Logout(ctx context.Context) error {
	a.client.mu.Lock()
	refresh := a.client.refreshToken
	a.client.mu.Unlock()

	var err error
	if refresh != "" {
		_, err = a.client.doRequest(ctx, "POST", "/auth/logout", map[string]string{"refreshToken": refresh}, nil)
	}
	a.client.ClearTokens()
	return err
}

func (a *AuthClient) ForgotPassword(ctx context.Context, email string) error {
	_, err := a.client.doRequest(ctx, "POST", "/auth/forgot-password", map[string]string{"email": email}, nil)
	return err
}

func (a *AuthClient) VerifyResetOTP(ctx context.Context, email, otp string) error {
	_, err := a.client.doRequest(ctx, "POST", "/auth/verify-reset-otp", map[string]string{"email": email, "otp": otp}, nil)
	return err
}

func (a *AuthClient) ResetPassword(ctx context.Context, email, otp, newPassword string) error {
	_, err := a.client.doRequest(ctx, "POST", "/auth/reset-password", map[string]string{
		"email": email, "otp": otp, "newPassword": newPassword,
	}, nil)
	return err
}

// ============================================================================
// Posts
// ============================================================================

// PostsClient handles the feed.
type PostsClient struct{ client *Client }

func (p *PostsClient) Create(ctx context.Context, content string) (*PostResult, error) {
	data, err := p.client.doRequest(ctx, "POST", "/api/posts", map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[PostResult](data)
}

func (p *PostsClient) List(ctx context.Context, page, limit int) (*PostPage, error) {
	data, err := p.client.doRequest(ctx, "GET", "/api/posts", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[PostPage](data)
}

func (p *PostsClient) Get(ctx context.Context, postID string) (*Post, error) {
	data, err := p.client.doRequest(ctx, "GET", "/api/posts/"+postID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Post](data)
}

func (p *PostsClient) ListByUser(ctx context.Context, userID string, page, limit int) (*PostPage, error) {
	data, err := p.client.doRequest(ctx, "GET", "/api/posts/user/"+userID, nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[PostPage](data)
}

func (p *PostsClient) Update(ctx context.Context, postID, content string) (*PostResult, error) {
	data, err := p.client.doRequest(ctx, "PUT", "/api/posts/"+postID, map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[PostResult](data)
}

func (p *PostsClient) Delete(ctx context.Context, postID string) error {
	_, err := p.client.doRequest(ctx, "DELETE", "/api/posts/"+postID, nil, nil)
	return err
}

func (p *PostsClient) Like(ctx context.Context, postID string) (*LikeResult, error) {
	data, err := p.client.doRequest(ctx, "POST", "/api/posts/"+postID+"/like", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[LikeResult](data)
}

// ============================================================================
// Comments
// ============================================================================

// CommentsClient handles post comments and replies.
type CommentsClient struct{ client *Client }

func (cm *CommentsClient) Create(ctx context.Context, postID, content string, parentID string) (*Comment, error) {
	body := map[string]string{"content": content}
	if parentID != "" {
		body["parentComment"] = parentID
	}
	data, err := cm.client.doRequest(ctx, "POST", "/api/comments/post/"+postID, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Comment](data)
}

func (cm *CommentsClient) ListByPost(ctx context.Context, postID string, page, limit int) (*CommentPage, error) {
	data, err := cm.client.doRequest(ctx, "GET", "/api/comments/post/"+postID, nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[CommentPage](data)
}

func (cm *CommentsClient) Replies(ctx context.Context, commentID string, page, limit int) (*CommentPage, error) {
	data, err := cm.client.doRequest(ctx, "GET", "/api/comments/"+commentID+"/replies", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[CommentPage](data)
}

func (cm *CommentsClient) Like(ctx context.Context, commentID string) (*LikeResult, error) {
	data, err := cm.client.doRequest(ctx, "POST", "/api/comments/"+commentID+"/like", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[LikeResult](data)
}

func (cm *CommentsClient) Delete(ctx context.Context, commentID string) error {
	_, err := cm.client.doRequest(ctx, "DELETE", "/api/comments/"+commentID, nil, nil)
	return err
}

// ============================================================================
// Friends
// ============================================================================

// FriendsClient handles the friend-request lifecycle.
type FriendsClient struct{ client *Client }

func (f *FriendsClient) List(ctx context.Context) ([]Friend, error) {
	data, err := f.client.doRequest(ctx, "GET", "/api/friends", nil, nil)
	if err != nil {
		return nil, err
	}
	var friends []Friend
	if err := json.Unmarshal(data, &friends); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return friends, nil
}

func (f *FriendsClient) Requests(ctx context.Context) ([]FriendRequest, error) {
	data, err := f.client.doRequest(ctx, "GET", "/api/friends/requests", nil, nil)
	if err != nil {
		return nil, err
	}
	var reqs []FriendRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return reqs, nil
}

func (f *FriendsClient) Suggestions(ctx context.Context) ([]UserRef, error) {
	data, err := f.client.doRequest(ctx, "GET", "/api/friends/suggestions", nil, nil)
	if err != nil {
		return nil, err
	}
	var users []UserRef
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return users, nil
}

func (f *FriendsClient) SendRequest(ctx context.Context, receiverID string) error {
	_, err := f.client.doRequest(ctx, "POST", "/api/friends/request", map[string]string{"receiverId": receiverID}, nil)
	return err
}

func (f *FriendsClient) AcceptRequest(ctx context.Context, requestID string) error {
	_, err := f.client.doRequest(ctx, "POST", "/api/friends/request/accept", map[string]string{"requestId": requestID}, nil)
	return err
}

func (f *FriendsClient) RejectRequest(ctx context.Context, requestID string) error {
	_, err := f.client.doRequest(ctx, "POST", "/api/friends/request/reject", map[string]string{"requestId": requestID}, nil)
	return err
}

func (f *FriendsClient) CancelRequest(ctx context.Context, requestID string) error {
	_, err := f.client.doRequest(ctx, "DELETE", "/api/friends/request/"+requestID, nil, nil)
	return err
}

func (f *FriendsClient) Unfriend(ctx context.Context, friendID string) error {
	_, err := f.client.doRequest(ctx, "DELETE", "/api/friends/"+friendID, nil, nil)
	return err
}

func (f *FriendsClient) Search(ctx context.Context, email string) ([]UserRef, error) {
	data, err := f.client.doRequest(ctx, "POST", "/api/friends/search", map[string]string{"email": email}, nil)
	if err != nil {
		return nil, err
	}
	var users []UserRef
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return users, nil
}

func (f *FriendsClient) Status(ctx context.Context, targetUserID string) (*FriendStatus, error) {
	data, err := f.client.doRequest(ctx, "GET", "/api/friends/status/"+targetUserID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[FriendStatus](data)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles conversations and chat messages.
type MessagesClient struct{ client *Client }

func (m *MessagesClient) Conversations(ctx context.Context) ([]Conversation, error) {
	data, err := m.client.doRequest(ctx, "GET", "/api/messages/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convs, nil
}

func (m *MessagesClient) List(ctx context.Context, conversationID string, page, limit int) ([]Message, error) {
	data, err := m.client.doRequest(ctx, "GET", "/api/messages/"+conversationID, nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}

func (m *MessagesClient) Send(ctx context.Context, conversationID, content string, opts *SendMessageOptions) (*Message, error) {
	body := map[string]string{
		"conversationId": conversationID,
		"content":        content,
		"type":           "text",
	}
	if opts != nil {
		if opts.Type != "" {
			body["type"] = opts.Type
		}
		if opts.MediaURL != "" {
			body["mediaUrl"] = opts.MediaURL
		}
	}
	data, err := m.client.doRequest(ctx, "POST", "/api/messages/send", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

func (m *MessagesClient) GetOrCreateConversation(ctx context.Context, participantID string) (*Conversation, error) {
	data, err := m.client.doRequest(ctx, "POST", "/api/messages/conversation", map[string]string{"participantId": participantID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

func (m *MessagesClient) MarkAsRead(ctx context.Context, conversationID string) error {
	_, err := m.client.doRequest(ctx, "PUT", "/api/messages/"+conversationID+"/read", nil, nil)
	return err
}

func (m *MessagesClient) Delete(ctx context.Context, messageID string) error {
	_, err := m.client.doRequest(ctx, "DELETE", "/api/messages/"+messageID, nil, nil)
	return err
}

func (m *MessagesClient) UnreadCount(ctx context.Context) (int, error) {
	data, err := m.client.doRequest(ctx, "GET", "/api/messages/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	result, err := decodeJSON[UnreadCountResult](data)
	if err != nil {
		return 0, err
	}
	return result.UnreadCount, nil
}

// ============================================================================
// Notifications
// ============================================================================

// NotificationsClient handles the notification inbox on the server side.
type NotificationsClient struct{ client *Client }

func (n *NotificationsClient) List(ctx context.Context, limit, skip int) (*NotificationPage, error) {
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = fmt.Sprintf("%d", limit)
	}
	if skip > 0 {
		query["skip"] = fmt.Sprintf("%d", skip)
	}
	if len(query) == 0 {
		query = nil
	}
	data, err := n.client.doRequest(ctx, "GET", "/api/notifications", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[NotificationPage](data)
}

func (n *NotificationsClient) UnreadCount(ctx context.Context) (int, error) {
	data, err := n.client.doRequest(ctx, "GET", "/api/notifications/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	result, err := decodeJSON[UnreadCountResult](data)
	if err != nil {
		return 0, err
	}
	return result.UnreadCount, nil
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	_, err := n.client.doRequest(ctx, "POST", "/api/notifications/mark-read", map[string]string{"notificationId": notificationID}, nil)
	return err
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.client.doRequest(ctx, "POST", "/api/notifications/mark-all-read", nil, nil)
	return err
}

func (n *NotificationsClient) Delete(ctx context.Context, notificationID string) error {
	_, err := n.client.doRequest(ctx, "DELETE", "/api/notifications/"+notificationID, nil, nil)
	return err
}

func (n *NotificationsClient) DeleteAll(ctx context.Context) error {
	_, err := n.client.doRequest(ctx, "DELETE", "/api/notifications", nil, nil)
	return err
}

// ============================================================================
// Users (profile)
// ============================================================================

// UsersClient handles the authenticated user's profile.
type UsersClient struct{ client *Client }

func (u *UsersClient) Profile(ctx context.Context) (*Profile, error) {
	data, err := u.client.doRequest(ctx, "GET", "/api/users/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Profile](data)
}

func (u *UsersClient) UpdateProfile(ctx context.Context, opts *UpdateProfileOptions) (*Profile, error) {
	data, err := u.client.doRequest(ctx, "PUT", "/api/users/profile", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Profile](data)
}

// UploadAvatar uploads avatar image bytes as a multipart form.
func (u *UsersClient) UploadAvatar(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	return u.uploadMedia(ctx, "/api/users/upload-avatar", "avatar", fileName, data)
}

// UploadCoverPhoto uploads cover image bytes as a multipart form.
func (u *UsersClient) UploadCoverPhoto(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	return u.uploadMedia(ctx, "/api/users/upload-cover", "coverPhoto", fileName, data)
}

func (u *UsersClient) uploadMedia(ctx context.Context, path, field, fileName string, data []byte) (*UploadResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(field, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", u.client.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if tok := u.client.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := u.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apiErrorFrom(resp.StatusCode, body)
	}
	return decodeJSON[UploadResult](body)
}

// ============================================================================
// Calls (signaling REST)
// ============================================================================

// CallsClient carries the four signaling calls that mirror the push-channel
// call events for the peer that is not currently connected to the channel.
type CallsClient struct{ client *Client }

// Initiate asks the server for a media channel + credential and notifies the
// receiver through their push channel.
func (cc *CallsClient) Initiate(ctx context.Context, opts *InitiateCallOptions) (*CallGrant, error) {
	data, err := cc.client.doRequest(ctx, "POST", "/api/calls/initiate", opts, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[CallGrant](data)
}

func (cc *CallsClient) Accept(ctx context.Context, opts *AcceptCallOptions) error {
	_, err := cc.client.doRequest(ctx, "POST", "/api/calls/accept", opts, nil)
	return err
}

func (cc *CallsClient) Reject(ctx context.Context, callerID, reason string) error {
	body := map[string]string{"callerId": callerID}
	if reason != "" {
		body["reason"] = reason
	}
	_, err := cc.client.doRequest(ctx, "POST", "/api/calls/reject", body, nil)
	return err
}

func (cc *CallsClient) End(ctx context.Context, otherID string) error {
	_, err := cc.client.doRequest(ctx, "POST", "/api/calls/end", map[string]string{"otherId": otherID}, nil)
	return err
}

// EndBeacon fires the unload-time variant of End: auth travels as a query
// parameter because custom headers cannot be attached to unload-time
// delivery, the response is ignored, and any error is swallowed. Safe to call
// from teardown paths that cannot wait.
func (cc *CallsClient) EndBeacon(otherID string) {
	tok := cc.client.AccessToken()
	if tok == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	body := bytes.NewReader([]byte(fmt.Sprintf(`{"otherId":%q}`, otherID)))
	u := cc.client.baseURL + "/api/calls/end?token=" + url.QueryEscape(tok)
	req, err := http.NewRequestWithContext(ctx, "POST", u, body)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := cc.client.httpClient.Do(req)
	if err != nil {
		cc.client.logger.Debug("end-call beacon failed", "error", err)
		return
	}
	resp.Body.Close()
}

// ============================================================================
// Helpers
// ============================================================================

func pageQuery(page, limit int) map[string]string {
	q := map[string]string{}
	if page > 0 {
		q["page"] = fmt.Sprintf("%d", page)
	}
	if limit > 0 {
		q["limit"] = fmt.Sprintf("%d", limit)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}
