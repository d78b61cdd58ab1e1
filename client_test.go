package hala

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientAuthHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Profile{ID: "u1", Name: "Lan"})
	}))
	defer server.Close()

	client := NewClient("tok-1", WithBaseURL(server.URL))
	profile, err := client.Users.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-1")
	}
	if profile.Name != "Lan" {
		t.Errorf("profile.Name = %q, want %q", profile.Name, "Lan")
	}
}

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"message": "Post not found"})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))
	_, err := client.Posts.Get(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", apiErr.Status)
	}
	if apiErr.Message != "Post not found" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "Post not found")
	}
}

func TestTokenRefresh(t *testing.T) {
	t.Run("401 triggers refresh and retry", func(t *testing.T) {
		var refreshCalls int32
		mux := http.NewServeMux()
		mux.HandleFunc("/api/users/profile", func(w http.ResponseWriter, r *http.Request) {
			switch r.Header.Get("Authorization") {
			case "Bearer fresh":
				json.NewEncoder(w).Encode(Profile{ID: "u1", Name: "Lan"})
			default:
				w.WriteHeader(http.StatusUnauthorized)
			}
		})
		mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&refreshCalls, 1)
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["refreshToken"] != "refresh-1" {
				t.Errorf("refreshToken = %q, want %q", body["refreshToken"], "refresh-1")
			}
			json.NewEncoder(w).Encode(RefreshResult{AccessToken: "fresh"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient("stale", WithBaseURL(server.URL))
		client.SetTokens("stale", "refresh-1")

		rotated := make(chan string, 1)
		client.OnTokenRotated(func(tok string) { rotated <- tok })

		profile, err := client.Users.Profile(context.Background())
		if err != nil {
			t.Fatalf("Profile() error: %v", err)
		}
		if profile.ID != "u1" {
			t.Errorf("profile.ID = %q, want %q", profile.ID, "u1")
		}
		if n := atomic.LoadInt32(&refreshCalls); n != 1 {
			t.Errorf("refresh calls = %d, want 1", n)
		}
		if got := client.AccessToken(); got != "fresh" {
			t.Errorf("AccessToken() = %q, want %q", got, "fresh")
		}
		select {
		case tok := <-rotated:
			if tok != "fresh" {
				t.Errorf("rotation hook got %q, want %q", tok, "fresh")
			}
		case <-time.After(2 * time.Second):
			t.Error("rotation hook never fired")
		}
	})

	t.Run("refresh rejection yields ErrSessionExpired", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/users/profile", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient("stale", WithBaseURL(server.URL))
		client.SetTokens("stale", "refresh-1")

		_, err := client.Users.Profile(context.Background())
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("err = %v, want ErrSessionExpired", err)
		}
		if client.AccessToken() != "" {
			t.Error("tokens should be cleared after failed refresh")
		}
	})

	t.Run("no refresh token yields ErrSessionExpired", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		client := NewClient("stale", WithBaseURL(server.URL))
		_, err := client.Users.Profile(context.Background())
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("err = %v, want ErrSessionExpired", err)
		}
	})

	t.Run("auth endpoints never trigger refresh", func(t *testing.T) {
		var refreshCalls int32
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "Invalid credentials"})
		})
		mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&refreshCalls, 1)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		client := NewClient("tok", WithBaseURL(server.URL))
		client.SetTokens("tok", "refresh-1")
		_, err := client.Auth.Login(context.Background(), &LoginOptions{Email: "a@b.c", Password: "x"})
		if err == nil {
			t.Fatal("expected error")
		}
		if n := atomic.LoadInt32(&refreshCalls); n != 0 {
			t.Errorf("refresh calls = %d, want 0", n)
		}
	})
}

func TestCallSignalingEndpoints(t *testing.T) {
	type recorded struct {
		method, path, query string
		auth                string
		body                map[string]any
	}
	var reqs []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		json.NewDecoder(r.Body).Decode(&rec.body)
		reqs = append(reqs, rec)
		if r.URL.Path == "/api/calls/initiate" {
			json.NewEncoder(w).Encode(CallGrant{Token: "media-tok", AppID: "app", ChannelName: "chan-1", UID: 7})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))
	ctx := context.Background()

	grant, err := client.Calls.Initiate(ctx, &InitiateCallOptions{ReceiverID: "peer", CallerName: "Lan", CallType: "video"})
	if err != nil {
		t.Fatalf("Initiate() error: %v", err)
	}
	if grant.ChannelName != "chan-1" || grant.Token != "media-tok" {
		t.Errorf("grant = %+v", grant)
	}
	if err := client.Calls.Accept(ctx, &AcceptCallOptions{CallerID: "peer", ChannelName: "chan-1", UserName: "Minh"}); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if err := client.Calls.Reject(ctx, "peer", "busy"); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if err := client.Calls.End(ctx, "peer"); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	client.Calls.EndBeacon("peer")

	if len(reqs) != 5 {
		t.Fatalf("got %d requests, want 5", len(reqs))
	}
	if reqs[0].path != "/api/calls/initiate" || reqs[0].body["receiverId"] != "peer" {
		t.Errorf("initiate request = %+v", reqs[0])
	}
	if reqs[1].path != "/api/calls/accept" || reqs[1].body["callerId"] != "peer" {
		t.Errorf("accept request = %+v", reqs[1])
	}
	if reqs[2].path != "/api/calls/reject" || reqs[2].body["reason"] != "busy" {
		t.Errorf("reject request = %+v", reqs[2])
	}
	if reqs[3].path != "/api/calls/end" || reqs[3].body["otherId"] != "peer" {
		t.Errorf("end request = %+v", reqs[3])
	}

	// The beacon variant authenticates through the query string, not a header.
	beacon := reqs[4]
	if beacon.path != "/api/calls/end" {
		t.Errorf("beacon path = %q", beacon.path)
	}
	if beacon.auth != "" {
		t.Errorf("beacon carried Authorization header %q", beacon.auth)
	}
	if !strings.Contains(beacon.query, "token=tok") {
		t.Errorf("beacon query = %q, want token parameter", beacon.query)
	}
	if beacon.body["otherId"] != "peer" {
		t.Errorf("beacon body = %+v", beacon.body)
	}
}

func TestLogoutClearsTokensEvenOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURL(server.URL))
	client.SetTokens("tok", "refresh")
	_ = client.Auth.Logout(context.Background())
	if client.AccessToken() != "" {
		t.Error("access token survived logout")
	}
}

func TestTokenExpiry(t *testing.T) {
	client := NewClient("")
	if !client.TokenExpiry().IsZero() {
		t.Error("expected zero expiry for empty token")
	}
	// Unsigned token with exp=4102444800 (2100-01-01).
	client.SetTokens(
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJleHAiOjQxMDI0NDQ4MDB9.x",
		"r",
	)
	exp := client.TokenExpiry()
	if exp.Unix() != 4102444800 {
		t.Errorf("expiry = %v, want 2100-01-01T00:00:00Z", exp)
	}
}
