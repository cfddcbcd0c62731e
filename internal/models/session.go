// Package models defines the domain models shared by the services, the
// backend client and the HTTP handlers: credential sessions, the three-part
// questionnaire and analysis results.
//
// Sensitive fields are marked with `json:"-"` to keep them out of API
// responses and logs.
package models

import "time"

// Session is a fully populated credential session. A session is either
// absent or carries every token; partial sessions are never handed out.
//
// Example (internal representation):
//
//	Session{
//	  Username:     "a@b.com",
//	  UserID:       "6f1c2b4e-...",
//	  DisplayName:  "Alice",
//	  IDToken:      "eyJhbGciOiJIUzI1NiIs...",
//	  Device:       "Chrome 120.0 · Android 14 · Mobile",
//	  ExpiresAt:    time.Now().Add(time.Hour),
//	}
type Session struct {
	Username     string    `json:"username"`               // Sign-in identifier (email)
	UserID       string    `json:"user_id"`                // Subject claim of the identity token
	DisplayName  string    `json:"display_name,omitempty"` // Optional profile name
	AccessToken  string    `json:"-"`
	IDToken      string    `json:"-"`
	RefreshToken string    `json:"-"`
	Device       string    `json:"device,omitempty"` // Friendly User-Agent summary
	ExpiresAt    time.Time `json:"expires_at"`       // Identity token expiry
}

// Complete reports whether every required field is present.
func (s *Session) Complete() bool {
	return s != nil &&
		s.Username != "" &&
		s.UserID != "" &&
		s.AccessToken != "" &&
		s.IDToken != "" &&
		s.RefreshToken != ""
}

// Info returns the public view of the session.
func (s *Session) Info() *SessionInfo {
	return &SessionInfo{
		Username:    s.Username,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Device:      s.Device,
		ExpiresAt:   s.ExpiresAt,
	}
}

// SessionInfo is the sanitized session returned by the API.
//
// JSON example:
//
//	{
//	  "username": "a@b.com",
//	  "user_id": "6f1c2b4e-...",
//	  "display_name": "Alice",
//	  "device": "Safari 17.0 · iOS 17.1 · Mobile",
//	  "expires_at": "2024-01-27T14:45:00Z"
//	}
type SessionInfo struct {
	Username    string    `json:"username"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Device      string    `json:"device,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenBundle carries tokens obtained through an external redirect flow.
type TokenBundle struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
