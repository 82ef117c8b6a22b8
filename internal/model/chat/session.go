package chat

import (
	"strconv"
	"time"
)

// Session is a persisted conversation container owned by one identity.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// NewSessionID derives the opaque session id from its creation time in milliseconds.
func NewSessionID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// Identity is the signed-in user as reported by the identity provider.
type Identity struct {
	UserID      string `json:"uid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoURL"`
}

// Profile is the cached, displayable part of an Identity.
type Profile struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	PhotoURL    string `json:"photoURL"`
}

// Profile returns the subset of the identity cached in local state.
func (i Identity) Profile() Profile {
	return Profile{
		DisplayName: i.DisplayName,
		Email:       i.Email,
		PhotoURL:    i.PhotoURL,
	}
}

// Anonymous reports whether no user is signed in.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}
