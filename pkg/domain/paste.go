package domain

import (
	"time"
)

type Paste struct {
	ID               string    `json:"id" msgpack:"id"`
	Token            string    `json:"token" msgpack:"token"`
	ContentSizeBytes int64     `json:"content_size_bytes" msgpack:"size"`
	CreatedAt        time.Time `json:"created_at" msgpack:"created_at"`
	ExpiresAt        time.Time `json:"expires_at" msgpack:"expires_at"`
	ViewCount        int64     `json:"view_count" msgpack:"views"`
	Title            string    `json:"title,omitempty" msgpack:"title,omitempty"`
	Language         string    `json:"language,omitempty" msgpack:"lang,omitempty"`
}

// IsExpired reports whether the paste is past its expiry at now.
// A paste expiring exactly at now is still live.
func (p *Paste) IsExpired(now time.Time) bool {
	return p.ExpiresAt.Before(now)
}

// Remaining is the time left until expiry, clamped at zero.
func (p *Paste) Remaining(now time.Time) time.Duration {
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// PasteView is a paste together with its content body.
type PasteView struct {
	Paste
	Content          string `json:"content"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	IsExpired        bool   `json:"is_expired"`
}

type CreateParams struct {
	Content  string
	TTL      time.Duration
	Language string
	Title    string
}

type CreateResult struct {
	Token            string    `json:"token"`
	URL              string    `json:"url"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

// PasteUpdate holds the mutable fields of a paste; nil fields are left untouched.
type PasteUpdate struct {
	ViewCount *int64
	Title     *string
	Language  *string
}

func (u PasteUpdate) Empty() bool {
	return u.ViewCount == nil && u.Title == nil && u.Language == nil
}

// ExpiryCursor marks the last paste seen while paging expired records in
// (expires_at, id) order. The zero value starts from the oldest record.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

func (c ExpiryCursor) IsZero() bool { return c.ID == "" && c.ExpiresAt.IsZero() }

// After reports whether p sorts strictly after the cursor.
func (c ExpiryCursor) After(p *Paste) bool {
	if c.IsZero() {
		return true
	}
	if !p.ExpiresAt.Equal(c.ExpiresAt) {
		return p.ExpiresAt.After(c.ExpiresAt)
	}
	return p.ID > c.ID
}

// CursorAt returns the cursor positioned on p.
func CursorAt(p *Paste) ExpiryCursor {
	return ExpiryCursor{ExpiresAt: p.ExpiresAt, ID: p.ID}
}
