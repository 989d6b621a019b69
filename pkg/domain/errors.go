package domain

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound   = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired    = NewErr("PASTE_EXPIRED", "paste has expired", http.StatusGone)
	ErrPasteTooLarge   = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrContentRequired = NewErr("CONTENT_REQUIRED", "content required", http.StatusBadRequest)
	ErrInvalidTTL      = NewErr("INVALID_TTL", "invalid expiration", http.StatusBadRequest)
	ErrTitleTooLong    = NewErr("TITLE_TOO_LONG", "title cannot exceed 200 characters", http.StatusBadRequest)
	ErrLanguageTooLong = NewErr("LANGUAGE_TOO_LONG", "language cannot exceed 50 characters", http.StatusBadRequest)
	ErrInvalidRequest  = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrPoolExhausted   = NewErr("POOL_EXHAUSTED", "no token available, retry later", http.StatusServiceUnavailable)
	ErrStorage         = NewErr("STORAGE_ERROR", "storage failure", http.StatusInternalServerError)
	ErrInternalServer  = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
	ErrServiceShutdown = NewErr("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// ExpiredError is returned when a paste existed but passed its expiry.
type ExpiredError struct {
	Token     string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("paste %s expired at %s", e.Token, e.ExpiredAt.Format(time.RFC3339))
}
func (e *ExpiredError) Is(target error) bool { return target == ErrPasteExpired }

// StorageError wraps a failed required write or read against a durable store.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}
func (e *StorageError) Unwrap() error        { return e.Err }
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func ToResp(err error) ErrResp {
	var expired *ExpiredError
	if errors.As(err, &expired) {
		return ErrResp{Error: ErrDetail{
			Code: ErrPasteExpired.Code,
			Msg:  ErrPasteExpired.Msg,
			Meta: map[string]interface{}{
				"token":      expired.Token,
				"expired_at": expired.ExpiredAt,
			},
		}}
	}
	if e := classify(err); e != nil {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: ErrInternalServer.Code, Msg: ErrInternalServer.Msg}}
}
func Status(err error) int {
	if e := classify(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}

func classify(err error) *Err {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrPasteExpired):
		return ErrPasteExpired
	case errors.Is(err, ErrStorage):
		return ErrStorage
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	return nil
}
