package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNameTaken      = "name_taken"
	ErrCodeInvalidName    = "invalid_name"
	ErrCodeRoomNotFound   = "room_not_found"
	ErrCodeInvalidRoom    = "invalid_room"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeSelfPair       = "self_pair"
	ErrCodeNoPartner      = "no_partner"
	ErrCodePartnerOffline = "partner_offline"
	ErrCodeInvalidOption  = "invalid_option"
)

var (
	ErrNameTaken      = errors.New("name already taken")
	ErrInvalidName    = errors.New("invalid name")
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidRoom    = errors.New("invalid room id")
	ErrUnavailable    = errors.New("user unavailable")
	ErrSelfPair       = errors.New("cannot pair with yourself")
	ErrNoPartner      = errors.New("no private chat partner")
	ErrPartnerOffline = errors.New("partner offline")
	ErrInvalidOption  = errors.New("invalid option")

	// ErrSendFailed is returned by a Sender when a message could not be queued
	// for delivery. Callers treat it as a delivery failure for that peer only.
	ErrSendFailed = errors.New("send failed")
	// ErrConnClosed is returned by a Sender whose connection is gone.
	ErrConnClosed = errors.New("connection closed")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError builds a CoreError for callers outside the package.
func NewError(code, msg string, err error) *CoreError {
	return coreError(code, msg, err)
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// UserMessage returns the text shown to a client for err, falling back to
// fallback when err carries no user-facing message.
func UserMessage(err error, fallback string) string {
	var ce *CoreError
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return fallback
}
