package collabs

import (
	"errors"
	"fmt"
)

// Kind classifies a collab error for propagation and HTTP mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
	KindInvariant
	KindUnavailable
)

// Error is a typed collab failure. Sentinels below are compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrNotFound            = &Error{KindNotFound, "collab_not_found", "collab not found"}
	ErrEntryNotFound       = &Error{KindNotFound, "waiting_entry_not_found", "waiting request not found"}
	ErrUserNotFound        = &Error{KindNotFound, "user_not_found", "user not found"}
	ErrConflict            = &Error{KindConflict, "conflict", "collab was modified concurrently, retry"}
	ErrActiveCollabExists  = &Error{KindConflict, "active_collab_exists", "only one active collab is allowed at a time"}
	ErrAlreadyPending      = &Error{KindConflict, "already_pending", "request already sent, waiting for the creator"}
	ErrAlreadyPartner      = &Error{KindConflict, "already_partner", "already a partner of this collab"}
	ErrListFull            = &Error{KindConflict, "waiting_list_full", "waiting list is full"}
	ErrSessionFull         = &Error{KindConflict, "collab_full", "collab already has enough partners"}
	ErrSlotOccupied        = &Error{KindConflict, "slot_occupied", "partner slot is already taken"}
	ErrNotOpen             = &Error{KindConflict, "collab_not_open", "collab is no longer open"}
	ErrTerminal            = &Error{KindInvariant, "collab_terminal", "collab has already finished"}
	ErrForbidden           = &Error{KindForbidden, "forbidden", "only the collab creator can do this"}
	ErrSelfJoin            = &Error{KindValidation, "self_join", "cannot join your own collab"}
	ErrInvalidLink         = &Error{KindValidation, "invalid_link", "invalid broadcast link"}
	ErrInvalidStream       = &Error{KindValidation, "invalid_stream", "link is not a waiting-room broadcast"}
	ErrSameBroadcast       = &Error{KindValidation, "same_broadcast", "broadcast is the same as the creator's"}
	ErrScheduleMismatch    = &Error{KindValidation, "schedule_mismatch", "scheduled start does not match the creator's"}
	ErrMissingChannels     = &Error{KindValidation, "missing_channels", "profile needs both YouTube and Facebook links"}
	ErrProviderUnavailable = &Error{KindUnavailable, "provider_unavailable", "stream status is unavailable, try again"}
)

func invalidf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
