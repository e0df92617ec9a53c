package guestcore

import "fmt"

// Error codes carried by GuestError. They double as the crash cause codes
// reported to the host supervisor.
const (
	ERR_NONE               uint32 = 0
	ERR_INVALID_ADDRESS    uint32 = 1
	ERR_INVALID_TRAP       uint32 = 2
	ERR_INVALID_XREF       uint32 = 3
	ERR_ILLEGAL_INSTR      uint32 = 4
	ERR_NO_ENTRY_SEGMENT   uint32 = 0x10
	ERR_BAD_HEADER         uint32 = 0x11
	ERR_HEAP_EXHAUSTED     uint32 = 0x12
	ERR_INVALID_FREE       uint32 = 0x13
	ERR_BAD_RESOURCE_DB    uint32 = 0x14
	ERR_BAD_CONFIG         uint32 = 0x15
	ERR_STATE_BUSY         uint32 = 0x16
	ERR_CALL_OUTSIDE_GUEST uint32 = 0x17
)

// GuestError is returned by every fallible operation that is not a guest
// fault. Guest faults never surface as errors; they go through Panic.
type GuestError struct {
	Code    uint32
	message string
}

func (e GuestError) Error() string {
	if e.message != "" {
		return e.message
	}
	switch e.Code {
	case ERR_NONE:
		return "guest: success"
	case ERR_INVALID_ADDRESS:
		return "guest: invalid address"
	case ERR_INVALID_TRAP:
		return "guest: unknown system trap"
	case ERR_INVALID_XREF:
		return "guest: unsupported relocation encoding"
	case ERR_ILLEGAL_INSTR:
		return "guest: illegal instruction"
	case ERR_NO_ENTRY_SEGMENT:
		return "guest: no entry code segment"
	case ERR_BAD_HEADER:
		return "guest: malformed segment header"
	case ERR_HEAP_EXHAUSTED:
		return "guest: heap exhausted"
	case ERR_INVALID_FREE:
		return "guest: free of unallocated block"
	case ERR_BAD_RESOURCE_DB:
		return "guest: malformed resource database"
	default:
		return fmt.Sprintf("guest: error code 0x%02x", e.Code)
	}
}

// Is lets errors.Is match on the code alone.
func (e GuestError) Is(target error) bool {
	t, ok := target.(GuestError)
	if !ok {
		if tp, okp := target.(*GuestError); okp && tp != nil {
			t, ok = *tp, true
		}
	}
	return ok && t.Code == e.Code
}

var (
	ErrNoEntrySegment  = GuestError{Code: ERR_NO_ENTRY_SEGMENT}
	ErrBadHeader       = GuestError{Code: ERR_BAD_HEADER}
	ErrHeapExhausted   = GuestError{Code: ERR_HEAP_EXHAUSTED}
	ErrInvalidFree     = GuestError{Code: ERR_INVALID_FREE}
	ErrUnsupportedXref = GuestError{Code: ERR_INVALID_XREF}
	ErrBadPRC          = GuestError{Code: ERR_BAD_RESOURCE_DB}
	ErrBadConfig       = GuestError{Code: ERR_BAD_CONFIG}
	ErrStateBusy       = GuestError{Code: ERR_STATE_BUSY, message: "guest: emulator state already running"}
	ErrNoGuestContext  = GuestError{Code: ERR_CALL_OUTSIDE_GUEST, message: "guest: no active guest context"}
)
