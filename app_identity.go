package guestcore

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// AppIdentity names the application a launch belongs to. Crash records
// and compatibility tags are keyed by Creator; Fingerprint tells builds
// of the same creator apart.
type AppIdentity struct {
	Name        string
	Creator     uint32
	Type        uint32
	Fingerprint [blake2b.Size256]byte
}

// NewAppIdentity fingerprints the entry code segment with BLAKE2b-256.
func NewAppIdentity(name string, creator, typ uint32, code []byte) AppIdentity {
	return AppIdentity{
		Name:        name,
		Creator:     creator,
		Type:        typ,
		Fingerprint: blake2b.Sum256(code),
	}
}

func (a AppIdentity) FingerprintHex() string {
	return hex.EncodeToString(a.Fingerprint[:])
}

func (a AppIdentity) String() string {
	if a.Name == "" {
		return "'" + FourCC(a.Creator) + "'"
	}
	return fmt.Sprintf("%s '%s'", a.Name, FourCC(a.Creator))
}

// FourCC renders a four character code, escaping unprintable bytes.
func FourCC(v uint32) string {
	b := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	out := make([]byte, 0, 4)
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return fmt.Sprintf("0x%08X", v)
		}
		out = append(out, c)
	}
	return string(out)
}

// ParseFourCC is the inverse of FourCC for four printable bytes.
func ParseFourCC(s string) (uint32, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("four character code %q must be 4 bytes", s)
	}
	return uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3]), nil
}
