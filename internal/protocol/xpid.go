package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// PlatformCode identifies the platform half of an XPlatformID.
type PlatformCode uint32

const (
	PlatformUnknown PlatformCode = iota
	PlatformSteam
	PlatformPSN
	PlatformXbox
	PlatformOculus
	PlatformOculusOld
	PlatformBot
	PlatformDemo
	PlatformTencent
)

var platformNames = map[PlatformCode]string{
	PlatformUnknown:   "UNK",
	PlatformSteam:     "STM",
	PlatformPSN:       "PSN",
	PlatformXbox:      "XBX",
	PlatformOculus:    "OVR-ORG",
	PlatformOculusOld: "OVR",
	PlatformBot:       "BOT",
	PlatformDemo:      "DMO",
	PlatformTencent:   "TEN",
}

var platformCodes = func() map[string]PlatformCode {
	m := make(map[string]PlatformCode, len(platformNames))
	for c, n := range platformNames {
		m[n] = c
	}
	return m
}()

// String returns the platform tag, UNK for out-of-range codes.
func (p PlatformCode) String() string {
	if n, ok := platformNames[p]; ok {
		return n
	}
	return "UNK"
}

// XPlatformID is the account primary key: platform plus numeric
// account id. Its rendered string form ("OVR-ORG-3963667097037078") is
// canonical and used as the storage key.
type XPlatformID struct {
	Platform  PlatformCode
	AccountID uint64
}

// IsNil reports whether the identifier is empty.
func (x XPlatformID) IsNil() bool {
	return x == XPlatformID{}
}

// IsValid reports whether the identifier names a real platform account.
func (x XPlatformID) IsValid() bool {
	return x.Platform != PlatformUnknown && x.Platform <= PlatformTencent && x.AccountID != 0
}

// String renders the canonical textual key.
func (x XPlatformID) String() string {
	return fmt.Sprintf("%s-%d", x.Platform, x.AccountID)
}

// ParseXPlatformID parses the canonical "PLATFORM-accountid" form.
func ParseXPlatformID(s string) (XPlatformID, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return XPlatformID{}, fmt.Errorf("invalid xplatform id %q", s)
	}
	code, ok := platformCodes[s[:i]]
	if !ok {
		return XPlatformID{}, fmt.Errorf("invalid platform in xplatform id %q", s)
	}
	acct, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return XPlatformID{}, fmt.Errorf("invalid account in xplatform id %q: %w", s, err)
	}
	return XPlatformID{Platform: code, AccountID: acct}, nil
}

// MarshalText implements encoding.TextMarshaler for JSON profiles.
func (x XPlatformID) MarshalText() ([]byte, error) {
	if x.IsNil() {
		return []byte{}, nil
	}
	return []byte(x.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (x *XPlatformID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*x = XPlatformID{}
		return nil
	}
	v, err := ParseXPlatformID(string(text))
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// write emits the 16-byte wire form: u64 platform, u64 account id.
func (x XPlatformID) write(w *Writer) {
	w.U64(uint64(x.Platform))
	w.U64(x.AccountID)
}

func readXPlatformID(r *Reader) (XPlatformID, error) {
	p, err := r.U64()
	if err != nil {
		return XPlatformID{}, err
	}
	a, err := r.U64()
	if err != nil {
		return XPlatformID{}, err
	}
	return XPlatformID{Platform: PlatformCode(p), AccountID: a}, nil
}
