package frame

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Outbound command bytes understood by the tool.
const (
	cmdConfigure = 0x01
	cmdStart     = 0x02
)

// BoltKind selects the bolt size the tool is configured for. The wire value
// is the kind's code byte.
type BoltKind byte

const (
	BoltM4 BoltKind = 0x04
	BoltM5 BoltKind = 0x05
	BoltM6 BoltKind = 0x06
)

func (k BoltKind) String() string {
	switch k {
	case BoltM4:
		return "M4"
	case BoltM5:
		return "M5"
	case BoltM6:
		return "M6"
	}
	return fmt.Sprintf("BoltKind(0x%02X)", byte(k))
}

// ParseBoltKind maps the CLI/API spelling ("M4", "m5", ...) to a BoltKind.
func ParseBoltKind(s string) (BoltKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "M4":
		return BoltM4, nil
	case "M5":
		return BoltM5, nil
	case "M6":
		return BoltM6, nil
	}
	return 0, fmt.Errorf("frame: unknown bolt kind %q (want M4, M5 or M6)", s)
}

// EncodeConfigure builds the configure command for the given bolt kind.
func EncodeConfigure(k BoltKind) ([]byte, error) {
	switch k {
	case BoltM4, BoltM5, BoltM6:
		return []byte{cmdConfigure, byte(k)}, nil
	}
	return nil, fmt.Errorf("frame: cannot encode configure for %s", k)
}

// EncodeStart builds the start-removal command.
func EncodeStart() []byte {
	return []byte{cmdStart}
}

// EncodeFreeform turns operator input into command bytes. If the text with
// spaces stripped is made solely of hex digits it is sent as hex pairs, an
// odd-length string gaining a leading zero; anything else is sent as its
// UTF-8 bytes. The heuristic is ambiguous for short strings like "abc",
// which go out as hex 0x0A 0xBC rather than literal text; this matches the
// tool's established behaviour and is kept on purpose.
func EncodeFreeform(text string) []byte {
	compact := strings.ReplaceAll(text, " ", "")
	if compact != "" && isHex(compact) {
		if len(compact)%2 == 1 {
			compact = "0" + compact
		}
		if b, err := hex.DecodeString(compact); err == nil {
			return b
		}
	}
	return []byte(text)
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
