package frame

import (
	"fmt"
	"strings"
)

// Type selects the end-of-message policy of a Frame.
type Type uint8

const (
	TypeRaw Type = iota
	TypeASCII
	TypeModbusTCP
	TypeUsbtmc
)

// String returns the configuration name of the frame type.
func (t Type) String() string {
	switch t {
	case TypeRaw:
		return "raw"
	case TypeASCII:
		return "ascii"
	case TypeModbusTCP:
		return "modbus-tcp"
	case TypeUsbtmc:
		return "usbtmc"
	default:
		return "unknown"
	}
}

// ParseType parses a frame type name as written in configuration files.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "":
		return TypeRaw, nil
	case "ascii":
		return TypeASCII, nil
	case "modbus-tcp", "modbustcp", "modbus_tcp":
		return TypeModbusTCP, nil
	case "usbtmc":
		return TypeUsbtmc, nil
	default:
		return TypeRaw, fmt.Errorf("frame: unknown frame type %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	v, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = v

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
