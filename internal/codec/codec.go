// Package codec converts credential bytes between their canonical orientation
// and the in-memory layout a MAC engine expects.
//
// Device and application (join) EUIs are canonically stored
// least-significant-byte first, the way LMIC reads them from program memory.
// The application key is canonically stored most-significant-byte first.
package codec

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrLengthMismatch is returned when the given bytes do not match the fixed
// length of the field.
var ErrLengthMismatch = errors.New("length mismatch")

// FieldKind defines the credential field.
type FieldKind int

// Available field kinds.
const (
	DeviceID FieldKind = iota
	AppID
	AppKey
)

// Len returns the fixed length in bytes of the field.
func (k FieldKind) Len() int {
	switch k {
	case DeviceID, AppID:
		return 8
	case AppKey:
		return 16
	default:
		return 0
	}
}

func (k FieldKind) String() string {
	switch k {
	case DeviceID:
		return "dev_eui"
	case AppID:
		return "join_eui"
	case AppKey:
		return "app_key"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Order defines a byte orientation.
type Order int

// Available byte orientations.
const (
	LSBFirst Order = iota
	MSBFirst
)

func (o Order) String() string {
	if o == MSBFirst {
		return "msb"
	}
	return "lsb"
}

// ParseOrder parses "lsb" or "msb" (case-sensitive, as used in config and
// manifests). An empty string returns def.
func ParseOrder(s string, def Order) (Order, error) {
	switch s {
	case "":
		return def, nil
	case "lsb", "LSB":
		return LSBFirst, nil
	case "msb", "MSB":
		return MSBFirst, nil
	default:
		return def, fmt.Errorf("invalid byte order: %s", s)
	}
}

// CanonicalOrder returns the canonical orientation of the given field.
func CanonicalOrder(k FieldKind) Order {
	if k == AppKey {
		return MSBFirst
	}
	return LSBFirst
}

// Layout defines per field the orientation expected on the wire by the
// consumer of the credentials.
type Layout struct {
	Name    string
	DevEUI  Order
	JoinEUI Order
	AppKey  Order
}

// Order returns the wire orientation for the given field.
func (l Layout) Order(k FieldKind) Order {
	switch k {
	case DeviceID:
		return l.DevEUI
	case AppID:
		return l.JoinEUI
	default:
		return l.AppKey
	}
}

var (
	// LMIC is the layout of the LMIC os_getArtEui / os_getDevEui / os_getDevKey
	// callbacks. It matches the canonical orientation.
	LMIC = Layout{Name: "lmic", DevEUI: LSBFirst, JoinEUI: LSBFirst, AppKey: MSBFirst}

	// Network is the layout used by LoRaWAN network-servers and consoles
	// (all values most-significant-byte first).
	Network = Layout{Name: "network", DevEUI: MSBFirst, JoinEUI: MSBFirst, AppKey: MSBFirst}
)

// GetLayout returns the layout by name.
func GetLayout(name string) (Layout, error) {
	switch name {
	case "", LMIC.Name:
		return LMIC, nil
	case Network.Name:
		return Network, nil
	default:
		return Layout{}, fmt.Errorf("unknown layout: %s", name)
	}
}

// ToWireOrder returns a copy of the canonical bytes b in the wire orientation
// of the given layout.
func ToWireOrder(b []byte, k FieldKind, l Layout) ([]byte, error) {
	return convert(b, k, CanonicalOrder(k), l.Order(k))
}

// ToCanonicalOrder returns a copy of the wire bytes b (in the orientation of
// the given layout) in canonical orientation.
func ToCanonicalOrder(b []byte, k FieldKind, l Layout) ([]byte, error) {
	return convert(b, k, l.Order(k), CanonicalOrder(k))
}

// FromOrder returns a copy of b, entered in orientation o, in canonical
// orientation.
func FromOrder(b []byte, k FieldKind, o Order) ([]byte, error) {
	return convert(b, k, o, CanonicalOrder(k))
}

func convert(b []byte, k FieldKind, from, to Order) ([]byte, error) {
	if len(b) != k.Len() {
		return nil, errors.Wrapf(ErrLengthMismatch, "%s: expected %d bytes, got %d", k, k.Len(), len(b))
	}

	out := make([]byte, len(b))
	copy(out, b)
	if from != to {
		reverse(out)
	}
	return out, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
