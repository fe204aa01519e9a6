// Package credential implements the OTAA join credentials of an end-device
// and the validation applied before they are put into service.
package credential

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"
)

var slotLabelRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// EUI holds a 64 bit extended unique identifier in canonical orientation
// (least-significant byte first).
type EUI [8]byte

// EUIFromEUI64 returns the EUI for the given network-order EUI64.
func EUIFromEUI64(e lorawan.EUI64) EUI {
	var out EUI
	for i := range e {
		out[len(out)-1-i] = e[i]
	}
	return out
}

// EUI64 returns the EUI in network order (most-significant byte first), as
// displayed by network-server consoles.
func (e EUI) EUI64() lorawan.EUI64 {
	var out lorawan.EUI64
	for i := range e {
		out[len(out)-1-i] = e[i]
	}
	return out
}

// String implements fmt.Stringer. The EUI is printed in network order.
func (e EUI) String() string {
	return e.EUI64().String()
}

// MarshalText implements encoding.TextMarshaler.
func (e EUI) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. The text must be in
// network order.
func (e *EUI) UnmarshalText(text []byte) error {
	var eui lorawan.EUI64
	if err := eui.UnmarshalText(text); err != nil {
		return err
	}
	*e = EUIFromEUI64(eui)
	return nil
}

// Record holds the validated join credentials of a single slot. Records are
// values: a rotation is a new Record replacing the previous one.
type Record struct {
	SlotLabel     string
	DevEUI        EUI
	JoinEUI       EUI
	AppKey        lorawan.AES128Key
	Provisioned   bool
	ProvisionedAt time.Time
}

// Validate re-validates an already constructed record. This is used when
// records are read back from storage or handed to the MAC engine.
func (r Record) Validate() error {
	if !r.Provisioned {
		return errors.Wrap(ErrUnprovisionedPlaceholder, "record is not provisioned")
	}
	if err := ValidateSlotLabel(r.SlotLabel); err != nil {
		return err
	}
	if err := scanPlaceholders(r.DevEUI[:], r.JoinEUI[:], r.AppKey[:]); err != nil {
		return err
	}
	return checkKeyStrength(r.AppKey[:])
}

// Fingerprint returns a short, non-reversible identifier of the AppKey which
// is safe to log.
func (r Record) Fingerprint() string {
	// AES-128 encryption of a zero block, the LoRaWAN key check value.
	b, err := lorawanKeyCheckValue(r.AppKey)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// ValidateSlotLabel validates the given slot label.
func ValidateSlotLabel(s string) error {
	if !slotLabelRegexp.MatchString(s) {
		return errors.Wrap(ErrInvalidSlotLabel, fmt.Sprintf("slot label %q must match %s", s, slotLabelRegexp))
	}
	return nil
}
