package credential

import (
	"crypto/aes"
	"encoding/hex"
	"strings"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
)

// PlaceholderTokens contains the markers that are used in place of real
// values when a configuration has not been filled in yet.
var PlaceholderTokens = []string{
	"FILL_ME_IN",
	"FILLMEIN",
	"FILMEIN",
	"CHANGEME",
	"XXXXXXXX",
}

// textPlaceholderTokens are only matched against textual input. They are too
// short to scan binary fields for without false positives.
var textPlaceholderTokens = []string{
	"TODO",
}

// RawRecord holds the credentials as entered at provisioning time, before
// validation.
type RawRecord struct {
	SlotLabel string
	DevEUI    []byte
	JoinEUI   []byte
	AppKey    []byte

	// EUIOrder is the orientation in which DevEUI and JoinEUI were entered.
	EUIOrder codec.Order

	// KeyOrder is the orientation in which the AppKey was entered.
	KeyOrder codec.Order
}

// NewRawRecord returns a RawRecord using the orientation convention of the
// LMIC header files (EUIs LSB first, key MSB first).
func NewRawRecord(slot string, devEUI, joinEUI, appKey []byte) RawRecord {
	return RawRecord{
		SlotLabel: slot,
		DevEUI:    devEUI,
		JoinEUI:   joinEUI,
		AppKey:    appKey,
		EUIOrder:  codec.LSBFirst,
		KeyOrder:  codec.MSBFirst,
	}
}

// Validate validates the given raw record and returns the canonical Record.
// The checks are executed in the following order: field lengths, placeholder
// scan, key strength, slot label. Validate does not consult any store.
func Validate(raw RawRecord) (Record, error) {
	var rec Record

	fields := []struct {
		kind codec.FieldKind
		b    []byte
	}{
		{codec.DeviceID, raw.DevEUI},
		{codec.AppID, raw.JoinEUI},
		{codec.AppKey, raw.AppKey},
	}

	for _, f := range fields {
		if len(f.b) != f.kind.Len() {
			return rec, errors.Wrapf(ErrLengthMismatch, "%s: expected %d bytes, got %d", f.kind, f.kind.Len(), len(f.b))
		}
	}

	if err := scanPlaceholders(raw.DevEUI, raw.JoinEUI, raw.AppKey); err != nil {
		return rec, err
	}

	if err := checkKeyStrength(raw.AppKey); err != nil {
		return rec, err
	}

	if err := ValidateSlotLabel(raw.SlotLabel); err != nil {
		return rec, err
	}

	devEUI, err := codec.FromOrder(raw.DevEUI, codec.DeviceID, raw.EUIOrder)
	if err != nil {
		return rec, err
	}
	joinEUI, err := codec.FromOrder(raw.JoinEUI, codec.AppID, raw.EUIOrder)
	if err != nil {
		return rec, err
	}
	appKey, err := codec.FromOrder(raw.AppKey, codec.AppKey, raw.KeyOrder)
	if err != nil {
		return rec, err
	}

	rec.SlotLabel = raw.SlotLabel
	copy(rec.DevEUI[:], devEUI)
	copy(rec.JoinEUI[:], joinEUI)
	copy(rec.AppKey[:], appKey)
	rec.Provisioned = true
	rec.ProvisionedAt = time.Now().UTC().Truncate(time.Second)

	return rec, nil
}

// ValidateField validates a single field in isolation: its length, the
// placeholder scan and for the AppKey its strength.
func ValidateField(b []byte, kind codec.FieldKind) error {
	if len(b) != kind.Len() {
		return errors.Wrapf(ErrLengthMismatch, "%s: expected %d bytes, got %d", kind, kind.Len(), len(b))
	}
	if err := scanPlaceholders(b); err != nil {
		return err
	}
	if kind == codec.AppKey {
		return checkKeyStrength(b)
	}
	return nil
}

// ParseRawRecord parses the textual (hex) representation of the credentials
// as entered manually, scanned from a QR / NFC tag or read from a fixture
// file. Each field accepts plain hex, hex separated by spaces, colons or
// dashes and C array initializers (e.g. "{ 0x32, 0xB9, ... }").
func ParseRawRecord(slot, devEUI, joinEUI, appKey string, euiOrder, keyOrder codec.Order) (RawRecord, error) {
	raw := RawRecord{
		SlotLabel: slot,
		EUIOrder:  euiOrder,
		KeyOrder:  keyOrder,
	}

	var err error
	if raw.DevEUI, err = ParseField(devEUI, codec.DeviceID); err != nil {
		return raw, err
	}
	if raw.JoinEUI, err = ParseField(joinEUI, codec.AppID); err != nil {
		return raw, err
	}
	if raw.AppKey, err = ParseField(appKey, codec.AppKey); err != nil {
		return raw, err
	}

	return raw, nil
}

// ParseField decodes the textual representation of a single field. It does
// not validate the length, this is done by Validate.
func ParseField(s string, kind codec.FieldKind) ([]byte, error) {
	tok := findPlaceholder([]byte(s), PlaceholderTokens)
	if tok == "" {
		tok = findPlaceholder([]byte(s), textPlaceholderTokens)
	}
	if tok != "" {
		return nil, errors.Wrapf(ErrUnprovisionedPlaceholder, "%s: contains %s", kind, tok)
	}

	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ':', '-', '{', '}', ';':
			return -1
		}
		return r
	}, s)

	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidEncoding, "%s: %s", kind, err)
	}
	return b, nil
}

func scanPlaceholders(fields ...[]byte) error {
	for _, b := range fields {
		if tok := findPlaceholder(b, PlaceholderTokens); tok != "" {
			return errors.Wrapf(ErrUnprovisionedPlaceholder, "contains %s", tok)
		}
	}
	return nil
}

// findPlaceholder returns the first of the given tokens contained in b. Only
// ASCII letters are case-folded, b is not interpreted as UTF-8.
func findPlaceholder(b []byte, tokens []string) string {
	for _, tok := range tokens {
		if containsFoldASCII(b, tok) {
			return tok
		}
	}
	return ""
}

func containsFoldASCII(b []byte, tok string) bool {
	for i := 0; i+len(tok) <= len(b); i++ {
		match := true
		for j := 0; j < len(tok); j++ {
			if upperASCII(b[i+j]) != upperASCII(tok[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// checkKeyStrength rejects keys of which all bytes are identical (e.g.
// all-zero or all-0xff), these are copy-paste or uninitialized memory
// artifacts.
func checkKeyStrength(key []byte) error {
	if len(key) == 0 {
		return errors.Wrap(ErrLengthMismatch, "app_key: empty")
	}
	for _, b := range key[1:] {
		if b != key[0] {
			return nil
		}
	}
	return errors.Wrapf(ErrWeakOrDefaultKey, "app_key: all bytes are 0x%02x", key[0])
}

func lorawanKeyCheckValue(key lorawan.AES128Key) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}
	out := make([]byte, block.BlockSize())
	block.Encrypt(out, make([]byte, block.BlockSize()))
	return out[:3], nil
}
