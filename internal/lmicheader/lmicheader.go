// Package lmicheader reads and writes the LoRa-otaa.h header files in which
// LMIC based firmware traditionally compiles in its OTAA credentials.
package lmicheader

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/pinmap"
)

// ErrMissingArray is returned when one of the credential arrays is not
// declared in the header.
var ErrMissingArray = errors.New("credential array not found")

var (
	arrayRegexp = regexp.MustCompile(`(?s)static\s+const\s+u1_t\s+(?:PROGMEM\s+)?(DEVEUI|APPEUI|APPKEY)\s*\[\s*\d*\s*\]\s*=\s*\{(.*?)\}\s*;`)
	appRegexp   = regexp.MustCompile(`(?m)^\s*//\s*app\s*=\s*(\S+)\s*$`)
	pinsRegexp  = regexp.MustCompile(`(?s)lmic_pinmap\s+lmic_pins\s*=\s*\{(.*)\}\s*;`)
	pinRegexp   = regexp.MustCompile(`\.(nss|rxtx|rst)\s*=\s*([A-Za-z0-9_]+)`)
	dioRegexp   = regexp.MustCompile(`\.dio\s*=\s*\{([^}]*)\}`)
)

// Header contains the values read from a header file. The array
// initializers are kept as text so that placeholders are reported by the
// credential validation.
type Header struct {
	SlotLabel string
	DevEUI    string
	JoinEUI   string
	AppKey    string

	PinMap    pinmap.PinMap
	HasPinMap bool
}

// Parse parses the given header file.
func Parse(r io.Reader) (Header, error) {
	var h Header

	b, err := io.ReadAll(r)
	if err != nil {
		return h, errors.Wrap(err, "read header error")
	}
	src := string(b)

	if m := appRegexp.FindStringSubmatch(src); m != nil {
		h.SlotLabel = m[1]
	}

	for _, m := range arrayRegexp.FindAllStringSubmatch(src, -1) {
		v := strings.TrimSpace(m[2])
		switch m[1] {
		case "DEVEUI":
			h.DevEUI = v
		case "APPEUI":
			h.JoinEUI = v
		case "APPKEY":
			h.AppKey = v
		}
	}

	for name, v := range map[string]string{"DEVEUI": h.DevEUI, "APPEUI": h.JoinEUI, "APPKEY": h.AppKey} {
		if v == "" {
			return h, errors.Wrap(ErrMissingArray, name)
		}
	}

	if m := pinsRegexp.FindStringSubmatch(src); m != nil {
		h.PinMap, err = parsePins(m[1])
		if err != nil {
			return h, err
		}
		h.HasPinMap = true
	}

	return h, nil
}

func parsePins(block string) (pinmap.PinMap, error) {
	pins := pinmap.PinMap{
		NSS:  pinmap.Unused,
		RXTX: pinmap.Unused,
		RST:  pinmap.Unused,
		DIO:  [3]int{pinmap.Unused, pinmap.Unused, pinmap.Unused},
	}

	for _, m := range pinRegexp.FindAllStringSubmatch(block, -1) {
		v, err := pinmap.ParsePin(m[2])
		if err != nil {
			return pins, errors.Wrapf(err, "parse pin %s error", m[1])
		}
		switch m[1] {
		case "nss":
			pins.NSS = v
		case "rxtx":
			pins.RXTX = v
		case "rst":
			pins.RST = v
		}
	}

	if m := dioRegexp.FindStringSubmatch(block); m != nil {
		for i, s := range strings.Split(m[1], ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if i >= len(pins.DIO) {
				return pins, fmt.Errorf("too many dio pins: %s", m[1])
			}
			v, err := pinmap.ParsePin(s)
			if err != nil {
				return pins, errors.Wrapf(err, "parse pin dio%d error", i)
			}
			pins.DIO[i] = v
		}
	}

	return pins, nil
}

// RawRecord returns the credentials of the header as RawRecord, using the
// LMIC orientation. When slot is empty, the label from the "// app = "
// comment is used.
func (h Header) RawRecord(slot string) (credential.RawRecord, error) {
	if slot == "" {
		slot = h.SlotLabel
	}
	return credential.ParseRawRecord(slot, h.DevEUI, h.JoinEUI, h.AppKey, codec.LSBFirst, codec.MSBFirst)
}

var headerTemplate = template.Must(template.New("header").Funcs(template.FuncMap{
	"pin": pinmap.FormatPin,
}).Parse(`// app = {{ .SlotLabel }}
// DEVEUI and APPEUI are LSB first, APPKEY is MSB first
static const u1_t PROGMEM DEVEUI[8]={ {{ .DevEUI }} };
static const u1_t PROGMEM APPEUI[8]={ {{ .JoinEUI }} };
static const u1_t PROGMEM APPKEY[16] = { {{ .AppKey }} };

void os_getArtEui (u1_t* buf) { memcpy_P(buf, APPEUI, 8);}
void os_getDevEui (u1_t* buf) { memcpy_P(buf, DEVEUI, 8);}
void os_getDevKey (u1_t* buf) {  memcpy_P(buf, APPKEY, 16);}

// Pin mapping
const lmic_pinmap lmic_pins = {
    .nss = {{ pin .Pins.NSS }},
    .rxtx = {{ pin .Pins.RXTX }},
    .rst = {{ pin .Pins.RST }},
    .dio = { {{- pin (index .Pins.DIO 0) }}, {{ pin (index .Pins.DIO 1) }}, {{ pin (index .Pins.DIO 2) -}} },
};
`))

// Render writes the given record and pin mapping as header file.
func Render(w io.Writer, rec credential.Record, pins pinmap.PinMap) error {
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, "validate record error")
	}

	fields := make(map[codec.FieldKind]string)
	for kind, b := range map[codec.FieldKind][]byte{
		codec.DeviceID: rec.DevEUI[:],
		codec.AppID:    rec.JoinEUI[:],
		codec.AppKey:   rec.AppKey[:],
	} {
		wire, err := codec.ToWireOrder(b, kind, codec.LMIC)
		if err != nil {
			return err
		}
		fields[kind] = formatBytes(wire)
	}

	bw := bufio.NewWriter(w)
	err := headerTemplate.Execute(bw, struct {
		SlotLabel string
		DevEUI    string
		JoinEUI   string
		AppKey    string
		Pins      pinmap.PinMap
	}{
		SlotLabel: rec.SlotLabel,
		DevEUI:    fields[codec.DeviceID],
		JoinEUI:   fields[codec.AppID],
		AppKey:    fields[codec.AppKey],
		Pins:      pins,
	})
	if err != nil {
		return errors.Wrap(err, "execute template error")
	}
	return bw.Flush()
}

func formatBytes(b []byte) string {
	out := make([]string, len(b))
	for i := range b {
		out[i] = fmt.Sprintf("0x%02X", b[i])
	}
	return strings.Join(out, ", ")
}
