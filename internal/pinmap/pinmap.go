// Package pinmap holds the radio pin mapping which is passed through to the
// HAL / radio driver.
package pinmap

import (
	"fmt"
	"strconv"
	"strings"
)

// Unused marks a pin as not connected (LMIC_UNUSED_PIN).
const Unused = 0xff

// PinMap defines the microcontroller pins connected to the radio. The values
// are opaque to this module.
type PinMap struct {
	NSS  int    `mapstructure:"nss"`
	RXTX int    `mapstructure:"rxtx"`
	RST  int    `mapstructure:"rst"`
	DIO  [3]int `mapstructure:"dio"`
}

// FeatherM0 is the mapping of the Adafruit Feather M0 with RFM95 module.
var FeatherM0 = PinMap{
	NSS:  8,
	RXTX: Unused,
	RST:  4,
	DIO:  [3]int{3, 6, Unused},
}

// Validate checks that the pins are within range and that no pin is
// assigned twice.
func (p PinMap) Validate() error {
	seen := make(map[int]string)
	for _, pin := range p.pins() {
		if pin.value == Unused {
			continue
		}
		if pin.value < 0 || pin.value > Unused {
			return fmt.Errorf("pin %s out of range: %d", pin.name, pin.value)
		}
		if other, ok := seen[pin.value]; ok {
			return fmt.Errorf("pin %d assigned to both %s and %s", pin.value, other, pin.name)
		}
		seen[pin.value] = pin.name
	}
	return nil
}

// String returns the mapping in LMIC notation.
func (p PinMap) String() string {
	dio := make([]string, len(p.DIO))
	for i := range p.DIO {
		dio[i] = FormatPin(p.DIO[i])
	}
	return fmt.Sprintf("nss=%s rxtx=%s rst=%s dio={%s}", FormatPin(p.NSS), FormatPin(p.RXTX), FormatPin(p.RST), strings.Join(dio, ", "))
}

// FormatPin formats a single pin in LMIC notation.
func FormatPin(v int) string {
	if v == Unused {
		return "LMIC_UNUSED_PIN"
	}
	return strconv.Itoa(v)
}

// ParsePin parses a single pin in LMIC notation.
func ParsePin(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "LMIC_UNUSED_PIN" {
		return Unused, nil
	}
	v, err := strconv.ParseInt(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid pin: %s", s)
	}
	return int(v), nil
}

type namedPin struct {
	name  string
	value int
}

func (p PinMap) pins() []namedPin {
	return []namedPin{
		{"nss", p.NSS},
		{"rxtx", p.RXTX},
		{"rst", p.RST},
		{"dio0", p.DIO[0]},
		{"dio1", p.DIO[1]},
		{"dio2", p.DIO[2]},
	}
}
