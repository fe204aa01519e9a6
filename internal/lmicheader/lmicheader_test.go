package lmicheader

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/pinmap"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/test"
)

const provisionedHeader = `// app = dpi-test
// ensure DEVEUI and APPEUI are both LSB
static const u1_t PROGMEM DEVEUI[8]={ 0x32, 0xB9, 0xF5, 0x0E, 0x09, 0x75, 0x40, 0x00 };
static const u1_t PROGMEM APPEUI[8]={ 0x7B, 0xBE, 0x02, 0xD0, 0x7E, 0xD5, 0xB3, 0x70 };
static const u1_t PROGMEM APPKEY[16] = { 0xD1, 0x6D, 0x04, 0x3A, 0x5D, 0x6D, 0xED, 0x33, 0x00, 0xF5, 0x8B, 0x66, 0x8D, 0x4B, 0x3F, 0xDE };



void os_getArtEui (u1_t* buf) { memcpy_P(buf, APPEUI, 8);}
void os_getDevEui (u1_t* buf) { memcpy_P(buf, DEVEUI, 8);}
void os_getDevKey (u1_t* buf) {  memcpy_P(buf, APPKEY, 16);}

//// Pin mapping - M0
const lmic_pinmap lmic_pins = {
    .nss = 8,
    .rxtx = LMIC_UNUSED_PIN,
    .rst = 4,
    .dio = {3, 6, LMIC_UNUSED_PIN},
};
`

const placeholderHeader = `// OTAA joining
static const u1_t PROGMEM DEVEUI[8]={ %s }; //8Bit-Least-Significant-Bit-First
static const u1_t PROGMEM APPEUI[8]={ %s }; //8Bit-Least-Significant-Bit-First
static const u1_t PROGMEM APPKEY[16]={ %s }; //16Bit-Most-Significant-Bit-First

void os_getArtEui (u1_t* buf) { memcpy_P(buf, APPEUI, 8);}
void os_getDevEui (u1_t* buf) { memcpy_P(buf, DEVEUI, 8);}
void os_getDevKey (u1_t* buf) {  memcpy_P(buf, APPKEY, 16);}

// Pin mapping for Adafruit Feather M0
const lmic_pinmap lmic_pins = {
    .nss = 8,
    .rxtx = LMIC_UNUSED_PIN,
    .rst = 4,
    .dio = {3, 6, LMIC_UNUSED_PIN},
};
`

func TestParse(t *testing.T) {
	t.Run("Provisioned header", func(t *testing.T) {
		assert := require.New(t)

		h, err := Parse(strings.NewReader(provisionedHeader))
		assert.NoError(err)
		assert.Equal("dpi-test", h.SlotLabel)
		assert.True(h.HasPinMap)
		assert.Equal(pinmap.FeatherM0, h.PinMap)

		raw, err := h.RawRecord("")
		assert.NoError(err)
		assert.Equal("dpi-test", raw.SlotLabel)
		assert.Equal(test.DevEUI, raw.DevEUI)
		assert.Equal(test.JoinEUI, raw.JoinEUI)
		assert.Equal(test.AppKey, raw.AppKey)

		rec, err := credential.Validate(raw)
		assert.NoError(err)
		assert.Equal("0040750e09f5b932", rec.DevEUI.String())
		assert.Equal("70b3d57ed002be7b", rec.JoinEUI.String())
	})

	t.Run("Slot override", func(t *testing.T) {
		assert := require.New(t)

		h, err := Parse(strings.NewReader(provisionedHeader))
		assert.NoError(err)
		raw, err := h.RawRecord("field-7")
		assert.NoError(err)
		assert.Equal("field-7", raw.SlotLabel)
	})

	for _, tok := range []string{"FILMEIN", "FILL_ME_IN", "FILLMEIN"} {
		t.Run("Placeholder "+tok, func(t *testing.T) {
			assert := require.New(t)

			src := strings.ReplaceAll(placeholderHeader, "%s", tok)
			h, err := Parse(strings.NewReader(src))
			assert.NoError(err)
			assert.Equal("", h.SlotLabel)
			assert.Equal(tok, h.DevEUI)
			assert.Equal(pinmap.FeatherM0, h.PinMap)

			_, err = h.RawRecord("meter-teros21")
			assert.True(errors.Is(err, credential.ErrUnprovisionedPlaceholder))
		})
	}

	t.Run("Missing array", func(t *testing.T) {
		assert := require.New(t)

		src := strings.Replace(provisionedHeader, "APPKEY[16]", "OTHER[16]", 1)
		_, err := Parse(strings.NewReader(src))
		assert.True(errors.Is(err, ErrMissingArray))
	})

	t.Run("No pin mapping", func(t *testing.T) {
		assert := require.New(t)

		src := provisionedHeader[:strings.Index(provisionedHeader, "//// Pin mapping")]
		h, err := Parse(strings.NewReader(src))
		assert.NoError(err)
		assert.False(h.HasPinMap)
	})

	t.Run("Invalid pin", func(t *testing.T) {
		assert := require.New(t)

		src := strings.Replace(provisionedHeader, ".rst = 4", ".rst = PIN_A4", 1)
		_, err := Parse(strings.NewReader(src))
		assert.Error(err)
	})
}

func TestRender(t *testing.T) {
	t.Run("Round-trip", func(t *testing.T) {
		assert := require.New(t)

		rec := test.MustRecord("dpi-test")
		var buf bytes.Buffer
		assert.NoError(Render(&buf, rec, pinmap.FeatherM0))

		out := buf.String()
		assert.Contains(out, "// app = dpi-test\n")
		assert.Contains(out, "DEVEUI[8]={ 0x32, 0xB9, 0xF5, 0x0E, 0x09, 0x75, 0x40, 0x00 };")
		assert.Contains(out, ".dio = {3, 6, LMIC_UNUSED_PIN},")

		h, err := Parse(&buf)
		assert.NoError(err)
		assert.Equal(pinmap.FeatherM0, h.PinMap)

		raw, err := h.RawRecord("")
		assert.NoError(err)
		got, err := credential.Validate(raw)
		assert.NoError(err)
		assert.Equal(rec.DevEUI, got.DevEUI)
		assert.Equal(rec.JoinEUI, got.JoinEUI)
		assert.Equal(rec.AppKey, got.AppKey)
	})

	t.Run("Invalid record", func(t *testing.T) {
		assert := require.New(t)

		rec := test.MustRecord("dpi-test")
		rec.AppKey = [16]byte{}
		var buf bytes.Buffer
		assert.True(errors.Is(Render(&buf, rec, pinmap.FeatherM0), credential.ErrWeakOrDefaultKey))
		assert.Equal(0, buf.Len())
	})
}
