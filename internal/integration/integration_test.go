package integration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

func TestProvisioningEvent(t *testing.T) {
	rec := credential.Record{
		SlotLabel: "dpi-test",
		DevEUI:    credential.EUI{0x32, 0xb9, 0xf5, 0x0e, 0x09, 0x75, 0x40, 0x00},
		JoinEUI:   credential.EUI{0x7b, 0xbe, 0x02, 0xd0, 0x7e, 0xd5, 0xb3, 0x70},
		AppKey:    [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
	}

	t.Run("Provisioned", func(t *testing.T) {
		assert := require.New(t)

		b, err := NewProvisioningEvent(EventProvisioned, rec).Marshal()
		assert.NoError(err)

		var out map[string]interface{}
		assert.NoError(json.Unmarshal(b, &out))
		assert.Equal("dpi-test", out["slot"])
		assert.Equal("provisioned", out["type"])
		assert.Equal("004075090ef5b932", out["dev_eui"])
		assert.Equal("70b3d57ed002be7b", out["join_eui"])
		assert.NotContains(string(b), "0102030405060708")
	})

	t.Run("Deprovisioned", func(t *testing.T) {
		assert := require.New(t)

		b, err := NewProvisioningEvent(EventDeprovisioned, credential.Record{SlotLabel: "dpi-test"}).Marshal()
		assert.NoError(err)

		var out map[string]interface{}
		assert.NoError(json.Unmarshal(b, &out))
		assert.Equal("deprovisioned", out["type"])
		assert.NotContains(out, "dev_eui")
	})
}
