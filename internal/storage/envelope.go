package storage

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

// FormatVersion is the current version of the persisted record layout.
//
// Layout:
//
//	magic   "OTAA"
//	version uint8
//	length  uint32 (big-endian), length of the payload
//	payload CBOR encoded slotPayload
//	crc32   uint32 (big-endian), IEEE checksum over all preceding bytes
const FormatVersion uint8 = 1

const (
	formatMagic    = "OTAA"
	headerLen      = len(formatMagic) + 1 + 4
	checksumLen    = 4
	maxPayloadSize = 4096
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: create cbor encoder mode error: %s", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("storage: create cbor decoder mode error: %s", err))
	}
}

type slotPayload struct {
	SlotLabel     string  `cbor:"1,keyasint"`
	DevEUI        [8]byte `cbor:"2,keyasint"`
	JoinEUI       [8]byte `cbor:"3,keyasint"`
	AppKey        []byte  `cbor:"4,keyasint"`
	KEKLabel      string  `cbor:"5,keyasint,omitempty"`
	ProvisionedAt int64   `cbor:"6,keyasint"`
}

// keyring holds the key-encryption-keys used to wrap the AppKey at rest.
type keyring struct {
	keks     map[string][]byte
	wrapWith string
}

func (k *keyring) wrap(key []byte) ([]byte, string, error) {
	if k == nil || k.wrapWith == "" {
		return key, "", nil
	}

	kek, ok := k.keks[k.wrapWith]
	if !ok {
		return nil, "", fmt.Errorf("unknown kek label: %s", k.wrapWith)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, "", errors.Wrap(err, "new cipher error")
	}

	b, err := keywrap.Wrap(block, key)
	if err != nil {
		return nil, "", errors.Wrap(err, "wrap key error")
	}

	return b, k.wrapWith, nil
}

func (k *keyring) unwrap(label string, b []byte) ([]byte, error) {
	if label == "" {
		return b, nil
	}

	var kek []byte
	if k != nil {
		kek = k.keks[label]
	}
	if kek == nil {
		return nil, fmt.Errorf("unknown kek label: %s", label)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, errors.Wrap(err, "new cipher error")
	}

	key, err := keywrap.Unwrap(block, b)
	if err != nil {
		return nil, errors.Wrap(err, "unwrap key error")
	}
	return key, nil
}

// marshalRecord returns the persisted representation of the given record.
func marshalRecord(rec credential.Record, kr *keyring) ([]byte, error) {
	appKey, kekLabel, err := kr.wrap(rec.AppKey[:])
	if err != nil {
		return nil, err
	}

	payload, err := encMode.Marshal(slotPayload{
		SlotLabel:     rec.SlotLabel,
		DevEUI:        rec.DevEUI,
		JoinEUI:       rec.JoinEUI,
		AppKey:        appKey,
		KEKLabel:      kekLabel,
		ProvisionedAt: rec.ProvisionedAt.Unix(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "cbor marshal error")
	}

	var buf bytes.Buffer
	buf.WriteString(formatMagic)
	buf.WriteByte(FormatVersion)
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(buf.Bytes()))

	return buf.Bytes(), nil
}

// unmarshalRecord decodes and verifies the persisted representation of the
// record stored under the given slot. Any inconsistency results in an
// ErrCorrupt (or ErrUnsupportedFormat) error.
func unmarshalRecord(slot string, b []byte, kr *keyring) (credential.Record, error) {
	var rec credential.Record

	if len(b) < headerLen+checksumLen {
		return rec, errors.Wrapf(ErrCorrupt, "record too short (%d bytes)", len(b))
	}

	if string(b[:len(formatMagic)]) != formatMagic {
		return rec, errors.Wrap(ErrCorrupt, "invalid format tag")
	}

	body := b[:len(b)-checksumLen]
	if exp, got := binary.BigEndian.Uint32(b[len(b)-checksumLen:]), crc32.ChecksumIEEE(body); exp != got {
		return rec, errors.Wrapf(ErrCorrupt, "checksum mismatch (expected %08x, got %08x)", exp, got)
	}

	if v := b[len(formatMagic)]; v != FormatVersion {
		return rec, errors.Wrapf(ErrUnsupportedFormat, "version %d", v)
	}

	size := binary.BigEndian.Uint32(b[len(formatMagic)+1 : headerLen])
	if size > maxPayloadSize || int(size) != len(body)-headerLen {
		return rec, errors.Wrapf(ErrCorrupt, "invalid payload length %d", size)
	}

	var pl slotPayload
	if err := decMode.Unmarshal(body[headerLen:], &pl); err != nil {
		return rec, errors.Wrapf(ErrCorrupt, "cbor unmarshal error: %s", err)
	}

	if pl.SlotLabel != slot {
		return rec, errors.Wrapf(ErrCorrupt, "record belongs to slot %s", pl.SlotLabel)
	}

	appKey, err := kr.unwrap(pl.KEKLabel, pl.AppKey)
	if err != nil {
		return rec, errors.Wrapf(ErrCorrupt, "app_key: %s", err)
	}
	if len(appKey) != len(rec.AppKey) {
		return rec, errors.Wrapf(ErrCorrupt, "app_key: invalid length %d", len(appKey))
	}

	rec.SlotLabel = pl.SlotLabel
	rec.DevEUI = pl.DevEUI
	rec.JoinEUI = pl.JoinEUI
	copy(rec.AppKey[:], appKey)
	rec.Provisioned = true
	rec.ProvisionedAt = time.Unix(pl.ProvisionedAt, 0).UTC()

	if err := rec.Validate(); err != nil {
		return credential.Record{}, errors.Wrapf(ErrCorrupt, "stored record is invalid: %s", err)
	}

	return rec, nil
}
