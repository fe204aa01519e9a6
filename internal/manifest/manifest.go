// Package manifest reads the batch manifests produced by the provisioning
// fixture. A manifest lists the credentials of multiple slots.
package manifest

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

// Entry is a single slot within the manifest. The credentials are hex
// encoded in the given orientation.
type Entry struct {
	Slot     string `yaml:"slot"`
	DevEUI   string `yaml:"dev_eui"`
	JoinEUI  string `yaml:"join_eui"`
	AppKey   string `yaml:"app_key"`
	EUIOrder string `yaml:"eui_order"`
	KeyOrder string `yaml:"key_order"`
}

// Manifest is a batch of slots.
type Manifest struct {
	Slots []Entry `yaml:"slots"`
}

// EntryError is returned when an entry of the manifest can not be parsed.
type EntryError struct {
	Index int
	Slot  string
	Err   error
}

// Error implements the error interface.
func (e *EntryError) Error() string {
	return errors.Wrapf(e.Err, "entry %d (slot: %s)", e.Index, e.Slot).Error()
}

// Unwrap returns the underlying error.
func (e *EntryError) Unwrap() error {
	return e.Err
}

// Decode decodes a manifest.
func Decode(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return m, nil
		}
		return m, errors.Wrap(err, "decode manifest error")
	}
	return m, nil
}

// RawRecord returns the raw record of the entry. When no orientation is
// given, the LMIC header convention is assumed.
func (e Entry) RawRecord() (credential.RawRecord, error) {
	euiOrder, err := codec.ParseOrder(e.EUIOrder, codec.LSBFirst)
	if err != nil {
		return credential.RawRecord{}, err
	}
	keyOrder, err := codec.ParseOrder(e.KeyOrder, codec.MSBFirst)
	if err != nil {
		return credential.RawRecord{}, err
	}
	return credential.ParseRawRecord(e.Slot, e.DevEUI, e.JoinEUI, e.AppKey, euiOrder, keyOrder)
}

// Records parses and validates all entries of the manifest. Processing
// stops at the first invalid entry, duplicate slots are rejected.
func (m Manifest) Records() ([]credential.Record, error) {
	var out []credential.Record
	seen := make(map[string]struct{})

	for i, e := range m.Slots {
		if _, ok := seen[e.Slot]; ok {
			return nil, &EntryError{Index: i, Slot: e.Slot, Err: errors.New("duplicate slot")}
		}
		seen[e.Slot] = struct{}{}

		raw, err := e.RawRecord()
		if err != nil {
			return nil, &EntryError{Index: i, Slot: e.Slot, Err: err}
		}
		rec, err := credential.Validate(raw)
		if err != nil {
			return nil, &EntryError{Index: i, Slot: e.Slot, Err: err}
		}
		out = append(out, rec)
	}

	return out, nil
}
