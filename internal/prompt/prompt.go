// Package prompt implements the interactive provisioning shell. Each field
// is re-asked until it passes validation.
package prompt

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
)

// ErrAborted is returned when the operator aborts the session.
var ErrAborted = errors.New("provisioning aborted")

// LineReader reads lines entered by the operator.
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// NewReadline returns a LineReader reading from the terminal.
func NewReadline() (LineReader, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, errors.Wrap(err, "new readline error")
	}
	return rl, nil
}

// Prompter asks the operator for the credentials of a slot.
type Prompter struct {
	rl       LineReader
	out      io.Writer
	euiOrder codec.Order
	keyOrder codec.Order
}

// New creates a new Prompter. The EUIs and key are interpreted in the
// given orientations.
func New(rl LineReader, out io.Writer, euiOrder, keyOrder codec.Order) *Prompter {
	return &Prompter{
		rl:       rl,
		out:      out,
		euiOrder: euiOrder,
		keyOrder: keyOrder,
	}
}

// Provision asks for the slot label (when empty) and the credentials and
// returns the validated record.
func (p *Prompter) Provision(slot string) (credential.Record, error) {
	var err error
	if slot == "" {
		slot, err = p.slotLabel()
		if err != nil {
			return credential.Record{}, err
		}
	} else if err := credential.ValidateSlotLabel(slot); err != nil {
		return credential.Record{}, err
	}

	raw := credential.RawRecord{
		SlotLabel: slot,
		EUIOrder:  p.euiOrder,
		KeyOrder:  p.keyOrder,
	}

	if raw.DevEUI, err = p.Field(codec.DeviceID, p.euiOrder); err != nil {
		return credential.Record{}, err
	}
	if raw.JoinEUI, err = p.Field(codec.AppID, p.euiOrder); err != nil {
		return credential.Record{}, err
	}
	if raw.AppKey, err = p.Field(codec.AppKey, p.keyOrder); err != nil {
		return credential.Record{}, err
	}

	return credential.Validate(raw)
}

// Field asks for a single field until a valid value is entered.
func (p *Prompter) Field(kind codec.FieldKind, o codec.Order) ([]byte, error) {
	p.rl.SetPrompt(fmt.Sprintf("%s (%d bytes, %s first): ", kind, kind.Len(), strings.ToUpper(o.String())))

	for {
		line, err := p.readline()
		if err != nil {
			return nil, err
		}

		b, err := credential.ParseField(line, kind)
		if err == nil {
			err = credential.ValidateField(b, kind)
		}
		if err != nil {
			fmt.Fprintf(p.out, "invalid %s: %s, please try again\n", kind, err)
			continue
		}

		return b, nil
	}
}

func (p *Prompter) slotLabel() (string, error) {
	p.rl.SetPrompt("slot: ")

	for {
		line, err := p.readline()
		if err != nil {
			return "", err
		}

		if err := credential.ValidateSlotLabel(line); err != nil {
			fmt.Fprintf(p.out, "invalid slot: %s, please try again\n", err)
			continue
		}

		return line, nil
	}
}

func (p *Prompter) readline() (string, error) {
	for {
		line, err := p.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return "", ErrAborted
			}
			return "", errors.Wrap(err, "read line error")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return line, nil
	}
}
