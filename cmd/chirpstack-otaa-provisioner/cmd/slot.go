package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/credential"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/lmicheader"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/logging"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/manifest"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/prompt"
)

var (
	slotDevEUI   string
	slotJoinEUI  string
	slotAppKey   string
	slotEUIOrder string
	slotKeyOrder string
	slotReveal   bool
	headerSlot   string
)

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Manage the provisioned credential slots",
}

var slotPutCmd = &cobra.Command{
	Use:     "put <slot>",
	Short:   "Provision (or rotate) the credentials of a slot",
	Example: `chirpstack-otaa-provisioner slot put dpi-test --dev-eui 0040750e09f5b932 --join-eui 70b3d57ed002be7b --app-key d16d043a5d6ded3300f58b668d4b3fde`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		euiOrder, keyOrder, err := entryOrders()
		if err != nil {
			return err
		}

		raw, err := credential.ParseRawRecord(args[0], slotDevEUI, slotJoinEUI, slotAppKey, euiOrder, keyOrder)
		if err != nil {
			return errors.Wrap(err, "parse credentials error")
		}

		return putRaw(ctx, cmd, raw)
	},
}

var slotGetCmd = &cobra.Command{
	Use:   "get <slot>",
	Short: "Print the credentials of a slot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "get slot error")
		}

		return printJSON(cmd, newSlotOutput(rec, slotReveal))
	},
}

var slotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the provisioned slots",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		slots, err := store.List(ctx)
		if err != nil {
			return errors.Wrap(err, "list slots error")
		}

		for _, slot := range slots {
			fmt.Fprintln(cmd.OutOrStdout(), slot)
		}
		return nil
	},
}

var slotRemoveCmd = &cobra.Command{
	Use:   "remove <slot>",
	Short: "Deprovision a slot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		if err := store.Remove(ctx, args[0]); err != nil {
			return errors.Wrap(err, "remove slot error")
		}
		return nil
	},
}

var slotImportHeaderCmd = &cobra.Command{
	Use:     "import-header <file>",
	Short:   "Provision a slot from a legacy LoRa-otaa.h header file",
	Example: `chirpstack-otaa-provisioner slot import-header CSU/CSU-adt-bytes/LoRa-otaa.h`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open header file error")
		}
		defer f.Close()

		h, err := lmicheader.Parse(f)
		if err != nil {
			return errors.Wrap(err, "parse header file error")
		}

		if h.HasPinMap && h.PinMap != config.C.PinMap {
			log.WithFields(log.Fields{
				"header": h.PinMap.String(),
				"config": config.C.PinMap.String(),
			}).Warning("pin mapping of header differs from configuration")
		}

		raw, err := h.RawRecord(headerSlot)
		if err != nil {
			return errors.Wrap(err, "parse header credentials error")
		}

		return putRaw(ctx, cmd, raw)
	},
}

var slotExportHeaderCmd = &cobra.Command{
	Use:   "export-header <slot>",
	Short: "Print the credentials of a slot as legacy LoRa-otaa.h header file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		rec, err := store.Get(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "get slot error")
		}

		return lmicheader.Render(cmd.OutOrStdout(), rec, config.C.PinMap)
	},
}

var slotImportManifestCmd = &cobra.Command{
	Use:   "import-manifest <file.yaml>",
	Short: "Provision the slots of a batch manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open manifest error")
		}
		defer f.Close()

		m, err := manifest.Decode(f)
		if err != nil {
			return err
		}

		var failed int
		for _, e := range m.Slots {
			err := func() error {
				raw, err := e.RawRecord()
				if err != nil {
					return err
				}
				rec, err := credential.Validate(raw)
				if err != nil {
					return err
				}
				return store.Put(ctx, rec)
			}()
			if err != nil {
				failed++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\terror: %s\n", e.Slot, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tok\n", e.Slot)
		}

		if failed != 0 {
			return fmt.Errorf("%d of %d slots failed", failed, len(m.Slots))
		}
		return nil
	},
}

var slotProvisionCmd = &cobra.Command{
	Use:   "provision [<slot>]",
	Short: "Interactively provision a slot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		euiOrder, keyOrder, err := entryOrders()
		if err != nil {
			return err
		}

		var slot string
		if len(args) == 1 {
			slot = args[0]
		}

		rl, err := prompt.NewReadline()
		if err != nil {
			return err
		}
		defer rl.Close()

		rec, err := prompt.New(rl, cmd.OutOrStdout(), euiOrder, keyOrder).Provision(slot)
		if err != nil {
			return err
		}

		if err := store.Put(ctx, rec); err != nil {
			return errors.Wrap(err, "put slot error")
		}
		return printJSON(cmd, newSlotOutput(rec, false))
	},
}

func init() {
	for _, c := range []*cobra.Command{slotPutCmd, slotProvisionCmd} {
		c.Flags().StringVar(&slotEUIOrder, "eui-order", "msb", "orientation in which the EUIs are entered (msb, lsb)")
		c.Flags().StringVar(&slotKeyOrder, "key-order", "msb", "orientation in which the AppKey is entered (msb, lsb)")
	}

	slotPutCmd.Flags().StringVar(&slotDevEUI, "dev-eui", "", "DevEUI (hex)")
	slotPutCmd.Flags().StringVar(&slotJoinEUI, "join-eui", "", "JoinEUI / AppEUI (hex)")
	slotPutCmd.Flags().StringVar(&slotAppKey, "app-key", "", "AppKey (hex)")
	slotPutCmd.MarkFlagRequired("dev-eui")
	slotPutCmd.MarkFlagRequired("join-eui")
	slotPutCmd.MarkFlagRequired("app-key")

	slotGetCmd.Flags().BoolVar(&slotReveal, "reveal", false, "print the AppKey")
	slotImportHeaderCmd.Flags().StringVar(&headerSlot, "slot", "", "slot label (default: the '// app = ' comment of the header)")

	slotCmd.AddCommand(slotPutCmd)
	slotCmd.AddCommand(slotGetCmd)
	slotCmd.AddCommand(slotListCmd)
	slotCmd.AddCommand(slotRemoveCmd)
	slotCmd.AddCommand(slotImportHeaderCmd)
	slotCmd.AddCommand(slotExportHeaderCmd)
	slotCmd.AddCommand(slotImportManifestCmd)
	slotCmd.AddCommand(slotProvisionCmd)
}

type slotOutput struct {
	Slot           string         `json:"slot"`
	DevEUI         credential.EUI `json:"dev_eui"`
	JoinEUI        credential.EUI `json:"join_eui"`
	AppKey         string         `json:"app_key"`
	KeyFingerprint string         `json:"key_fingerprint"`
	ProvisionedAt  time.Time      `json:"provisioned_at"`
}

func newSlotOutput(rec credential.Record, reveal bool) slotOutput {
	out := slotOutput{
		Slot:           rec.SlotLabel,
		DevEUI:         rec.DevEUI,
		JoinEUI:        rec.JoinEUI,
		AppKey:         "<redacted>",
		KeyFingerprint: rec.Fingerprint(),
		ProvisionedAt:  rec.ProvisionedAt,
	}
	if reveal {
		out.AppKey = rec.AppKey.String()
	}
	return out
}

// setupCLI sets up the components used by the slot and bridge commands.
func setupCLI() (context.Context, error) {
	ctx := logging.NewContext(context.Background())

	tasks := []func() error{
		setLogLevel,
		setupStorage,
		setupIntegration(ctx),
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func entryOrders() (codec.Order, codec.Order, error) {
	euiOrder, err := codec.ParseOrder(slotEUIOrder, codec.MSBFirst)
	if err != nil {
		return euiOrder, 0, err
	}
	keyOrder, err := codec.ParseOrder(slotKeyOrder, codec.MSBFirst)
	return euiOrder, keyOrder, err
}

func putRaw(ctx context.Context, cmd *cobra.Command, raw credential.RawRecord) error {
	rec, err := credential.Validate(raw)
	if err != nil {
		return errors.Wrap(err, "validate credentials error")
	}

	if err := store.Put(ctx, rec); err != nil {
		return errors.Wrap(err, "put slot error")
	}

	return printJSON(cmd, newSlotOutput(rec, false))
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrap(err, "json marshal error")
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
