package cmd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/bridge"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
)

var (
	bridgeSlot   string
	bridgeLayout string
	bridgeReveal bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Inspect the credentials handed out to the LoRaWAN MAC engine",
}

var bridgeDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the bytes the MAC engine receives for the active slot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := setupCLI()
		if err != nil {
			return err
		}
		defer shutdown()

		slot := config.C.Bridge.ActiveSlot
		if bridgeSlot != "" {
			slot = bridgeSlot
		}
		name := config.C.Bridge.Layout
		if bridgeLayout != "" {
			name = bridgeLayout
		}

		layout, err := codec.GetLayout(name)
		if err != nil {
			return err
		}

		src := bridge.NewActiveSlot(store, slot)
		if err := src.Load(ctx); err != nil {
			return errors.Wrap(err, "load slot error")
		}

		return dumpBridge(cmd, bridge.New(src, layout), bridgeReveal)
	},
}

func init() {
	bridgeDumpCmd.Flags().StringVar(&bridgeSlot, "slot", "", "slot to dump (default: bridge.active_slot)")
	bridgeDumpCmd.Flags().StringVar(&bridgeLayout, "layout", "", "layout to use (default: bridge.layout)")
	bridgeDumpCmd.Flags().BoolVar(&bridgeReveal, "reveal", false, "print the AppKey")

	bridgeCmd.AddCommand(bridgeDumpCmd)
}

func dumpBridge(cmd *cobra.Command, b *bridge.Bridge, reveal bool) error {
	fields := []struct {
		name string
		kind codec.FieldKind
		get  func([]byte) error
	}{
		{"os_getDevEui", codec.DeviceID, b.GetDevEUI},
		{"os_getArtEui", codec.AppID, b.GetArtEUI},
		{"os_getDevKey", codec.AppKey, b.GetDevKey},
	}

	fmt.Fprintf(cmd.OutOrStdout(), "layout: %s\n", b.Layout().Name)
	for _, f := range fields {
		buf := make([]byte, f.kind.Len())
		if err := f.get(buf); err != nil {
			return errors.Wrapf(err, "%s error", f.name)
		}

		out := formatBytes(buf)
		if f.kind == codec.AppKey && !reveal {
			out = "<redacted>"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s first): %s\n", f.name, f.kind, strings.ToUpper(b.Layout().Order(f.kind).String()), out)
	}

	return nil
}

func formatBytes(b []byte) string {
	out := make([]string, len(b))
	for i := range b {
		out[i] = fmt.Sprintf("%02X", b[i])
	}
	return strings.Join(out, " ")
}
