package cmd

import (
	"context"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-otaa-provisioner/internal/api"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/bridge"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/codec"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/config"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration/amqp"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/integration/mqtt"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/monitoring"
	"github.com/brocaar/chirpstack-otaa-provisioner/internal/storage"
)

var (
	store      *storage.Store
	handler    integration.Handler
	activeSlot *bridge.ActiveSlot
	credBridge *bridge.Bridge
)

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := []func() error{
		setLogLevel,
		setSyslog,
		printStartMessage,
		setupStorage,
		setupIntegration(ctx),
		setupMonitoring,
		setupBridge(ctx),
		logPinMap,
		setupAPI,
	}

	for _, t := range tasks {
		if err := t(); err != nil {
			log.Fatal(err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	exitChan := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received")
	go func() {
		log.Warning("stopping chirpstack-otaa-provisioner")
		cancel()
		if err := shutdown(); err != nil {
			log.Fatal(err)
		}
		exitChan <- struct{}{}
	}()
	select {
	case <-exitChan:
	case s := <-sigChan:
		log.WithField("signal", s).Info("signal received, stopping immediately")
	}

	return nil
}

func setLogLevel() error {
	log.SetLevel(log.Level(uint8(config.C.General.LogLevel)))
	return nil
}

func printStartMessage() error {
	log.WithFields(log.Fields{
		"version": version,
		"storage": config.C.Storage.Type,
		"layout":  config.C.Bridge.Layout,
	}).Info("starting ChirpStack OTAA Provisioner")
	return nil
}

func setupStorage() error {
	var err error
	store, err = storage.Setup(config.C)
	if err != nil {
		return errors.Wrap(err, "setup storage error")
	}
	return nil
}

func setupIntegration(ctx context.Context) func() error {
	return func() error {
		var err error

		switch config.C.Integration.Type {
		case "":
			handler = integration.NopHandler{}
		case "mqtt":
			handler, err = mqtt.New(ctx, config.C)
		case "amqp":
			handler, err = amqp.New(config.C)
		default:
			err = errors.Errorf("unknown integration type: %s", config.C.Integration.Type)
		}
		if err != nil {
			return errors.Wrap(err, "setup integration error")
		}

		store.SetIntegration(handler)
		return nil
	}
}

func setupMonitoring() error {
	if err := monitoring.Setup(config.C, store); err != nil {
		return errors.Wrap(err, "setup monitoring error")
	}
	return nil
}

// setupBridge loads the active slot. A service that can not hand out valid
// credentials must not start.
func setupBridge(ctx context.Context) func() error {
	return func() error {
		layout, err := codec.GetLayout(config.C.Bridge.Layout)
		if err != nil {
			return errors.Wrap(err, "get bridge layout error")
		}

		activeSlot = bridge.NewActiveSlot(store, config.C.Bridge.ActiveSlot)
		if err := activeSlot.Load(ctx); err != nil {
			return errors.Wrap(err, "load active slot error")
		}

		credBridge = bridge.New(activeSlot, layout)

		devEUI := make([]byte, codec.DeviceID.Len())
		joinEUI := make([]byte, codec.AppID.Len())
		credBridge.MustGetDevEUI(devEUI)
		credBridge.MustGetArtEUI(joinEUI)

		log.WithFields(log.Fields{
			"slot":     activeSlot.Slot(),
			"layout":   layout.Name,
			"dev_eui":  hex.EncodeToString(devEUI),
			"join_eui": hex.EncodeToString(joinEUI),
		}).Info("bridge: serving credentials to mac engine")

		return nil
	}
}

func logPinMap() error {
	if err := config.C.PinMap.Validate(); err != nil {
		return errors.Wrap(err, "validate pin map error")
	}
	log.WithField("pin_map", config.C.PinMap.String()).Info("radio: pin mapping")
	return nil
}

func setupAPI() error {
	srv := api.NewServer(store, config.C.API.AllowKeyReveal)
	srv.OnChange(reloadActiveSlot)

	if err := api.Setup(config.C, srv); err != nil {
		return errors.Wrap(err, "setup api error")
	}
	return nil
}

// reloadActiveSlot reloads the bridge after the active slot has been
// re-provisioned or removed. When reloading fails, the bridge stops handing
// out credentials.
func reloadActiveSlot(ctx context.Context, slot string) {
	if activeSlot == nil || slot != activeSlot.Slot() {
		return
	}

	if err := activeSlot.Load(ctx); err != nil {
		log.WithError(err).WithField("slot", slot).Error("bridge: reload active slot error")
	}
}

func shutdown() error {
	if handler != nil {
		if err := handler.Close(); err != nil {
			return errors.Wrap(err, "close integration error")
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			return errors.Wrap(err, "close storage error")
		}
	}
	return nil
}
