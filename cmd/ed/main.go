// Command ed runs the End Device role: it loads its static key material and
// radio timing config, dials the radio simulator, runs the handshake, and
// then hands off into the ratchet tick loop for as long as the process
// lives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"lora-ratchet/configs"
	"lora-ratchet/dashboard"
	"lora-ratchet/edloop"
	"lora-ratchet/edsession"
	"lora-ratchet/keydirectory"
	"lora-ratchet/radiosim"
)

var logger = logrus.New()

func main() {
	configPath := flag.String("config", configs.DefaultConfigPath, "path to config.json")
	keysPath := flag.String("keys", configs.DefaultKeysPath, "path to ED keys.json")
	relayHost := flag.String("relay", "localhost:8080", "radiosim relay host:port")
	channel := flag.String("channel", "default", "radiosim channel id")
	noUI := flag.Bool("no-ui", false, "run headless, without the terminal dashboard")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("ed: no .env overlay found, continuing with flags/defaults")
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := configs.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("ed: could not load config")
	}

	dir, err := keydirectory.LoadED(*keysPath)
	if err != nil {
		logger.WithError(err).Fatal("ed: could not load key directory")
	}

	addr := radiosim.Addr(*relayHost, *channel, "ed")
	r, err := radiosim.Dial(addr)
	if err != nil {
		logger.WithError(err).Fatalf("ed: could not dial radio simulator at %s", addr)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := edsession.New(r, cfg, dir, logger)
	result, err := sess.Handshake(ctx)
	if err != nil {
		logger.WithError(err).Fatal("ed: handshake failed")
	}
	logger.WithField("devaddr", fmt.Sprintf("%x", result.Devaddr)).Info("ed: handshake established, entering ratchet loop")

	loop := edloop.New(r, cfg, result.Ratchet, sess.FcntUp(), logger)

	if *noUI {
		if err := loop.Run(ctx); err != nil {
			logger.WithError(err).Info("ed: ratchet loop stopped")
		}
		return
	}

	go func() {
		if err := loop.Run(ctx); err != nil {
			logger.WithError(err).Info("ed: ratchet loop stopped")
		}
	}()
	view := dashboard.NewEDView(loop)
	if err := view.Run(); err != nil {
		logger.WithError(err).Fatal("ed: dashboard failed")
	}
}
