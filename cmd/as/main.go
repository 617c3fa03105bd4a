// Command as runs the Application Server role: it loads its static key
// material, dials the radio simulator, and runs the single-threaded
// dispatcher loop that serves every device sharing this channel.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"lora-ratchet/assession"
	"lora-ratchet/dashboard"
	"lora-ratchet/dispatcher"
	"lora-ratchet/keydirectory"
	"lora-ratchet/radiosim"
	"lora-ratchet/registry"
)

var logger = logrus.New()

const (
	pendingHandshakeTTL  = 5 * time.Minute
	maxPendingHandshakes = 256
)

func main() {
	keysPath := flag.String("keys", "./keys.json", "path to AS keys.json")
	relayHost := flag.String("relay", "localhost:8080", "radiosim relay host:port")
	channel := flag.String("channel", "default", "radiosim channel id")
	noUI := flag.Bool("no-ui", false, "run headless, without the terminal dashboard")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("as: no .env overlay found, continuing with flags/defaults")
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	dir, err := keydirectory.LoadAS(*keysPath)
	if err != nil {
		logger.WithError(err).Fatal("as: could not load key directory")
	}

	addr := radiosim.Addr(*relayHost, *channel, "as")
	r, err := radiosim.Dial(addr)
	if err != nil {
		logger.WithError(err).Fatalf("as: could not dial radio simulator at %s", addr)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(pendingHandshakeTTL, maxPendingHandshakes)
	sess := assession.New(dir, logger)
	d := dispatcher.New(r, sess, reg, logger)

	logger.Info("as: dispatcher running")

	if *noUI {
		if err := d.Run(ctx); err != nil {
			logger.WithError(err).Info("as: dispatcher stopped")
		}
		return
	}

	go func() {
		if err := d.Run(ctx); err != nil {
			logger.WithError(err).Info("as: dispatcher stopped")
		}
	}()
	view := dashboard.NewASView(d)
	if err := view.Run(); err != nil {
		logger.WithError(err).Fatal("as: dashboard failed")
	}
}
