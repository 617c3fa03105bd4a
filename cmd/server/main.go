// Command server runs the radio simulator relay: the half-duplex WebSocket
// medium that stands in for the SX127x link between exactly one ed and one
// as peer per channel, for demos and integration tests that don't have
// real hardware attached.
package main

import (
	"flag"
	"net/http"

	"github.com/sirupsen/logrus"

	"lora-ratchet/radiosim"
)

var logger = logrus.New()

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	relay := radiosim.NewRelay(logger)

	logger.Infof("radiosim relay listening on %s", *addr)
	if err := http.ListenAndServe(*addr, relay.Router()); err != nil {
		logger.Fatalf("radiosim relay: %v", err)
	}
}
