// Package configs loads the one recognized configuration surface: the
// JSON config file the ED role reads at startup (cmd/as reads no config
// file; it takes only its keys.json and command-line flags).
// An optional .env overlay (read separately by each cmd entry point via
// godotenv) can override operator conveniences like log level or the
// radio-simulator address, but never the protocol-relevant fields here.
package configs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"lora-ratchet/radio"
)

// DefaultConfigPath and DefaultKeysPath are the default paths of the two
// files the ED entry point reads from its working directory. The AS entry
// point reads only a keys file, with its own "./keys.json" default.
const (
	DefaultConfigPath = "./config.json"
	DefaultKeysPath   = "./keys.json"
)

// fileConfig is the on-disk JSON shape: millisecond durations as plain
// integers, matching the original firmware's config format exactly.
type fileConfig struct {
	DevEUI        [8]byte `json:"deveui"`
	AppEUI        [8]byte `json:"appeui"`
	DHRConst      uint16  `json:"dhr_const"`
	RX1DelayMs    uint64  `json:"rx1_delay"`
	RX1DurationMs int32   `json:"rx1_duration"`
	RX2DelayMs    uint64  `json:"rx2_delay"`
	RX2DurationMs int32   `json:"rx2_duration"`
}

// Load reads path and returns the radio.Config it describes. A config
// file that fails to parse is an unrecoverable startup failure, per the
// CLI surface's exit-code contract — the caller should treat any error
// here as fatal.
func Load(path string) (radio.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return radio.Config{}, fmt.Errorf("configs: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(raw, &fc); err != nil {
		return radio.Config{}, fmt.Errorf("configs: parse %s: %w", path, err)
	}

	return radio.Config{
		DevEUI:      fc.DevEUI,
		AppEUI:      fc.AppEUI,
		DHRConst:    fc.DHRConst,
		RX1Delay:    time.Duration(fc.RX1DelayMs) * time.Millisecond,
		RX1Duration: time.Duration(fc.RX1DurationMs) * time.Millisecond,
		RX2Delay:    time.Duration(fc.RX2DelayMs) * time.Millisecond,
		RX2Duration: time.Duration(fc.RX2DurationMs) * time.Millisecond,
	}, nil
}
