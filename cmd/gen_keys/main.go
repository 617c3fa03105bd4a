// Command gen_keys generates a matched ED/AS static X25519 keypair and
// writes the two keys.json files each role's key directory expects.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"lora-ratchet/crypto/x25519"
	"lora-ratchet/keydirectory"
)

type asKeyRow struct {
	KID              keydirectory.KID `json:"kid"`
	ASStaticMaterial [32]byte         `json:"as_static_material"`
}

type edKeyRow struct {
	KID              keydirectory.KID `json:"kid"`
	EDStaticMaterial [32]byte         `json:"ed_static_material"`
}

type edFile struct {
	EDStaticMaterial [32]byte   `json:"ed_static_material"`
	ASKeys           []asKeyRow `json:"as_keys"`
}

type asFile struct {
	ASStaticMaterial [32]byte   `json:"as_static_material"`
	EDKeys           []edKeyRow `json:"ed_keys"`
}

func main() {
	edOut := flag.String("ed-out", "ed-keys.json", "output path for the ED role's keys.json")
	asOut := flag.String("as-out", "as-keys.json", "output path for the AS role's keys.json")
	flag.Parse()

	edSecret, err := x25519.New()
	if err != nil {
		log.Fatalf("gen_keys: could not generate ED static key: %v", err)
	}
	edPublic, err := edSecret.Public()
	if err != nil {
		log.Fatalf("gen_keys: could not derive ED static public key: %v", err)
	}

	asSecret, err := x25519.New()
	if err != nil {
		log.Fatalf("gen_keys: could not generate AS static key: %v", err)
	}
	asPublic, err := asSecret.Public()
	if err != nil {
		log.Fatalf("gen_keys: could not derive AS static public key: %v", err)
	}

	ed := edFile{
		EDStaticMaterial: [32]byte(*edSecret),
		ASKeys: []asKeyRow{
			{KID: keydirectory.ASKID, ASStaticMaterial: [32]byte(*asPublic)},
		},
	}
	as := asFile{
		ASStaticMaterial: [32]byte(*asSecret),
		EDKeys: []edKeyRow{
			{KID: keydirectory.EDKID, EDStaticMaterial: [32]byte(*edPublic)},
		},
	}

	if err := writeJSON(*edOut, ed); err != nil {
		log.Fatalf("gen_keys: %v", err)
	}
	if err := writeJSON(*asOut, as); err != nil {
		log.Fatalf("gen_keys: %v", err)
	}

	fmt.Printf("wrote %s and %s\n", *edOut, *asOut)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
