// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// awmkit-keygen is a small operator CLI for provisioning and rotating
// key-slot store secrets. A full CLI parser is out of scope (spec §1);
// this only wires flag.Parse over the already-built config/keystore
// layers.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/awmkit/awmkit/internal/config"
	"github.com/awmkit/awmkit/internal/evidence"
	"github.com/awmkit/awmkit/internal/keystore"
	"github.com/awmkit/awmkit/internal/keystore/backend"
)

const wrappingKeyEnv = "AWMKIT_FILE_BACKEND_WRAPPING_KEY"

func main() {
	var (
		configFile string
		dbFile     string
		slot       int
		rotate     bool
		label      string
	)

	flag.StringVar(&configFile, "config", "./awmkit.json", "Specify alternative path to `awmkit.json`")
	flag.StringVar(&dbFile, "db", "./awmkit.db", "Path to the evidence database")
	flag.IntVar(&slot, "slot", 0, "Key slot to generate or rotate")
	flag.BoolVar(&rotate, "rotate", false, "Rotate an existing slot instead of generating into an empty one")
	flag.StringVar(&label, "label", "", "Optional display label for the slot")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("awmkit-keygen: load config: %v", err)
	}

	db, err := evidence.Open(dbFile)
	if err != nil {
		log.Fatalf("awmkit-keygen: open evidence db: %v", err)
	}
	defer db.Close()

	b, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("awmkit-keygen: open key backend: %v", err)
	}

	store := keystore.New(b, db)

	if rotate {
		oldFP, err := store.Rotate(slot, nil)
		if err != nil {
			log.Fatalf("awmkit-keygen: rotate slot %d: %v", slot, err)
		}
		fmt.Printf("rotated slot %d (previous fingerprint %s)\n", slot, keystore.KeyID(oldFP))
	} else {
		key, err := store.Generate(slot)
		if err != nil {
			log.Fatalf("awmkit-keygen: generate slot %d: %v", slot, err)
		}
		fmt.Printf("generated slot %d (key_id %s)\n", slot, keystore.KeyID(keystore.Fingerprint(key)))
	}

	if label != "" {
		if err := store.SetLabel(slot, label); err != nil {
			log.Fatalf("awmkit-keygen: set label: %v", err)
		}
	}
}

func openBackend(cfg config.Config) (backend.Backend, error) {
	switch cfg.KeyBackend {
	case "file":
		wrappingKeyHex := os.Getenv(wrappingKeyEnv)
		if wrappingKeyHex == "" {
			return nil, fmt.Errorf("%s must be set for the file backend", wrappingKeyEnv)
		}
		raw, err := hex.DecodeString(wrappingKeyHex)
		if err != nil || len(raw) != backend.WrappingKeySize {
			return nil, fmt.Errorf("%s must be a %d-byte hex string", wrappingKeyEnv, backend.WrappingKeySize)
		}
		var wrappingKey [backend.WrappingKeySize]byte
		copy(wrappingKey[:], raw)
		return backend.NewFile(cfg.KeyBackendDir, wrappingKey)
	case "keyring":
		return nil, fmt.Errorf("keyring backend requires a platform adapter wired in by the embedding application")
	default:
		return backend.NewMemory(), nil
	}
}
