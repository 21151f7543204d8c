// secretctl imports credentials from a .env file into the encrypted secret
// store read by the trader at startup.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/config"
	"github.com/amirphl/breakout-trader/internal/secretstore"
)

func main() {
	storePath := flag.String("store", "secrets", "badger directory of the secret store")
	envPath := flag.String("env", ".env", ".env file to import")
	keyFlag := flag.String("key", "", "encryption key, hex or base64 (default $"+config.EnvSecretKey+")")
	list := flag.Bool("list", false, "list stored keys instead of importing")
	flag.Parse()

	raw := *keyFlag
	if raw == "" {
		raw = os.Getenv(config.EnvSecretKey)
	}
	key, err := secretstore.ParseKey(raw)
	if err != nil {
		logrus.WithError(err).Fatal("invalid encryption key")
	}

	store, err := secretstore.Open(secretstore.OpenOptions{Path: *storePath, EncryptionKey: key, ReadOnly: *list})
	if err != nil {
		logrus.WithError(err).Fatal("open secret store")
	}
	defer store.Close()

	if *list {
		keys, err := store.Keys(config.SecretPrefix)
		if err != nil {
			logrus.WithError(err).Fatal("list keys")
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return
	}

	vars, err := godotenv.Read(*envPath)
	if err != nil {
		logrus.WithError(err).Fatalf("read %s", *envPath)
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	imported := 0
	for _, k := range names {
		if k == config.EnvSecretKey {
			continue
		}
		if err := store.SetString(config.SecretPrefix+k, vars[k]); err != nil {
			logrus.WithError(err).Fatalf("store %s", k)
		}
		imported++
	}
	logrus.WithFields(logrus.Fields{"count": imported, "store": *storePath}).Info("secrets imported")
}
