package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type config struct {
	// Store configures the local database.
	// Its "type" selects a registered store.
	// For sqlite3 and badger stores with no location set,
	// the location is inside the account's directory.
	Store map[string]interface{} `json:"store" yaml:"store"`

	// Remote configures the remote drive.
	// Its "type" selects a registered drive.
	Remote map[string]interface{} `json:"remote" yaml:"remote"`

	// Root is the directory holding one subdirectory per account.
	Root string `json:"root" yaml:"root"`

	OAuth *oauthConfig `json:"oauth" yaml:"oauth"`
}

type oauthConfig struct {
	ClientID     string   `json:"client_id" yaml:"client_id"`
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`
	Scopes       []string `json:"scopes" yaml:"scopes"`

	// TokenFile defaults to token.json in Root.
	TokenFile string `json:"token_file" yaml:"token_file"`
}

func loadConfig(filename string) (*config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	var conf config
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&conf)
	default:
		dec := json.NewDecoder(f)
		dec.UseNumber()
		err = dec.Decode(&conf)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", filename)
	}

	if conf.Root == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, errors.Wrap(err, "finding default root")
		}
		conf.Root = filepath.Join(dir, "lds")
	}
	if conf.Store == nil {
		conf.Store = map[string]interface{}{"type": "sqlite3"}
	}
	if conf.OAuth != nil && conf.OAuth.TokenFile == "" {
		conf.OAuth.TokenFile = filepath.Join(conf.Root, "token.json")
	}

	return &conf, nil
}

// storeConf is the store configuration for the account in dir.
func (c *config) storeConf(dir string) map[string]interface{} {
	out := make(map[string]interface{}, len(c.Store)+1)
	for k, v := range c.Store {
		out[k] = v
	}
	switch out["type"] {
	case "sqlite3":
		if _, ok := out["conn"]; !ok {
			out["conn"] = filepath.Join(dir, "lds.db")
		}
	case "badger":
		if _, ok := out["dir"]; !ok {
			out["dir"] = filepath.Join(dir, "badger")
		}
	}
	return out
}
