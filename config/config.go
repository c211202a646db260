// Copyright 2025 Ekjot Singh
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Default configuration values.
const (
	DefMasterAddress = "127.0.0.1:60000"
	DefClientPause   = 30000
	DefRetriesNumber = 5
)

// Config contains the options consumed by the client core.
type Config struct {
	Master Master `toml:"master" json:"master"`
	Client Client `toml:"client" json:"client"`
}

// Master locates the cluster coordinator.
type Master struct {
	// Address is the host:port of the master.
	Address string `toml:"address" json:"address"`
}

// Client holds the retry policy.
type Client struct {
	// Pause is the number of milliseconds slept between retries.
	Pause   uint64  `toml:"pause" json:"pause"`
	Retries Retries `toml:"retries" json:"retries"`
}

// Retries bounds every retried operation.
type Retries struct {
	// Number is the attempt bound N.
	Number int `toml:"number" json:"number"`
}

var defaultConf = Config{
	Master: Master{
		Address: DefMasterAddress,
	},
	Client: Client{
		Pause: DefClientPause,
		Retries: Retries{
			Number: DefRetriesNumber,
		},
	},
}

// NewConfig creates a new config with default values.
func NewConfig() *Config {
	conf := defaultConf
	return &conf
}

// Load loads config options from a toml file, keeping defaults for options
// the file does not mention.
func (c *Config) Load(confFile string) error {
	_, err := toml.DecodeFile(confFile, c)
	return errors.Trace(err)
}

// Valid checks the loaded options.
func (c *Config) Valid() error {
	if c.Master.Address == "" {
		return errors.New("master.address must not be empty")
	}
	if c.Client.Retries.Number < 1 {
		return errors.Errorf("client.retries.number %d out of range, must be at least 1", c.Client.Retries.Number)
	}
	return nil
}

// PauseDuration returns the retry pause as a duration.
func (c *Config) PauseDuration() time.Duration {
	return time.Duration(c.Client.Pause) * time.Millisecond
}
