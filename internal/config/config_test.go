package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultNeedsOnlyAnID(t *testing.T) {
	c := Default()
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c.NodeID = "a"
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"self in peers", func(c *Config) { c.Peers["a"] = "x:1" }},
		{"cluster size mismatch", func(c *Config) { c.ClusterSize = 5 }},
		{"failure rate", func(c *Config) { c.FailureRate = 1.5 }},
		{"retries", func(c *Config) { c.MaxRetries = 0 }},
		{"lock timeout", func(c *Config) { c.LockTimeout = 0 }},
		{"consensus timeout", func(c *Config) { c.ConsensusTimeout = -time.Second }},
		{"learn wait", func(c *Config) { c.LearnWait = -1 }},
		{"ttl", func(c *Config) { c.ContextTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.NodeID = "a"
			c.Peers = map[string]string{"b": "x:2"}
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers("b=127.0.0.1:7002, c=127.0.0.1:7003,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "127.0.0.1:7002", "c": "127.0.0.1:7003"}, peers)

	for _, bad := range []string{"b", "=x", "b=", "b=x,b=y"} {
		_, err := ParsePeers(bad)
		assert.Error(t, err, bad)
	}
}

func TestRegisterFlags(t *testing.T) {
	c := Default()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	err := fs.Parse([]string{
		"-id", "a",
		"-peers", "c=h:3,b=h:2",
		"-failure-rate", "0.25",
		"-lock-timeout", "2s",
		"-storage", "badger",
	})
	require.NoError(t, err)

	assert.Equal(t, "a", c.NodeID)
	assert.Equal(t, []string{"b", "c"}, c.PeerIDs())
	assert.Equal(t, 0.25, c.FailureRate)
	assert.Equal(t, 2*time.Second, c.LockTimeout)
	assert.Equal(t, "badger", c.Storage)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, "b=h:2,c=h:3", fs.Lookup("peers").Value.String())
	assert.NoError(t, c.Validate())
}
