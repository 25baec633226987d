package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

type Config struct {
	// ListenAddress is the address the HTTP server binds to
	ListenAddress string `json:"listen-address"`
	// Project is the name of the GCP project; resolved from the metadata server when empty
	Project string `json:"project"`
	// ProbePort is the game server query port
	ProbePort int `json:"probe-port"`
	// ProbeTimeout bounds a single game server probe
	ProbeTimeout time.Duration `json:"probe-timeout"`
	// OperationTimeout bounds waiting for a single compute operation
	OperationTimeout time.Duration `json:"operation-timeout"`
	// DevelopMode mode
	DevelopMode bool `json:"develop-mode"`
}

func NewConfig(c *cli.Context) *Config {
	var cfg Config
	cfg.ListenAddress = c.String("listen-address")
	cfg.Project = c.String("project")
	cfg.ProbePort = c.Int("probe-port")
	cfg.ProbeTimeout = c.Duration("probe-timeout")
	cfg.OperationTimeout = c.Duration("operation-timeout")
	cfg.DevelopMode = c.Bool("develop-mode")
	return &cfg
}
