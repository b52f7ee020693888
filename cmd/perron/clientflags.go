package main

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/addityasingh/perron/internal/targets"
	"github.com/addityasingh/perron/pkg/perron"
)

// clientFlags are the client settings shared by get, probe and watch.
type clientFlags struct {
	fs *pflag.FlagSet

	connectTimeout   time.Duration
	readTimeout      time.Duration
	fixedReadTimeout bool
	timing           bool
	noKeepAlive      bool
}

func (c *clientFlags) register(fs *pflag.FlagSet) {
	c.fs = fs
	fs.DurationVar(&c.connectTimeout, "connect-timeout", perron.DefaultConnectionTimeout, "Time allowed to establish a new connection")
	fs.DurationVar(&c.readTimeout, "read-timeout", perron.DefaultReadTimeout, "Time allowed without response activity once connected")
	fs.BoolVar(&c.fixedReadTimeout, "fixed-read-timeout", false, "Measure the read timeout from connect instead of resetting it on activity")
	fs.BoolVar(&c.timing, "timing", true, "Record per-phase timings")
	fs.BoolVar(&c.noKeepAlive, "no-keepalive", false, "Open a new connection for every request")
}

// config merges file defaults with flags; flags that were set explicitly win.
func (c *clientFlags) config(d targets.Defaults) perron.Config {
	cfg := perron.DefaultConfig()
	cfg.Timing = c.timing

	if d.ConnectTimeout > 0 {
		cfg.ConnectionTimeout = d.ConnectTimeout
	}
	if d.ReadTimeout > 0 {
		cfg.ReadTimeout = d.ReadTimeout
	}
	if d.ReadTimeoutMode == "fixed" {
		cfg.ReadTimeoutMode = perron.ReadTimeoutFixed
	}
	if d.Timing != nil && !c.changed("timing") {
		cfg.Timing = *d.Timing
	}

	if c.changed("connect-timeout") {
		cfg.ConnectionTimeout = c.connectTimeout
	}
	if c.changed("read-timeout") {
		cfg.ReadTimeout = c.readTimeout
	}
	if c.changed("fixed-read-timeout") {
		cfg.ReadTimeoutMode = perron.ReadTimeoutIdle
		if c.fixedReadTimeout {
			cfg.ReadTimeoutMode = perron.ReadTimeoutFixed
		}
	}
	return cfg
}

func (c *clientFlags) changed(name string) bool {
	return c.fs != nil && c.fs.Changed(name)
}

func (c *clientFlags) options(g *globals, extra ...perron.Option) []perron.Option {
	opts := []perron.Option{
		perron.WithConfig(c.config(g.file.Defaults)),
		perron.WithKeepAlives(!c.noKeepAlive),
		perron.WithLogger(g.log),
	}
	return append(opts, extra...)
}
