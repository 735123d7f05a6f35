package settings

import (
	"github.com/urfave/cli/v2"
)

// Flags returns the cli.Flag table backing Config, grounded on the
// urfave/cli/v2 App/Flag wiring bdlsnode's cmd uses for its genkeys/run
// commands. Each flag also reads its matching environment variable from
// spec.md §6's configuration table; cli/v2 gives flag values priority over
// EnvVars, and each flag's Value is taken from Defaults(), so anything left
// unset reads back as its default in FromCLI.
func Flags() []cli.Flag {
	d := Defaults()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "bind-to",
			Value:   d.BindTo,
			Usage:   "listen address, e.g. tcp-43210 or tcp-0.0.0.0:43210",
			EnvVars: []string{"BINDTO"},
		},
		&cli.Int64Flag{
			Name:    "max-queue-length",
			Value:   d.MaxQueueLength,
			Usage:   "backpressure ceiling, in unacknowledged frames, per queue",
			EnvVars: []string{"MAX_QUEUE_LENGTH"},
		},
		&cli.DurationFlag{
			Name:    "rekey-interval",
			Value:   d.RekeyInterval,
			Usage:   "maximum age of a direction's cipher state before a rekey is due",
			EnvVars: []string{"REKEY_INTERVAL"},
		},
		&cli.Uint64Flag{
			Name:    "rekey-max-bytes",
			Value:   d.RekeyMaxBytes,
			Usage:   "maximum bytes transformed under one cipher state before a rekey is due",
			EnvVars: []string{"REKEY_MAX_BYTES"},
		},
		&cli.DurationFlag{
			Name:    "idle-window",
			Value:   d.IdleWindow,
			Usage:   "time without traffic after which a LIVE queue is timed out",
			EnvVars: []string{"IDLE_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "proto-timeout",
			Value:   d.ProtoTimeout,
			Usage:   "time allowed for a still-unverified handshake to complete",
			EnvVars: []string{"PROTO_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "disable-v6",
			Value:   d.DisableV6,
			Usage:   "read into the configuration but not applied: binding and dialing do not consult it",
			EnvVars: []string{"DISABLE_V6"},
		},
		&cli.StringFlag{
			Name:    "key-file",
			Value:   d.KeyFile,
			Usage:   "path to the PEM-encoded long-term Ed25519 identity keypair",
			EnvVars: []string{"KEY_FILE"},
		},
	}
}

// FromCLI builds a Config from an already-parsed cli.Context.
func FromCLI(c *cli.Context) Config {
	return Config{
		BindTo:         c.String("bind-to"),
		MaxQueueLength: c.Int64("max-queue-length"),
		RekeyInterval:  c.Duration("rekey-interval"),
		RekeyMaxBytes:  c.Uint64("rekey-max-bytes"),
		IdleWindow:     c.Duration("idle-window"),
		ProtoTimeout:   c.Duration("proto-timeout"),
		DisableV6:      c.Bool("disable-v6"),
		KeyFile:        c.String("key-file"),
	}
}
