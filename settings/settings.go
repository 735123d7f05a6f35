// Package settings implements meshline's configuration surface: the
// flag/environment-variable table of spec.md §6, loaded through
// github.com/urfave/cli/v2 with environment overrides applied on top of
// flag defaults, and long-term keypair persistence.
//
// Grounded on the teacher's infrastructure/settings.Settings (a small,
// flat, JSON-tagged struct) for the shape of Config, generalized from the
// teacher's TUN/VPN fields to this spec's bind address, queue and rekey
// tunables.
package settings

import "time"

// Config holds every tunable named in spec.md §6's configuration table.
type Config struct {
	BindTo         string        `json:"BindTo"`
	MaxQueueLength int64         `json:"MaxQueueLength"`
	RekeyInterval  time.Duration `json:"RekeyInterval"`
	RekeyMaxBytes  uint64        `json:"RekeyMaxBytes"`
	IdleWindow     time.Duration `json:"IdleWindow"`
	ProtoTimeout   time.Duration `json:"ProtoTimeout"`
	DisableV6      bool          `json:"DisableV6"`
	KeyFile        string        `json:"KeyFile"`
}

// Defaults matches spec.md §6's configuration table.
func Defaults() Config {
	return Config{
		BindTo:         "tcp-43210",
		MaxQueueLength: 8,
		RekeyInterval:  24 * time.Hour,
		RekeyMaxBytes:  1 << 30,
		IdleWindow:     2 * time.Minute,
		ProtoTimeout:   time.Minute,
		DisableV6:      false,
		KeyFile:        "meshline.key.pem",
	}
}
