package rooms

import (
	"time"

	"github.com/spf13/viper"
)

// Policy holds the runtime admission-window knobs.
type Policy struct {
	// EarlyJoin is the head start invites advertise before the scheduled
	// start. Issuers fold it into the token's not-before; admission
	// denies early_join strictly while now < not-before.
	EarlyJoin time.Duration `mapstructure:"early_join"`

	// LateJoinAfter bounds joins past the scheduled start when
	// RestrictLateJoin is on. A token-level grace extends it.
	LateJoinAfter    time.Duration `mapstructure:"late_join_after"`
	RestrictLateJoin bool          `mapstructure:"restrict_late_join"`

	// IdleTTL evicts rooms that stayed empty for this long. Ended rooms
	// are exempt so their join block holds for the process lifetime.
	// Zero disables the sweep; entries then persist until restart.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("early_join"), "15m")
	v.SetDefault(p("late_join_after"), "30m")
	v.SetDefault(p("restrict_late_join"), false)
	v.SetDefault(p("idle_ttl"), "0")
}
