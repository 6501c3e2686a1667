// Package policy maps a render mode to the concrete engine parameters the
// launcher passes to the external render process. Resolution is pure: the
// same mode always yields the same parameters, and every returned value is
// already validated so the engine never sees an out-of-range setting.
package policy

import (
	"strings"

	"renderbox/internal/pkg/errors"
)

// Mode selects the render profile for a job.
type Mode string

const (
	// ModeTurbo is the speed-optimized profile: accelerated ray tracing on,
	// simplified geometry, aggressive sampling limits.
	ModeTurbo Mode = "TURBO"
	// ModeArtist is the quality-oriented profile: no accelerated ray
	// tracing, scene rendered as authored.
	ModeArtist Mode = "ARTIST"
)

// ParseMode normalizes a user-supplied mode selector. Input is
// case-insensitive; "CUSTOM" is accepted as a legacy alias of ARTIST.
// Anything else is a validation error, never a silent default.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TURBO":
		return ModeTurbo, nil
	case "ARTIST", "CUSTOM":
		return ModeArtist, nil
	default:
		return "", errors.Validationf("unknown render mode %q (expected TURBO or ARTIST)", raw)
	}
}

func (m Mode) String() string { return string(m) }

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool { return m == ModeTurbo || m == ModeArtist }
