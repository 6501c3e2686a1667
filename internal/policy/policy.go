package policy

import "renderbox/internal/pkg/errors"

// RenderParameters is the validated, typed parameter set handed to the
// launcher. It stays typed inside the process; serialization to the engine's
// environment interface happens at the launcher boundary only.
type RenderParameters struct {
	Mode Mode `json:"mode"`

	// UseHIPRT enables the accelerated ray-tracing path. Paired hard with
	// the mode: the accelerated path is only validated in combination with
	// the rest of the turbo settings, so callers cannot toggle it alone.
	UseHIPRT bool `json:"use_hiprt"`

	// SimplifySubdivision is the geometry subdivision detail, never above
	// MaxSimplifySubdivision for any mode.
	SimplifySubdivision int `json:"simplify_subdivision"`

	// Turbo carries the full engine settings block for the turbo profile.
	// Zero value for ARTIST, which renders the scene as authored.
	Turbo TurboSettings `json:"turbo"`
}

// Policy resolves modes to render parameters. The configured turbo override
// is validated once at construction; Resolve is a pure function of the mode.
type Policy struct {
	turbo TurboSettings
}

// New builds a Policy from the configured turbo settings. Whatever the
// config supplied, the stored settings are clamped into their safe ranges.
func New(turbo TurboSettings) *Policy {
	return &Policy{turbo: turbo.Validate()}
}

// NewDefault builds a Policy from the baseline turbo settings.
func NewDefault() *Policy {
	return New(DefaultTurboSettings())
}

// Resolve maps a mode to its engine parameters. Unknown modes are rejected
// at the submission boundary; the error return here is a guard so the
// function stays total.
func (p *Policy) Resolve(mode Mode) (RenderParameters, error) {
	switch mode {
	case ModeTurbo:
		return RenderParameters{
			Mode:                ModeTurbo,
			UseHIPRT:            true,
			SimplifySubdivision: p.turbo.SimplifySubdivisionRender,
			Turbo:               p.turbo,
		}, nil
	case ModeArtist:
		return RenderParameters{
			Mode:                ModeArtist,
			UseHIPRT:            false,
			SimplifySubdivision: 0,
		}, nil
	default:
		return RenderParameters{}, errors.Validationf("unknown render mode %q", string(mode))
	}
}
