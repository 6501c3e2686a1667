package policy

import "strings"

// MaxSimplifySubdivision is the hard ceiling for the geometry subdivision
// detail passed to the engine. Values above 5 crash the GPU driver during
// HIP renders on this hardware, so the policy clamps rather than warns.
const MaxSimplifySubdivision = 5

// TurboSettings is the full engine-facing parameter set for the turbo
// profile. Fields carry both yaml tags (config overrides) and json tags
// (the serialized form handed to the render process).
type TurboSettings struct {
	UseSimplify               bool    `json:"use_simplify" yaml:"use_simplify"`
	SimplifySubdivisionRender int     `json:"simplify_subdivision_render" yaml:"simplify_subdivision_render"`
	UseAdaptiveSampling       bool    `json:"use_adaptive_sampling" yaml:"use_adaptive_sampling"`
	Samples                   int     `json:"samples" yaml:"samples"`
	AdaptiveThreshold         float64 `json:"adaptive_threshold" yaml:"adaptive_threshold"`
	UseDenoising              bool    `json:"use_denoising" yaml:"use_denoising"`
	Denoiser                  string  `json:"denoiser" yaml:"denoiser"`
	MaxBounces                int     `json:"max_bounces" yaml:"max_bounces"`
	DiffuseBounces            int     `json:"diffuse_bounces" yaml:"diffuse_bounces"`
	GlossyBounces             int     `json:"glossy_bounces" yaml:"glossy_bounces"`
	TransmissionBounces       int     `json:"transmission_bounces" yaml:"transmission_bounces"`
	TransparentMaxBounces     int     `json:"transparent_max_bounces" yaml:"transparent_max_bounces"`
	VolumeBounces             int     `json:"volume_bounces" yaml:"volume_bounces"`
	ClampDirect               float64 `json:"clamp_direct" yaml:"clamp_direct"`
	ClampIndirect             float64 `json:"clamp_indirect" yaml:"clamp_indirect"`
	FilterGlossy              float64 `json:"filter_glossy" yaml:"filter_glossy"`
	CausticsReflective        bool    `json:"caustics_reflective" yaml:"caustics_reflective"`
	CausticsRefractive        bool    `json:"caustics_refractive" yaml:"caustics_refractive"`
	TileSize                  int     `json:"tile_size" yaml:"tile_size"`
	UsePersistentData         bool    `json:"use_persistent_data" yaml:"use_persistent_data"`
}

// DefaultTurboSettings returns the tuned baseline for the turbo profile.
func DefaultTurboSettings() TurboSettings {
	return TurboSettings{
		UseSimplify:               true,
		SimplifySubdivisionRender: 4,
		UseAdaptiveSampling:       true,
		Samples:                   4096,
		AdaptiveThreshold:         0.001,
		UseDenoising:              false,
		Denoiser:                  "OPENIMAGEDENOISE",
		MaxBounces:                8,
		DiffuseBounces:            2,
		GlossyBounces:             2,
		TransmissionBounces:       4,
		TransparentMaxBounces:     4,
		VolumeBounces:             0,
		ClampDirect:               0,
		ClampIndirect:             0,
		FilterGlossy:              0,
		CausticsReflective:        false,
		CausticsRefractive:        false,
		TileSize:                  1024,
		UsePersistentData:         false,
	}
}

var allowedDenoisers = map[string]bool{
	"OPENIMAGEDENOISE": true,
	"OPTIX":            true,
	"NLM":              true,
}

// Validate returns a copy of s with every field forced into its safe range.
// Unknown denoisers fall back to the default. The subdivision ceiling is a
// safety invariant, not a preference; see MaxSimplifySubdivision.
func (s TurboSettings) Validate() TurboSettings {
	def := DefaultTurboSettings()

	s.SimplifySubdivisionRender = clampInt(s.SimplifySubdivisionRender, 0, MaxSimplifySubdivision)
	s.Samples = clampInt(s.Samples, 1, 65536)
	s.AdaptiveThreshold = clampFloat(s.AdaptiveThreshold, 0.000001, 1.0)
	s.MaxBounces = clampInt(s.MaxBounces, 0, 64)
	s.DiffuseBounces = clampInt(s.DiffuseBounces, 0, 64)
	s.GlossyBounces = clampInt(s.GlossyBounces, 0, 64)
	s.TransmissionBounces = clampInt(s.TransmissionBounces, 0, 64)
	s.TransparentMaxBounces = clampInt(s.TransparentMaxBounces, 0, 64)
	s.VolumeBounces = clampInt(s.VolumeBounces, 0, 64)
	s.ClampDirect = clampFloat(s.ClampDirect, 0, 100)
	s.ClampIndirect = clampFloat(s.ClampIndirect, 0, 100)
	s.FilterGlossy = clampFloat(s.FilterGlossy, 0, 10)
	s.TileSize = clampInt(s.TileSize, 64, 4096)

	s.Denoiser = strings.ToUpper(strings.TrimSpace(s.Denoiser))
	if !allowedDenoisers[s.Denoiser] {
		s.Denoiser = def.Denoiser
	}

	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
