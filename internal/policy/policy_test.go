package policy

import (
	"testing"

	"renderbox/internal/pkg/errors"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"TURBO", ModeTurbo, false},
		{"turbo", ModeTurbo, false},
		{"  Turbo ", ModeTurbo, false},
		{"ARTIST", ModeArtist, false},
		{"artist", ModeArtist, false},
		{"CUSTOM", ModeArtist, false},
		{"custom", ModeArtist, false},
		{"", "", true},
		{"WARP", "", true},
		{"TURBO2", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) = %q, expected error", tt.input, got)
				}
				if !errors.IsValidation(err) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestModeValid(t *testing.T) {
	if !ModeTurbo.Valid() || !ModeArtist.Valid() {
		t.Error("known modes must be valid")
	}
	if Mode("CUSTOM").Valid() {
		t.Error("CUSTOM is an input alias, not a stored mode")
	}
	if Mode("").Valid() {
		t.Error("empty mode must be invalid")
	}
}

func TestTurboValidateClamps(t *testing.T) {
	s := TurboSettings{
		SimplifySubdivisionRender: 99,
		Samples:                   0,
		AdaptiveThreshold:         5,
		Denoiser:                  "MAGIC",
		MaxBounces:                -1,
		DiffuseBounces:            1000,
		GlossyBounces:             -3,
		TransmissionBounces:       70,
		TransparentMaxBounces:     -2,
		VolumeBounces:             65,
		ClampDirect:               -1,
		ClampIndirect:             500,
		FilterGlossy:              99,
		TileSize:                  1,
	}.Validate()

	if s.SimplifySubdivisionRender != MaxSimplifySubdivision {
		t.Errorf("subdivision = %d, want ceiling %d", s.SimplifySubdivisionRender, MaxSimplifySubdivision)
	}
	if s.Samples != 1 {
		t.Errorf("samples = %d, want 1", s.Samples)
	}
	if s.AdaptiveThreshold != 1.0 {
		t.Errorf("adaptive threshold = %v, want 1.0", s.AdaptiveThreshold)
	}
	if s.Denoiser != "OPENIMAGEDENOISE" {
		t.Errorf("denoiser = %q, want default", s.Denoiser)
	}
	if s.MaxBounces != 0 || s.GlossyBounces != 0 || s.TransparentMaxBounces != 0 {
		t.Errorf("negative bounces not clamped to 0: %+v", s)
	}
	if s.DiffuseBounces != 64 || s.TransmissionBounces != 64 || s.VolumeBounces != 64 {
		t.Errorf("bounce ceilings not applied: %+v", s)
	}
	if s.ClampDirect != 0 || s.ClampIndirect != 100 || s.FilterGlossy != 10 {
		t.Errorf("clamp fields out of range: %+v", s)
	}
	if s.TileSize != 64 {
		t.Errorf("tile size = %d, want 64", s.TileSize)
	}
}

func TestTurboValidateNormalizesDenoiser(t *testing.T) {
	for _, in := range []string{"optix", " OpenImageDenoise ", "NLM"} {
		s := TurboSettings{Denoiser: in}.Validate()
		if !allowedDenoisers[s.Denoiser] {
			t.Errorf("Validate(%q) denoiser = %q, not in allowed set", in, s.Denoiser)
		}
	}
}

func TestTurboDefaultsAreStable(t *testing.T) {
	def := DefaultTurboSettings()
	if got := def.Validate(); got != def {
		t.Errorf("defaults changed under Validate: %+v != %+v", got, def)
	}
}

func TestResolveTurbo(t *testing.T) {
	p := NewDefault()

	params, err := p.Resolve(ModeTurbo)
	if err != nil {
		t.Fatal(err)
	}
	if !params.UseHIPRT {
		t.Error("turbo must enable the accelerated path")
	}
	if params.SimplifySubdivision != DefaultTurboSettings().SimplifySubdivisionRender {
		t.Errorf("subdivision = %d", params.SimplifySubdivision)
	}
	if params.Turbo.Samples != DefaultTurboSettings().Samples {
		t.Errorf("turbo block not carried: %+v", params.Turbo)
	}
}

func TestResolveArtist(t *testing.T) {
	p := NewDefault()

	params, err := p.Resolve(ModeArtist)
	if err != nil {
		t.Fatal(err)
	}
	if params.UseHIPRT {
		t.Error("artist must not enable the accelerated path")
	}
	if params.SimplifySubdivision != 0 {
		t.Errorf("subdivision = %d, want 0", params.SimplifySubdivision)
	}
	if params.Turbo != (TurboSettings{}) {
		t.Errorf("artist carries a turbo block: %+v", params.Turbo)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	p := New(TurboSettings{SimplifySubdivisionRender: 7, Samples: 128, Denoiser: "OPTIX", TileSize: 256, AdaptiveThreshold: 0.01})

	a, err := p.Resolve(ModeTurbo)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := p.Resolve(ModeTurbo)
	if a != b {
		t.Errorf("Resolve not stable: %+v vs %+v", a, b)
	}
	// Overrides are clamped once at construction.
	if a.SimplifySubdivision != MaxSimplifySubdivision {
		t.Errorf("override subdivision = %d, want %d", a.SimplifySubdivision, MaxSimplifySubdivision)
	}
}

func TestResolveUnknownMode(t *testing.T) {
	p := NewDefault()
	if _, err := p.Resolve(Mode("WARP")); !errors.IsValidation(err) {
		t.Fatalf("got %v, want validation error", err)
	}
}
