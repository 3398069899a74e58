package domain

// Default synthesis settings. These mirror the defaults of the Kokoro TTS
// backend so that omitting a field and passing its default produce the same
// cache fingerprint.
const (
	DefaultSpeed       = 1.0
	DefaultTemperature = 0.7
	DefaultVoiceID     = "af_bella"
)

// SynthesisSettings are the tunable parameters sent to the synthesis backend.
// Zero values mean "use the default"; call WithDefaults before fingerprinting
// or synthesis so both paths see identical values.
type SynthesisSettings struct {
	Speed       float64 `json:"speed,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// WithDefaults returns a copy with zero fields replaced by the documented
// defaults (speed 1.0, temperature 0.7).
func (s SynthesisSettings) WithDefaults() SynthesisSettings {
	if s.Speed == 0 {
		s.Speed = DefaultSpeed
	}
	if s.Temperature == 0 {
		s.Temperature = DefaultTemperature
	}
	return s
}

// Voice describes a synthesis voice offered by the backend.
type Voice struct {
	ID      string `json:"id"`
	Default bool   `json:"default,omitempty"`
}

// KokoroVoices lists the voices shipped with the Kokoro backend.
// Used as a fallback when the backend's /voices endpoint is unreachable.
var KokoroVoices = []string{
	"af_bella",
	"af_nicole",
	"af_sarah",
	"af_sky",
	"am_adam",
	"am_michael",
	"bf_emma",
	"bf_isabella",
	"bm",
}

// IsKnownVoice reports whether id is one of the shipped Kokoro voices.
func IsKnownVoice(id string) bool {
	for _, v := range KokoroVoices {
		if v == id {
			return true
		}
	}
	return false
}
