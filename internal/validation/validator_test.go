package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/readaloudapp/readaloud-server/internal/errors"
)

type chunkRequest struct {
	Text    string  `json:"text" validate:"required"`
	VoiceID string  `json:"voiceId" validate:"voice"`
	Speed   float64 `json:"speed" validate:"gte=0,lte=3"`
}

func TestValidate_Valid(t *testing.T) {
	v := New()

	err := v.Validate(chunkRequest{
		Text:    "Once upon a time.",
		VoiceID: "af_bella",
		Speed:   1.0,
	})
	assert.NoError(t, err)
}

func TestValidate_EmptyVoiceAllowed(t *testing.T) {
	v := New()

	err := v.Validate(chunkRequest{Text: "hello"})
	assert.NoError(t, err)
}

func TestValidate_MissingRequired(t *testing.T) {
	v := New()

	err := v.Validate(chunkRequest{VoiceID: "af_bella"})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domainerrors.CodeValidation, domainErr.Code)

	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["text"])
}

func TestValidate_UnknownVoice(t *testing.T) {
	v := New()

	err := v.Validate(chunkRequest{Text: "hello", VoiceID: "robot_9000"})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.True(t, errors.As(err, &domainErr))

	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a known synthesis voice", details["voiceId"])
}

func TestValidate_RangeViolation(t *testing.T) {
	v := New()

	err := v.Validate(chunkRequest{Text: "hello", Speed: 5})
	require.Error(t, err)

	var domainErr *domainerrors.Error
	require.True(t, errors.As(err, &domainErr))

	details, ok := domainErr.Details.(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details["speed"], "less than or equal to 3")
}
