package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsCodeForErrorsIs(t *testing.T) {
	err := fmt.Errorf("activate: %w", Clone(ErrConflict, "session already activating"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "session already activating", FromError(err).Message)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(errors.New("boom"))
	require.NotNil(t, appErr)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Nil(t, FromError(nil))
}

func TestBackendKeepsMessageVerbatim(t *testing.T) {
	err := Backend(http.StatusUnprocessableEntity, "face not recognized")
	assert.Equal(t, "face not recognized", err.Error())
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)
	assert.True(t, errors.Is(err, ErrBackend))

	fallback := Backend(200, "")
	assert.Equal(t, ErrBackend.Status, fallback.Status)
	assert.Equal(t, ErrBackend.Message, fallback.Message)
}
