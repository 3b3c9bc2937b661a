package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextLostIsClassifiedThroughWrapping(t *testing.T) {
	err := fmt.Errorf("draw frame: %w", ContextLost(3, nil))
	require.True(t, IsContextLost(err))
	require.ErrorIs(t, err, ErrContextLost)
	require.Equal(t, KindContextLost, KindOf(err))
	require.Contains(t, err.Error(), "ctx-3")
}

func TestMessageTextDoesNotClassify(t *testing.T) {
	err := errors.New("WebGL Context Lost")
	require.False(t, IsContextLost(err))
	require.Equal(t, KindGeneric, KindOf(err))
	require.False(t, IsContextLost(nil))
}

func TestRegistrationFault(t *testing.T) {
	cause := errors.New("nil surface")
	err := Registration("register context", cause)
	require.Equal(t, KindRegistration, KindOf(err))
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrContextLost)
	require.Equal(t, "register context: nil surface", err.Error())
}

func TestGenericOverridesInnerTag(t *testing.T) {
	require.NoError(t, Generic(nil))

	err := Generic(ContextLost(1, nil))
	require.Equal(t, KindGeneric, KindOf(err))
	require.False(t, IsContextLost(err))
	require.ErrorIs(t, err, ErrContextLost, "the cause stays reachable")
	require.Equal(t, "render: rendering context lost (ctx-1)", err.Error())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "generic", KindGeneric.String())
	require.Equal(t, "context_lost", KindContextLost.String())
	require.Equal(t, "registration", KindRegistration.String())
}
