package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/parcelhub/ledger/testing"
)

func TestInTestModeFollowsEnvironment(t *testing.T) {
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "0")
	require.True(t, InTestMode())
	RefreshTestMode()
	require.False(t, InTestMode())
}
