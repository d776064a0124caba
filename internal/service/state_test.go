package service_test

import (
	"testing"

	"github.com/gekkophp/gekko/internal/service"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t.Parallel()
	all := []service.State{service.Pending, service.Running, service.Stopping, service.Exited, service.Failed}
	allowed := map[[2]service.State]bool{
		{service.Pending, service.Running}:  true,
		{service.Running, service.Stopping}: true,
		{service.Running, service.Exited}:   true,
		{service.Running, service.Failed}:   true,
		{service.Stopping, service.Exited}:  true,
		{service.Stopping, service.Failed}:  true,
	}
	for _, src := range all {
		for _, dst := range all {
			require.Equalf(t, allowed[[2]service.State{src, dst}], src.CanTransition(dst), "%s -> %s", src, dst)
		}
	}
	require.True(t, service.Exited.Terminal())
	require.True(t, service.Failed.Terminal())
	require.False(t, service.Stopping.Terminal())
	require.Equal(t, "Unknown", service.State(42).String())
}
