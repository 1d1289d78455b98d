package spawn

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/constellation-run/constellation-go/internal/wire"
)

func TestSpawnDeployedRejectsUnregisteredClosure(t *testing.T) {
	_, cli := net.Pipe()
	defer cli.Close()

	deps := &Deps{Scheduler: cli}
	closure, err := wire.NewClosure[int]("spawn-deployed-test.unregistered", 1)
	require.NoError(t, err)

	_, err = spawnDeployed(context.Background(), deps, pidResourcesFixture(), closure)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not registered")
}

func TestSpawnDeployedRequiresScheduler(t *testing.T) {
	deps := &Deps{}
	closure, err := wire.NewClosure[int]("spawn-deployed-test.no-scheduler", 1)
	require.NoError(t, err)

	_, err = spawnDeployed(context.Background(), deps, pidResourcesFixture(), closure)
	require.Error(t, err)
}
