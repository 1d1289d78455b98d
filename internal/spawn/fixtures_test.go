package spawn

import (
	"net"

	"github.com/constellation-run/constellation-go/pkg/pid"
)

func pidFixture(port uint16) pid.Pid {
	return pid.New(net.ParseIP("127.0.0.1"), port)
}

func pidResourcesFixture() pid.Resources {
	return pid.Resources{Memory: 64 * 1024 * 1024, CPU: 0.5}
}
