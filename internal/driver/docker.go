package driver

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// DockerDriver drives backends as containers on a shared Docker network by
// shelling out to the docker CLI, the same mechanism the original prototype
// used via subprocess. It is the production Driver implementation.
type DockerDriver struct {
	Network     string
	Image       string
	SettleDelay time.Duration

	client *http.Client
}

// NewDockerDriver returns a DockerDriver that probes backends with the given
// timeout and waits SettleDelay after a successful run before returning from
// Spawn, giving the backend time to come up before the first health check.
func NewDockerDriver(network, image string, probeTimeout time.Duration) *DockerDriver {
	return &DockerDriver{
		Network:     network,
		Image:       image,
		SettleDelay: 2 * time.Second,
		client:      &http.Client{Timeout: probeTimeout},
	}
}

// Spawn force-removes any existing container named name, then runs a fresh
// one attached to Network with SERVER_ID=name so the backend can identify
// itself, and a matching network alias so the load balancer can address it
// by name.
func (d *DockerDriver) Spawn(ctx context.Context, name string) error {
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", name).Run()

	cmd := exec.CommandContext(ctx, "docker", "run",
		"--name", name,
		"--network", d.Network,
		"--network-alias", name,
		"-e", "SERVER_ID="+name,
		"-d", d.Image,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("driver: docker run %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}

	if d.SettleDelay > 0 {
		select {
		case <-time.After(d.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Remove stops and removes the named container. Errors are reported but
// never fatal to the caller — the load balancer considers a backend gone as
// soon as its registry entry is dropped, regardless of whether the
// underlying container actually disappeared.
func (d *DockerDriver) Remove(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("driver: docker rm %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Probe issues a GET to the backend's heartbeat endpoint and reports Healthy
// iff the response status is 200.
func (d *DockerDriver) Probe(ctx context.Context, name string) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:5000/heartbeat", name), nil)
	if err != nil {
		return Unhealthy
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return Unhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return Healthy
	}
	return Unhealthy
}
