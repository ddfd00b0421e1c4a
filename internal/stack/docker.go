package stack

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// DockerClient reads container state from the local Docker daemon over the
// Engine API. It is only used for the panel host; remote hosts are inspected
// through the remote executor.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient connects to the Docker daemon. socketPath defaults to
// /var/run/docker.sock if empty.
func NewDockerClient(socketPath string) (*DockerClient, error) {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, err
	}
	return &DockerClient{cli: cli}, nil
}

// Close releases the Docker client resources.
func (c *DockerClient) Close() error {
	return c.cli.Close()
}

// Ping checks if the Docker daemon is reachable.
func (c *DockerClient) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// SiteContainers returns all containers (including stopped ones) labeled as
// belonging to the given site.
func (c *DockerClient) SiteContainers(ctx context.Context, domain string) ([]ContainerState, error) {
	f := filters.NewArgs()
	f.Add("label", LabelSite+"="+domain)

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, err
	}

	result := make([]ContainerState, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		result = append(result, ContainerState{
			Name:   name,
			Image:  ctr.Image,
			State:  ctr.State,
			Labels: ctr.Labels,
		})
	}
	return result, nil
}
