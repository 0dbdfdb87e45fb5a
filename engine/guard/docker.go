// Package guard implements the container guard: it consumes alerts,
// matches isolation policies and executes enforcement actions on
// containers through a pluggable Docker client.
package guard

import (
	"context"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/dongwonkwak/ironpost/engine/models"
)

// ContainerDetail extends the shared container info with the network
// attachments the guard needs for IP-based target inference and network
// isolation.
type ContainerDetail struct {
	models.ContainerInfo
	// Networks lists attached network names.
	Networks []string
	// IPAddresses lists the container addresses across networks.
	IPAddresses []string
}

// DockerClient is the container runtime capability the guard depends on.
// The production implementation speaks the Docker HTTP API over a Unix
// socket; tests substitute a fake.
type DockerClient interface {
	ListContainers(ctx context.Context) ([]models.ContainerInfo, error)
	Inspect(ctx context.Context, id string) (ContainerDetail, error)
	Pause(ctx context.Context, id string) error
	Unpause(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Kill(ctx context.Context, id, signal string) error
	DisconnectNetwork(ctx context.Context, id, network string) error
	Networks(ctx context.Context, id string) ([]string, error)
	Close() error
}

// apiClient implements DockerClient on the official engine API client.
type apiClient struct {
	cli *client.Client
}

// NewDockerClient connects to the daemon at the given Unix socket path.
func NewDockerClient(socketPath string) (DockerClient, error) {
	host := socketPath
	if !strings.Contains(host, "://") {
		host = "unix://" + host
	}
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, models.WrapError(models.ErrKindContainer, socketPath, err)
	}
	return &apiClient{cli: cli}, nil
}

func (c *apiClient) ListContainers(ctx context.Context) ([]models.ContainerInfo, error) {
	list, err := c.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, models.WrapError(models.ErrKindContainer, "list", err)
	}
	out := make([]models.ContainerInfo, 0, len(list))
	for _, item := range list {
		out = append(out, summaryToInfo(item))
	}
	return out, nil
}

func summaryToInfo(item types.Container) models.ContainerInfo {
	name := ""
	if len(item.Names) > 0 {
		name = strings.TrimPrefix(item.Names[0], "/")
	}
	return models.ContainerInfo{
		ID:        item.ID,
		Name:      name,
		Image:     item.Image,
		Status:    strings.ToLower(item.State),
		Labels:    item.Labels,
		CreatedAt: time.Unix(item.Created, 0),
	}
}

func (c *apiClient) Inspect(ctx context.Context, id string) (ContainerDetail, error) {
	resp, err := c.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerDetail{}, models.WrapError(models.ErrKindContainer, id, err)
	}
	detail := ContainerDetail{
		ContainerInfo: models.ContainerInfo{
			ID:     resp.ID,
			Name:   strings.TrimPrefix(resp.Name, "/"),
			Status: strings.ToLower(resp.State.Status),
		},
	}
	if resp.Config != nil {
		detail.Image = resp.Config.Image
		detail.Labels = resp.Config.Labels
	}
	if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		detail.CreatedAt = created
	}
	if resp.NetworkSettings != nil {
		for name, ep := range resp.NetworkSettings.Networks {
			detail.Networks = append(detail.Networks, name)
			if ep != nil && ep.IPAddress != "" {
				detail.IPAddresses = append(detail.IPAddresses, ep.IPAddress)
			}
		}
	}
	return detail, nil
}

func (c *apiClient) Pause(ctx context.Context, id string) error {
	return models.WrapError(models.ErrKindContainer, id, c.cli.ContainerPause(ctx, id))
}

func (c *apiClient) Unpause(ctx context.Context, id string) error {
	return models.WrapError(models.ErrKindContainer, id, c.cli.ContainerUnpause(ctx, id))
}

func (c *apiClient) Stop(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	return models.WrapError(models.ErrKindContainer, id,
		c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}))
}

func (c *apiClient) Kill(ctx context.Context, id, signal string) error {
	return models.WrapError(models.ErrKindContainer, id, c.cli.ContainerKill(ctx, id, signal))
}

func (c *apiClient) DisconnectNetwork(ctx context.Context, id, network string) error {
	return models.WrapError(models.ErrKindContainer, id,
		c.cli.NetworkDisconnect(ctx, network, id, true))
}

func (c *apiClient) Networks(ctx context.Context, id string) ([]string, error) {
	detail, err := c.Inspect(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail.Networks, nil
}

func (c *apiClient) Close() error { return c.cli.Close() }
