// Package containers reads container state from the local Docker daemon
// for the dashboard. Read-only: anything that mutates container state
// goes through the command engine instead.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Status summarizes one container for the dashboard.
type Status struct {
	ID      string   `json:"id"`
	Names   []string `json:"names"`
	Image   string   `json:"image"`
	State   string   `json:"state"`
	Status  string   `json:"status"`
	Created int64    `json:"created"`
}

// Provider lists containers from the local Docker daemon. If the daemon
// is unreachable at construction time the provider reports unavailable
// and listing fails gracefully.
type Provider struct {
	client    client.APIClient
	available bool
}

// NewProvider connects to the Docker daemon from the environment. A
// missing or unreachable daemon is not an error; the provider is simply
// marked unavailable.
func NewProvider() *Provider {
	p := &Provider{}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return p
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return p
	}

	p.client = cli
	p.available = true
	return p
}

// Available reports whether the Docker daemon is reachable.
func (p *Provider) Available() bool { return p.available }

// List returns all containers, running and stopped.
func (p *Provider) List(ctx context.Context) ([]Status, error) {
	if !p.available {
		return nil, fmt.Errorf("docker daemon not available")
	}
	summaries, err := p.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	statuses := make([]Status, 0, len(summaries))
	for _, c := range summaries {
		statuses = append(statuses, Status{
			ID:      c.ID,
			Names:   c.Names,
			Image:   c.Image,
			State:   string(c.State),
			Status:  c.Status,
			Created: c.Created,
		})
	}
	return statuses, nil
}

// Close releases the daemon connection.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
