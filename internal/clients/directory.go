// Package clients loads the directory of reporting clients: their ad
// account ids per platform and their custom conversion identifiers.
package clients

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/radiusdt/insights-cache/internal/funnel"
	"github.com/radiusdt/insights-cache/internal/models"
	"gopkg.in/yaml.v3"
)

// Client is one reporting client.
type Client struct {
	ID               string
	Name             string
	MetaAccountID    string
	GoogleCustomerID string
	// CustomEvents are client-specific conversion identifiers that take
	// precedence over generic events for their slot.
	CustomEvents map[funnel.Slot][]string
}

// AccountID returns the client's account on platform p, or "" when the
// client does not advertise there.
func (c *Client) AccountID(p models.Platform) string {
	switch p {
	case models.PlatformMeta:
		return c.MetaAccountID
	case models.PlatformGoogle:
		return c.GoogleCustomerID
	}
	return ""
}

// Platforms lists the platforms the client has an account on.
func (c *Client) Platforms() []models.Platform {
	var out []models.Platform
	for _, p := range []models.Platform{models.PlatformMeta, models.PlatformGoogle} {
		if c.AccountID(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Directory resolves clients by id.
type Directory interface {
	Get(ctx context.Context, clientID string) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
}

type fileClient struct {
	ID               string              `yaml:"id"`
	Name             string              `yaml:"name"`
	MetaAccountID    string              `yaml:"meta_account_id"`
	GoogleCustomerID string              `yaml:"google_customer_id"`
	CustomEvents     map[string][]string `yaml:"custom_events"`
}

type fileDoc struct {
	Clients []fileClient `yaml:"clients"`
}

// StaticDirectory is an in-memory Directory, usually loaded from YAML.
type StaticDirectory struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewStaticDirectory builds a directory from already-parsed clients.
func NewStaticDirectory(list ...*Client) *StaticDirectory {
	d := &StaticDirectory{clients: make(map[string]*Client, len(list))}
	for _, c := range list {
		d.clients[c.ID] = c
	}
	return d
}

// LoadFile reads a YAML client directory from path.
func LoadFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client directory: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML client directory.
func Parse(data []byte) (*StaticDirectory, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse client directory: %w", err)
	}

	list := make([]*Client, 0, len(doc.Clients))
	seen := make(map[string]bool, len(doc.Clients))
	for i, fc := range doc.Clients {
		if fc.ID == "" {
			return nil, fmt.Errorf("client #%d: id is required", i+1)
		}
		if seen[fc.ID] {
			return nil, fmt.Errorf("client %q: duplicate id", fc.ID)
		}
		seen[fc.ID] = true

		custom := make(map[funnel.Slot][]string, len(fc.CustomEvents))
		for name, ids := range fc.CustomEvents {
			slot, err := funnel.ParseSlot(name)
			if err != nil {
				return nil, fmt.Errorf("client %q: %w", fc.ID, err)
			}
			custom[slot] = append(custom[slot], ids...)
		}
		list = append(list, &Client{
			ID:               fc.ID,
			Name:             fc.Name,
			MetaAccountID:    fc.MetaAccountID,
			GoogleCustomerID: fc.GoogleCustomerID,
			CustomEvents:     custom,
		})
	}
	return NewStaticDirectory(list...), nil
}

func (d *StaticDirectory) Get(ctx context.Context, clientID string) (*Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownClient, clientID)
	}
	return c, nil
}

// List returns all clients ordered by id.
func (d *StaticDirectory) List(ctx context.Context) ([]*Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Client, 0, len(d.clients))
	for _, c := range d.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
