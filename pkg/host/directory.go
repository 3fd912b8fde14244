package host

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/config"
	"github.com/kadirpekel/optica/pkg/observability"
	"github.com/kadirpekel/optica/pkg/remoteagent"
)

// cardFetchTimeout bounds discovery of one agent while building a prompt.
const cardFetchTimeout = 5 * time.Second

// Directory is the host's table of remote agents, keyed by configuration id.
// Agents are addressed by the name their card advertises.
type Directory struct {
	cards  *remoteagent.CardCache
	tracer *observability.Tracer

	mu     sync.RWMutex
	agents map[string]*remoteagent.Connector
}

// Agent is a reachable remote agent and its current card.
type Agent struct {
	ID        string
	Card      *a2a.AgentCard
	Connector *remoteagent.Connector
}

// AgentStatus describes one configured agent as the status endpoint reports it.
type AgentStatus struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Name      string   `json:"name,omitempty"`
	Reachable bool     `json:"reachable"`
	Streaming bool     `json:"streaming,omitempty"`
	Skills    []string `json:"skills,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// NewDirectory connects to every remote agent of cfg. Connectors fetch cards
// lazily, so an agent that is down at startup joins once it answers.
func NewDirectory(cfg *config.HostConfig, tracer *observability.Tracer) (*Directory, error) {
	d := &Directory{
		cards:  remoteagent.NewCardCache(64, 0),
		tracer: tracer,
		agents: make(map[string]*remoteagent.Connector),
	}
	if err := d.Reload(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the agent table. Calls already in flight finish on the
// connectors they started with.
func (d *Directory) Reload(cfg *config.HostConfig) error {
	next := make(map[string]*remoteagent.Connector, len(cfg.RemoteAgents))
	for _, id := range cfg.RemoteAgentIDs() {
		ra := cfg.RemoteAgents[id]
		if ra == nil || ra.URL == "" {
			continue
		}
		opts := remoteagent.OptionsFromConfig(ra, cfg.Router)
		opts.Cards = d.cards
		opts.Tracer = d.tracer
		c, err := remoteagent.New(id, ra.URL, opts)
		if err != nil {
			return err
		}
		next[id] = c
	}
	if len(next) == 0 {
		return fmt.Errorf("no remote agents configured")
	}

	d.mu.Lock()
	prev := d.agents
	d.agents = next
	d.mu.Unlock()

	for id, c := range prev {
		if n, ok := next[id]; !ok || n.URL() != c.URL() {
			d.cards.Invalidate(c.URL())
		}
		_ = c.Close()
	}
	slog.Info("Remote agents configured", "count", len(next), "ids", d.IDs())
	return nil
}

// IDs returns the configured agent ids in order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.agents))
	for id := range d.agents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (d *Directory) snapshot() []*remoteagent.Connector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*remoteagent.Connector, 0, len(d.agents))
	for _, c := range d.agents {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *remoteagent.Connector) int {
		if a.Name() < b.Name() {
			return -1
		}
		if a.Name() > b.Name() {
			return 1
		}
		return 0
	})
	return out
}

// Discover returns the reachable agents, fetching cards concurrently. Agents
// whose card cannot be fetched are left out; on duplicate card names the first
// agent by id wins.
func (d *Directory) Discover(ctx context.Context) []Agent {
	conns := d.snapshot()
	cards := make([]*a2a.AgentCard, len(conns))

	var g errgroup.Group
	for i, c := range conns {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, cardFetchTimeout)
			defer cancel()
			card, err := c.Card(cctx)
			if err != nil {
				slog.Warn("Remote agent unavailable", "agent", c.Name(), "url", c.URL(), "error", err)
				return nil
			}
			cards[i] = card
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(conns))
	var out []Agent
	for i, c := range conns {
		card := cards[i]
		if card == nil {
			continue
		}
		if seen[card.Name] {
			slog.Warn("Duplicate agent name, ignoring agent", "agent", c.Name(), "name", card.Name)
			continue
		}
		seen[card.Name] = true
		out = append(out, Agent{ID: c.Name(), Card: card, Connector: c})
	}
	return out
}

// Status fetches the card of every configured agent.
func (d *Directory) Status(ctx context.Context) []AgentStatus {
	conns := d.snapshot()
	out := make([]AgentStatus, len(conns))

	var g errgroup.Group
	for i, c := range conns {
		g.Go(func() error {
			st := AgentStatus{ID: c.Name(), URL: c.URL()}
			cctx, cancel := context.WithTimeout(ctx, cardFetchTimeout)
			defer cancel()
			card, err := c.Card(cctx)
			if err != nil {
				st.Error = err.Error()
			} else {
				st.Reachable = true
				st.Name = card.Name
				st.Streaming = card.Capabilities.Streaming
				for _, s := range card.Skills {
					st.Skills = append(st.Skills, s.ID)
				}
			}
			out[i] = st
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close releases every connector.
func (d *Directory) Close() error {
	for _, c := range d.snapshot() {
		_ = c.Close()
	}
	return nil
}
