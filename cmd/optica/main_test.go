package main

import (
	"errors"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/optica/pkg/host"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("optica"))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestCLI_AgentCommands(t *testing.T) {
	cli, ctx := parse(t, "agent", "order", "--port", "9100", "-c", "optica.yaml")
	assert.Equal(t, "agent order", ctx.Command())
	assert.Equal(t, 9100, cli.Agent.Order.Port)
	assert.Equal(t, "optica.yaml", cli.Config)
	assert.Equal(t, "file", cli.ConfigType)
}

func TestCLI_RemoteConfigSource(t *testing.T) {
	cli, ctx := parse(t, "host", "--watch", "--config-type", "etcd", "--config-endpoints", "etcd-1:2379,etcd-2:2379", "-c", "/optica/config")
	assert.Equal(t, "host", ctx.Command())
	assert.True(t, cli.Host.Watch)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cli.ConfigEndpoints)
}

func TestCLI_ImportCatalogNeedsFile(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("optica"))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"import-catalog", "does-not-exist.xlsx"})
	assert.Error(t, err)
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestSplitErrors(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.Join(errors.New("b"), errors.New("c")))
	assert.Equal(t, []string{"a", "b", "c"}, splitErrors(err))
	assert.Equal(t, []string{"single"}, splitErrors(errors.New("single")))
}

func TestCLI_HostRequireAgents(t *testing.T) {
	cli, _ := parse(t, "host", "--require-agents")
	assert.True(t, cli.Host.RequireAgents)

	cli, _ = parse(t, "host")
	assert.False(t, cli.Host.RequireAgents)
}

func TestCheckAgents(t *testing.T) {
	statuses := []host.AgentStatus{
		{ID: "search", Name: "Search Agent", URL: "http://search:9102", Reachable: true},
		{ID: "order", URL: "http://order:9103", Error: "connection refused"},
	}

	assert.NoError(t, checkAgents(statuses, false))

	err := checkAgents(statuses, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order")
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, err.Error(), "search")

	assert.NoError(t, checkAgents(statuses[:1], true))
}
