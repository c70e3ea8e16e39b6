package run

import (
	"testing"

	"github.com/stretchr/testify/require"

	serverconfig "github.com/lingorelay/lingorelay/internal/server/config"
)

func TestNewRunCommandRegistersFlags(t *testing.T) {
	cmd := NewRunCommand()

	for _, name := range []string{
		"datastore-engine",
		"datastore-uri",
		"bus-engine",
		"bus-brokers",
		"authn-method",
		"worker-count",
		"http-addr",
		"metrics-addr",
		"feedback-stream-timeout",
	} {
		require.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestReadConfigDefaults(t *testing.T) {
	config, err := ReadConfig()
	require.NoError(t, err)
	require.NoError(t, config.Verify())

	defaults := serverconfig.DefaultConfig()
	require.Equal(t, defaults.Datastore.Engine, config.Datastore.Engine)
	require.Equal(t, defaults.Bus.Engine, config.Bus.Engine)
	require.Equal(t, defaults.Worker.Count, config.Worker.Count)
	require.Equal(t, defaults.Feedback.StreamTimeout, config.Feedback.StreamTimeout)
}
