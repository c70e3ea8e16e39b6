// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreEngineConf = "datastore.engine"
	datastoreURIFlag    = "datastore-uri"
	datastoreURIConf    = "datastore.uri"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with LINGORELAY, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("LINGORELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/lingorelay", "$HOME/.lingorelay", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "lingorelay",
		Short: "A resilient asynchronous translation pipeline with pluggable engines and delivery over poll or stream",
		Long: `A resilient asynchronous translation pipeline with pluggable engines and delivery over poll or stream.

LingoRelay accepts translation requests over HTTP, queues them on a message bus, and
processes them with a local engine guarded by a circuit breaker, falling back to a remote
translation API when the local engine is unavailable. Results are delivered by polling,
server-sent event streams, or direct status reads.`,
	}
}
