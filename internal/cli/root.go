package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nimbusfs/httpd/pkg/user"
)

var (
	cfgFile string
	log     *zap.Logger
)

// Execute runs the root command with the given process-wide logger.
func Execute(logger *zap.Logger) error {
	log = logger
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "Self-contained HTTP file server",
	Long: `Atlas publishes a directory tree over HTTP/1.1 with optional writes,
WebDAV level-1 semantics, TLS, Basic authentication, and a size- and
age-bounded cache of content-encoded responses.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.atlas.yaml)")
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding the credential store (users.json)")
	viper.BindPFlag("config_dir", rootCmd.PersistentFlags().Lookup("config-dir"))

	viper.SetEnvPrefix("ATLAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal("cannot resolve home directory", zap.Error(err))
		}
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".atlas")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Info("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}

func openUserStore() (*user.Store, error) {
	configDir := viper.GetString("config_dir")
	if configDir == "" {
		configDir = "."
	}
	return user.NewStore(filepath.Join(configDir, "users.json"))
}
