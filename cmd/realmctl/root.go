package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrSnakeDoc/realmlink/internal/client"
	"github.com/MrSnakeDoc/realmlink/internal/connector"
)

var version = "dev"

// cli holds the settings shared by every command.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "realmctl",
		Short: "Drive the connector endpoint of a realmlink service",
		Long: `realmctl talks to the connector endpoint of a service to set it up,
inspect it, and manage the services it knows about.

Settings are read from flags, REALMCTL_* environment variables, and an
optional YAML config file (default: ~/.config/realmctl/config.yaml).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.cfgFile, "config", "c", "", "config file (default: ~/.config/realmctl/config.yaml)")
	flags.StringP("target", "t", "", "base URL of the target service (e.g. http://uploader.local)")
	flags.StringP("secret", "s", "", "secret of the target service, signs management requests")
	flags.String("endpoint", connector.DefaultEndpoint, "path of the connector endpoint")
	flags.Duration("timeout", client.DefaultTimeout, "request timeout")

	for _, name := range []string{"target", "secret", "endpoint", "timeout"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}
	c.v.SetEnvPrefix("REALMCTL")
	c.v.AutomaticEnv()

	root.AddCommand(
		c.setupCmd(),
		c.infoCmd(),
		c.updateCmd(),
		c.removeCmd(),
		c.nonceCmd(),
	)
	return root
}

func (c *cli) initConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		c.v.AddConfigPath(filepath.Join(home, ".config", "realmctl"))
		c.v.SetConfigName("config")
		c.v.SetConfigType("yaml")
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// endpointURL returns the connector endpoint of the target.
func (c *cli) endpointURL() (string, error) {
	target := strings.TrimRight(c.v.GetString("target"), "/")
	if target == "" {
		return "", errors.New("no target given, use --target or REALMCTL_TARGET")
	}
	endpoint := c.v.GetString("endpoint")
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return target + endpoint, nil
}

func (c *cli) secret() (string, error) {
	s := c.v.GetString("secret")
	if s == "" {
		return "", errors.New("no secret given, use --secret or REALMCTL_SECRET")
	}
	return s, nil
}

func (c *cli) client() *client.Client {
	return client.New(nil, client.WithTimeout(c.deadline()))
}

// report prints the response body and turns error envelopes into errors.
func report(out io.Writer, resp *client.Response) error {
	if resp.Data != nil {
		pretty, err := json.MarshalIndent(resp.Data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(pretty))
	} else if len(resp.Body) > 0 {
		fmt.Fprintln(out, resp.String())
	}

	if msg := resp.Field(connector.KeyError); msg != "" {
		return errors.New(msg)
	}
	if !resp.OK() {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}

// deadline is the request timeout, falling back to the client default.
func (c *cli) deadline() time.Duration {
	if d := c.v.GetDuration("timeout"); d > 0 {
		return d
	}
	return client.DefaultTimeout
}
