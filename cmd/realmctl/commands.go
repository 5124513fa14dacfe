package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/realmlink/internal/domain"
	"github.com/MrSnakeDoc/realmlink/internal/manifest"
	"github.com/MrSnakeDoc/realmlink/internal/secure"
)

func (c *cli) setupCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set up an unconfigured service from a bootstrap manifest",
		Long: `Post a bootstrap manifest to the connector endpoint of the target.

The manifest names the Connector and the service itself. When it carries
no nonce one is generated and printed to stderr: register it with your
Connector before it is asked for the secret.

Example:
  realmctl setup -f bootstrap.yaml --target http://uploader.local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.NewLoader(file).Load()
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return fmt.Errorf("invalid manifest: %w", err)
			}
			generated, err := m.EnsureNonce()
			if err != nil {
				return err
			}
			if generated {
				fmt.Fprintf(cmd.ErrOrStderr(), "nonce: %s\n", m.This.Nonce)
			}

			endpoint, err := c.endpointURL()
			if err != nil {
				return err
			}
			// Setup requests are not verified, the target has no secret yet.
			resp, err := c.client().Do(cmd.Context(), http.MethodPost, endpoint, m.Payload(), m.This.Nonce)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "bootstrap manifest (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the public data of the target and its Connector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(cmd, http.MethodGet, secure.Params{})
		},
	}
}

func (c *cli) updateCmd() *cobra.Command {
	var (
		id    string
		realm string
		sets  []string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a service record stored on the target",
		Long: `Update the url, function or secret of a service known to the target.

Without --realm every record of the UUID is updated.

Example:
  realmctl update --uuid 92f3f5e0b2cf012d0dca58b035f038ab --set url=https://new.local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.IsUUID(id) {
				return fmt.Errorf("invalid uuid %q", id)
			}
			patch, err := parseSets(sets)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("realm") {
				patch["realm_uuid"] = realm
			}
			return c.send(cmd, http.MethodPut, secure.Params{id: patch})
		},
	}

	cmd.Flags().StringVar(&id, "uuid", "", "UUID of the service to update")
	cmd.Flags().StringVar(&realm, "realm", "", "only update the record in this realm")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field to set as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("uuid")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove UUID...",
		Short: "Delete services stored on the target",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.send(cmd, http.MethodDelete, secure.Params{"uuids": args})
		},
	}
}

func (c *cli) nonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce",
		Short: "Print a fresh nonce for a bootstrap manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := secure.RandomKey(manifest.NonceLength)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), nonce)
			return nil
		},
	}
}

// send signs params with the target secret and reports the response.
func (c *cli) send(cmd *cobra.Command, verb string, params secure.Params) error {
	endpoint, err := c.endpointURL()
	if err != nil {
		return err
	}
	secret, err := c.secret()
	if err != nil {
		return err
	}
	resp, err := c.client().Do(cmd.Context(), verb, endpoint, params, secret)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), resp)
}

func parseSets(sets []string) (map[string]any, error) {
	patch := make(map[string]any, len(sets))
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		switch key {
		case "url", "function", "secret":
			patch[key] = value
		default:
			return nil, errors.New("only url, function and secret can be set")
		}
	}
	return patch, nil
}
