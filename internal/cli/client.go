package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/giantswarm/oauth-gateway/internal/util"
	"github.com/giantswarm/oauth-gateway/storage"
)

func newClientCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage client registrations",
	}
	cmd.AddCommand(newClientCreateCmd(global))
	return cmd
}

func newClientCreateCmd(global *globalOptions) *cobra.Command {
	var (
		name         string
		secret       string
		redirectURIs []string
		scopes       string
		limit        int64
	)

	cmd := &cobra.Command{
		Use:   "create CLIENT_ID",
		Short: "Create or replace a client in persistent storage",
		Long: `Create or replace a client in the configured storage backend. Omitting
--secret registers a public client.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if global.storage.Type == StorageTypeMemory || global.storage.Type == "" {
				return fmt.Errorf("client create needs persistent storage; use --storage-type sqlite or valkey")
			}
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}

			logger := newLogger(cmd.ErrOrStderr(), global)
			store, closeStore, err := openStore(cmd.Context(), global.storage, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			client := &storage.Client{
				ClientID:     strings.TrimSpace(args[0]),
				ClientName:   name,
				ClientType:   storage.ClientTypeConfidential,
				RedirectURIs: redirectURIs,
				Scopes:       util.SplitList(scopes),
				RequestLimit: limit,
			}
			if secret == "" {
				client.ClientType = storage.ClientTypePublic
			}
			if client.ClientName == "" {
				client.ClientName = client.ClientID
			}

			if err := saveClient(cmd.Context(), store, client, secret); err != nil {
				return fmt.Errorf("failed to save client: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "client %s saved (%s, %d requests/hour)\n",
				client.ClientID, client.ClientType, client.RequestLimit)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human readable client name")
	cmd.Flags().StringVar(&secret, "secret", "", "Client secret (stored as a bcrypt hash)")
	cmd.Flags().StringSliceVar(&redirectURIs, "redirect-uri", nil, "Allowed redirect URIs (repeatable)")
	cmd.Flags().StringVar(&scopes, "scopes", "", "Scopes granted to the client (space or comma separated)")
	cmd.Flags().Int64Var(&limit, "limit", 3600, "Requests allowed per hour")

	return cmd
}
