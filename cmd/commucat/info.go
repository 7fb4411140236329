package main

import (
	"github.com/spf13/cobra"

	"github.com/commucat/client-go/rest"
)

func infoCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the server's public parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var api *rest.Client
			if server != "" {
				client, err := rest.New(server)
				if err != nil {
					return err
				}
				api = client
			} else {
				profile, err := loadProfile()
				if err != nil {
					return err
				}
				api, err = restFor(profile)
				if err != nil {
					return err
				}
			}
			info, err := api.ServerInfo(commandContext(cmd))
			if err != nil {
				return err
			}
			printServerInfo(info)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server URL (defaults to the profile's)")
	return cmd
}
