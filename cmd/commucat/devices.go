package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage devices registered to the account",
	}
	cmd.AddCommand(devicesListCmd(), devicesRevokeCmd())
	return cmd
}

func devicesListCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the account's devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			token, err := resolveSession(session, profile)
			if err != nil {
				return err
			}
			api, err := restFor(profile)
			if err != nil {
				return err
			}
			devices, err := api.ListDevices(commandContext(cmd), token)
			if err != nil {
				return err
			}
			for _, device := range devices {
				marker := ""
				if device.Current {
					marker = " (current)"
				}
				fmt.Printf("%s%s status=%s created_at=%s\n",
					device.DeviceID, marker, device.Status, device.CreatedAt)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}

func devicesRevokeCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Revoke a device's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			token, err := resolveSession(session, profile)
			if err != nil {
				return err
			}
			api, err := restFor(profile)
			if err != nil {
				return err
			}
			if err := api.RevokeDevice(commandContext(cmd), token, args[0]); err != nil {
				return err
			}
			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}
