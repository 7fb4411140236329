package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/rest"
)

func pairCmd() *cobra.Command {
	var (
		ttl     int64
		session string
	)

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Issue a pairing code for a new device",
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
			var ttlArg *int64
			if cmd.Flags().Changed("ttl") {
				ttlArg = &ttl
			}
			ticket, err := api.CreatePairing(commandContext(cmd), token, ttlArg)
			if err != nil {
				return err
			}

			profile.LastPairingCode = ticket.PairCode
			profile.LastPairingExpiresAt = ticket.ExpiresAt
			profile.LastPairingIssuerDeviceID = ticket.IssuerDeviceID
			profile.SessionToken = token
			if err := profile.Save(); err != nil {
				return err
			}

			fmt.Printf("pair_code=%s\n", ticket.PairCode)
			fmt.Printf("expires_at=%s (ttl %ds)\n", ticket.ExpiresAt, ticket.TTL)
			if ticket.IssuerDeviceID != "" {
				fmt.Printf("issuer_device_id=%s\n", ticket.IssuerDeviceID)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&ttl, "ttl", 0, "Pairing code lifetime in seconds (server default when omitted)")
	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")

	return cmd
}

func claimCmd() *cobra.Command {
	var (
		deviceName string
		server     string
		session    string
	)

	cmd := &cobra.Command{
		Use:   "claim <pair-code>",
		Short: "Claim a pairing code on this device",
		Long: `Claim a pairing code issued by another device. Updates the local
profile with the claimed identity when one exists; otherwise pass
--server and run against a fresh machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, loadErr := config.Load()
			if server == "" {
				if loadErr != nil {
					return fmt.Errorf("pass --server or initialise a profile first")
				}
				server = profile.ServerURL
			}
			api, err := rest.New(server)
			if err != nil {
				return err
			}
			claim, err := api.ClaimPairing(commandContext(cmd), args[0], deviceName)
			if err != nil {
				return err
			}

			fmt.Printf("device_id=%s\n", claim.DeviceID)
			fmt.Printf("user=%s (%s)\n", claim.User.Handle, claim.User.ID)
			if claim.DeviceName != "" {
				fmt.Printf("device_name=%s\n", claim.DeviceName)
			}

			if loadErr != nil {
				return nil
			}
			profile.DeviceID = claim.DeviceID
			profile.PrivateKey = claim.PrivateKey
			profile.PublicKey = claim.PublicKey
			profile.UserHandle = claim.User.Handle
			profile.UserDisplayName = claim.User.DisplayName
			profile.UserAvatarURL = claim.User.AvatarURL
			profile.UserID = claim.User.ID
			profile.DeviceName = claim.DeviceName
			if session != "" {
				profile.SessionToken = session
			}
			if err := profile.Save(); err != nil {
				return err
			}
			fmt.Println("profile updated with claimed identity")
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceName, "device-name", "", "Human-readable device label")
	cmd.Flags().StringVar(&server, "server", "", "Server URL (defaults to the profile's)")
	cmd.Flags().StringVar(&session, "session", "", "Session token to remember for REST calls")

	return cmd
}
