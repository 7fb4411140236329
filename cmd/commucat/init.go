package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/crypto"
	"github.com/commucat/client-go/rest"
)

func initCmd() *cobra.Command {
	var (
		server           string
		domain           string
		username         string
		userID           string
		displayName      string
		avatarURL        string
		deviceID         string
		deviceName       string
		pattern          string
		prologue         string
		tlsCA            string
		serverStatic     string
		insecure         bool
		presence         string
		presenceInterval uint64
		traceparent      string
		session          string
		pairCode         string
		force            bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the device profile",
		Long: `Create the local device profile: generate a device identity, discover
the server's Noise key, and save everything the connect command needs.
With --pair-code the identity is claimed from an existing device instead
of generated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.StatePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("profile already exists at %s (use --force to overwrite)", path)
			}
			if pairCode == "" && username == "" && userID == "" {
				return fmt.Errorf("pass --username (new user) or --user-id (existing user)")
			}

			profile := &config.Profile{
				ServerURL:            server,
				Domain:               domain,
				NoisePattern:         pattern,
				Prologue:             prologue,
				TLSCAPath:            tlsCA,
				ServerStatic:         serverStatic,
				Insecure:             insecure,
				PresenceState:        presence,
				PresenceIntervalSecs: presenceInterval,
				Traceparent:          traceparent,
				SessionToken:         session,
				DeviceName:           deviceName,
			}

			ctx := commandContext(cmd)
			if pairCode != "" {
				api, err := rest.New(server)
				if err != nil {
					return err
				}
				claim, err := api.ClaimPairing(ctx, pairCode, deviceName)
				if err != nil {
					return fmt.Errorf("claim pairing: %w", err)
				}
				profile.DeviceID = claim.DeviceID
				profile.PrivateKey = claim.PrivateKey
				profile.PublicKey = claim.PublicKey
				profile.UserHandle = claim.User.Handle
				profile.UserID = claim.User.ID
				profile.UserDisplayName = claim.User.DisplayName
				profile.UserAvatarURL = claim.User.AvatarURL
				if claim.DeviceName != "" {
					profile.DeviceName = claim.DeviceName
				}
				fmt.Printf("claimed device %s for user %s\n", claim.DeviceID, claim.User.Handle)
			} else {
				keys, err := crypto.GenerateKeyPair()
				if err != nil {
					return fmt.Errorf("generate device keys: %w", err)
				}
				if deviceID == "" {
					deviceID = "device-" + uuid.NewString()
				}
				profile.DeviceID = deviceID
				profile.PrivateKey = crypto.EncodeKey(keys.Private)
				profile.PublicKey = crypto.EncodeKey(keys.Public)
				profile.UserHandle = username
				profile.UserID = userID
				profile.UserDisplayName = displayName
				profile.UserAvatarURL = avatarURL
			}

			if profile.ServerStatic == "" {
				api, err := rest.New(server)
				if err != nil {
					return err
				}
				info, err := api.ServerInfo(ctx)
				if err != nil {
					return fmt.Errorf("fetch server info: %w", err)
				}
				if info.Domain != domain {
					fmt.Printf("warning: server reports domain %s\n", info.Domain)
				}
				if len(info.SupportedPatterns) > 0 && !patternSupported(info.SupportedPatterns, pattern) {
					fmt.Printf("warning: server supports patterns %v, requested %s\n",
						info.SupportedPatterns, pattern)
				}
				printServerInfo(info)
				profile.ServerStatic = info.NoisePublic
			}

			if err := profile.Save(); err != nil {
				return err
			}
			fmt.Printf("state saved to %s\n", path)
			fmt.Printf("device_id=%s\npublic_key=%s\n", profile.DeviceID, profile.PublicKey)
			if username != "" {
				fmt.Printf("device will register as user %q on first connect\n", username)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server URL, e.g. https://chat.example.org")
	cmd.Flags().StringVar(&domain, "domain", "", "Expected server domain")
	cmd.Flags().StringVar(&username, "username", "", "Handle to register as a new user")
	cmd.Flags().StringVar(&userID, "user-id", "", "Existing user id to attach this device to")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name sent during handshake")
	cmd.Flags().StringVar(&avatarURL, "avatar-url", "", "Avatar URL sent during handshake")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "Device id (generated when empty)")
	cmd.Flags().StringVar(&deviceName, "device-name", "", "Human-readable device label")
	cmd.Flags().StringVar(&pattern, "pattern", "XK", "Noise handshake pattern (XK or IK)")
	cmd.Flags().StringVar(&prologue, "prologue", "commucat", "Noise prologue")
	cmd.Flags().StringVar(&tlsCA, "tls-ca", "", "PEM file replacing the platform trust roots")
	cmd.Flags().StringVar(&serverStatic, "server-static", "", "Server Noise public key (hex, fetched when empty)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().StringVar(&presence, "presence", "online", "Initial presence state")
	cmd.Flags().Uint64Var(&presenceInterval, "presence-interval", 30, "Presence refresh interval in seconds")
	cmd.Flags().StringVar(&traceparent, "traceparent", "", "W3C traceparent attached to the stream request")
	cmd.Flags().StringVar(&session, "session", "", "Session token for REST calls")
	cmd.Flags().StringVar(&pairCode, "pair-code", "", "Claim identity using a pairing code")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing profile")
	cmd.MarkFlagRequired("server")
	cmd.MarkFlagRequired("domain")

	return cmd
}

func patternSupported(supported []string, requested string) bool {
	for _, pattern := range supported {
		if strings.EqualFold(pattern, requested) {
			return true
		}
	}
	return false
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the saved device identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			fmt.Printf("device_id=%s\npublic_key=%s\nprivate_key=%s\n",
				profile.DeviceID, profile.PublicKey, profile.PrivateKey)
			fmt.Printf("server_url=%s domain=%s\n", profile.ServerURL, profile.Domain)
			return nil
		},
	}
}
