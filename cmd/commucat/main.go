package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/commucat/client-go/config"
	"github.com/commucat/client-go/rest"
	"github.com/commucat/client-go/transport"
)

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "commucat",
		Short:         "Interactive CCP-1 console client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		initCmd(),
		connectCmd(),
		pairCmd(),
		claimCmd(),
		devicesCmd(),
		friendsCmd(),
		infoCmd(),
		exportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// loadProfile reads the saved client state, failing with a hint when the
// profile has not been initialised yet.
func loadProfile() (*config.Profile, error) {
	profile, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load profile (run 'commucat init' first): %w", err)
	}
	return profile, nil
}

// restFor builds a management API client honoring the profile's trust
// settings.
func restFor(profile *config.Profile) (*rest.Client, error) {
	dialer := &transport.Dialer{CAPath: profile.TLSCAPath, Insecure: profile.Insecure}
	httpClient, err := dialer.HTTPClient()
	if err != nil {
		return nil, err
	}
	return rest.NewWithHTTPClient(profile.ServerURL, httpClient)
}

// resolveSession picks the session token: an explicit flag wins over the
// one remembered from the last handshake.
func resolveSession(explicit string, profile *config.Profile) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if profile.SessionToken != "" {
		return profile.SessionToken, nil
	}
	return "", fmt.Errorf("no session token: connect first or pass --session")
}

// printServerInfo reports discovery results the way every command that
// touches /api/server-info does.
func printServerInfo(info *rest.ServerInfo) {
	fmt.Printf("domain=%s\n", info.Domain)
	fmt.Printf("noise_public=%s\n", info.NoisePublic)
	if len(info.SupportedPatterns) > 0 {
		fmt.Printf("supported_patterns=%v\n", info.SupportedPatterns)
	}
	if len(info.SupportedVersions) > 0 {
		fmt.Printf("supported_versions=%v\n", info.SupportedVersions)
	}
	if info.Pairing != nil {
		fmt.Printf("pairing: auto_approve=%t max_auto_devices=%d ttl=%ds\n",
			info.Pairing.AutoApprove, info.Pairing.MaxAutoDevices, info.Pairing.PairingTTL)
	}
	if info.DeviceCAPublic != "" {
		fmt.Printf("device_ca_public=%s\n", info.DeviceCAPublic)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
