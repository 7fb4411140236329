package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commucat/client-go/config"
)

func friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage the contact list",
	}
	cmd.AddCommand(
		friendsListCmd(),
		friendsAddCmd(),
		friendsRemoveCmd(),
		friendsPullCmd(),
		friendsPushCmd(),
	)
	return cmd
}

func friendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the saved contact list",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			if len(profile.Friends) == 0 {
				fmt.Println("no friends saved")
				return nil
			}
			for _, entry := range profile.Friends {
				printFriend(entry)
			}
			return nil
		},
	}
}

func friendsAddCmd() *cobra.Command {
	var (
		handle  string
		alias   string
		push    bool
		session string
	)

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add or update a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			profile.UpsertFriend(config.FriendEntry{
				UserID: args[0],
				Handle: handle,
				Alias:  alias,
			})
			if err := profile.Save(); err != nil {
				return err
			}
			fmt.Printf("saved %s\n", args[0])
			if push {
				return pushFriends(cmd, profile, session)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&handle, "handle", "", "Contact's handle")
	cmd.Flags().StringVar(&alias, "alias", "", "Local display alias")
	cmd.Flags().BoolVar(&push, "push", false, "Push the updated list to the server")
	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}

func friendsRemoveCmd() *cobra.Command {
	var (
		push    bool
		session string
	)

	cmd := &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			if !profile.RemoveFriend(args[0]) {
				return fmt.Errorf("no such friend: %s", args[0])
			}
			if err := profile.Save(); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			if push {
				return pushFriends(cmd, profile, session)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&push, "push", false, "Push the updated list to the server")
	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}

func friendsPullCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Replace the local list with the server's",
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
			friends, err := api.ListFriends(commandContext(cmd), token)
			if err != nil {
				return err
			}
			profile.Friends = friends
			if err := profile.Save(); err != nil {
				return err
			}
			fmt.Printf("pulled %d friends\n", len(friends))
			for _, entry := range friends {
				printFriend(entry)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}

func friendsPushCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Replace the server's list with the local one",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			return pushFriends(cmd, profile, session)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session token (defaults to the saved one)")
	return cmd
}

func pushFriends(cmd *cobra.Command, profile *config.Profile, session string) error {
	token, err := resolveSession(session, profile)
	if err != nil {
		return err
	}
	api, err := restFor(profile)
	if err != nil {
		return err
	}
	if err := api.UpdateFriends(commandContext(cmd), token, profile.Friends); err != nil {
		return err
	}
	fmt.Printf("pushed %d friends\n", len(profile.Friends))
	return nil
}

func printFriend(entry config.FriendEntry) {
	line := entry.UserID
	if entry.Handle != "" {
		line += " handle=" + entry.Handle
	}
	if entry.Alias != "" {
		line += " alias=" + entry.Alias
	}
	fmt.Println(line)
}
