package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"xdao.co/feedsync/contact"
	"xdao.co/feedsync/storage/registry"
)

func inviteCmd() *cobra.Command {
	var (
		name     string
		state    string
		validity time.Duration
	)
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Start a handshake and print the invite to hand out",
		Example: `  # Create an invite valid for a day and keep the handshake state
  feedsync invite --name Alice --state alice-bob.json --validity 24h > invite.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			c, err := contact.NewInvited(&contact.StorageHelper{}, now)
			if err != nil {
				return err
			}
			var expiry time.Time
			if validity > 0 {
				expiry = now.Add(validity)
			}
			payload, err := contact.InviteFor(*c.Invited, name, expiry).Marshal()
			if err != nil {
				return err
			}
			if err := saveContact(state, c); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "profile name shown to the invitee")
	cmd.Flags().StringVar(&state, "state", "", "handshake state file to create")
	cmd.Flags().DurationVar(&validity, "validity", 0, "invite lifetime; 0 never expires")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func acceptCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "accept INVITE_FILE",
		Short: "Start a handshake from a received invite (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			invite, err := contact.ParseInvite(data)
			if err != nil {
				return err
			}
			c, err := contact.NewCodeReceived(invite, &contact.StorageHelper{}, time.Now())
			if err != nil {
				return err
			}
			if err := saveContact(state, c); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Type, invite.ProfileName)
			return err
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "handshake state file to create")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func advanceCmd() *cobra.Command {
	var (
		keyName string
		name    string
		state   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move a handshake forward as far as the peer allows",
		Long: `Publish this side's next handshake message and poll for the peer's answer.
The state file is rewritten after every step. Run it again until it prints
mutual-contact.`,
		Args: cobra.NoArgs,
	}
	store := addStoreFlags(cmd, registry.UsageCLI, "localfs")
	cmd.Flags().StringVar(&keyName, "key", "", "long-term identity revealed to the peer")
	cmd.Flags().StringVar(&name, "name", "", "profile name revealed to the peer")
	cmd.Flags().StringVar(&state, "state", "", "handshake state file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to poll for the peer")
	_ = cmd.MarkFlagRequired("state")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		logger := setupLogger(verbose)
		defer func() { _ = logger.Sync() }()

		id, err := loadIdentity(keyName)
		if err != nil {
			return err
		}
		c, err := loadContact(state)
		if err != nil {
			return err
		}
		h, err := store.open()
		if err != nil {
			return err
		}
		defer h.CloseQuietly()
		st, err := h.Storage()
		if err != nil {
			return err
		}

		helper := &contact.StorageHelper{
			Storage:  st,
			Identity: id.Public(),
			Name:     name,
			Logger:   logger,
		}
		next, err := contact.Advance(cmd.Context(), c, helper, timeout)
		if err != nil {
			return err
		}
		if err := saveContact(state, next); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), next.Type)
		return err
	}
	return cmd
}

// Handshake state holds private keys, which the wire encoding strips, so it
// is stored with plain encoding/json.
func loadContact(path string) (contact.Contact, error) {
	var c contact.Contact
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func saveContact(path string, c contact.Contact) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
