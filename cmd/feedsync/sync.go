package main

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"xdao.co/feedsync/model"
	"xdao.co/feedsync/privatechannel"
	"xdao.co/feedsync/seal"
	"xdao.co/feedsync/storage/registry"
)

func syncCmd() *cobra.Command {
	var (
		keyName string
		state   string
		post    string
		remove  string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one private channel round with a mutual contact",
		Long: `Queue an optional post or removal, upload the queue to the channel shared
with the contact and print what the contact wrote since the last round.`,
		Example: `  feedsync sync --key alice --state alice-bob.json --post "hello" --localfs-dir ./shared`,
		Args:    cobra.NoArgs,
	}
	store := addStoreFlags(cmd, registry.UsageCLI, "localfs")
	cmd.Flags().StringVar(&keyName, "key", "", "own long-term identity")
	cmd.Flags().StringVar(&state, "state", "", "contact state file (must be mutual)")
	cmd.Flags().StringVar(&post, "post", "", "text of a post to share")
	cmd.Flags().StringVar(&remove, "remove", "", "id of a post to remove")
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
		if !c.IsMutual() {
			return fmt.Errorf("%s: contact is %s, not mutual yet", state, c.Type)
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

		ch := c.Mutual.PrivateChannel
		now := time.Now()
		if post != "" {
			postID, err := uuid.NewV7()
			if err != nil {
				return err
			}
			ch = privatechannel.AddPost(ch, model.Post{
				ID:        postID.String(),
				Text:      post,
				Images:    []model.ImageData{},
				CreatedAt: now.UnixMilli(),
			})
		}
		if remove != "" {
			ch = privatechannel.RemovePost(ch, remove)
		}

		syncer := privatechannel.Syncer{
			Storage: st,
			Crypto:  seal.Keyring{Identity: id},
			Address: id.Address,
			Logger:  logger,
		}
		up := syncer.Sync(cmd.Context(), c.Mutual.Identity, ch)

		out := cmd.OutOrStdout()
		c.Mutual.PrivateChannel = privatechannel.Apply(up,
			func(remote privatechannel.Command) { printCommand(out, "received", remote) },
			func(local privatechannel.Command) { printCommand(out, "sent", local) },
		)
		if err := saveContact(state, c); err != nil {
			return err
		}
		if pending := len(c.Mutual.PrivateChannel.UnsyncedCommands); pending > 0 {
			_, _ = fmt.Fprintf(out, "pending\t%d\n", pending)
		}
		return nil
	}
	return cmd
}

func printCommand(out io.Writer, direction string, c privatechannel.Command) {
	switch c.Type {
	case privatechannel.CommandPost:
		if c.Post != nil {
			_, _ = fmt.Fprintf(out, "%s\tpost\t%s\t%s\n", direction, c.Post.ID, c.Post.Text)
		}
	case privatechannel.CommandRemove:
		_, _ = fmt.Fprintf(out, "%s\tremove\t%s\n", direction, c.ID)
	}
}
