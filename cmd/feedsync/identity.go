package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xdao.co/feedsync/identity"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage long-term identities in the key store",
	}
	cmd.AddCommand(identityNewCmd(), identityListCmd(), identityShowCmd())
	return cmd
}

func identityNewCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "new NAME",
		Short: "Generate a new identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := identity.OpenKeyStore(keyDir)
			if err != nil {
				return err
			}
			id, err := ks.Create(args[0], overwrite)
			if err != nil {
				return fmt.Errorf("create key %q: %w", args[0], err)
			}
			printIdentity(cmd, id.Public())
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing key")
	return cmd
}

func identityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := identity.OpenKeyStore(keyDir)
			if err != nil {
				return err
			}
			names, err := ks.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func identityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Print the address and public key of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity(args[0])
			if err != nil {
				return err
			}
			printIdentity(cmd, id.Public())
			return nil
		},
	}
}

func loadIdentity(name string) (identity.PrivateIdentity, error) {
	if name == "" {
		return identity.PrivateIdentity{}, fmt.Errorf("missing --key")
	}
	ks, err := identity.OpenKeyStore(keyDir)
	if err != nil {
		return identity.PrivateIdentity{}, err
	}
	id, err := ks.Load(name)
	if err != nil {
		return identity.PrivateIdentity{}, fmt.Errorf("load key %q: %w", name, err)
	}
	return id, nil
}

func printIdentity(cmd *cobra.Command, id identity.PublicIdentity) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "address\t%s\n", id.Address.Hex())
	_, _ = fmt.Fprintf(out, "publicKey\t%s\n", id.PublicKey)
}
