/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"squadbot/pkg/directory"
	"squadbot/pkg/message"

	"github.com/spf13/cobra"
)

const directoryWriteTimeout = 10 * time.Second

var (
	directoryName   string
	directoryTenant string
	directorySender string
	directoryPerson string
	directoryRole   string
	directoryStatus string
)

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Manage player and team-member directories",
}

var directoryAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Insert or update a membership record",
	Long:  "Writes one membership record to the configured SQL directory. The memory driver is seeded from config and cannot be written to.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, record, err := membershipFromFlags()
		if err != nil {
			return err
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		dirs, err := directory.Open(cfg.Directory)
		if err != nil {
			return err
		}
		defer dirs.Close()

		store := dirs.Store(name)
		if store == nil {
			return fmt.Errorf("directory driver %q is not writable; add members under directory.members in config", cfg.Directory.Driver)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), directoryWriteTimeout)
		defer cancel()

		if err := dirs.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := store.Put(ctx, record); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "saved %s %s in %s as %s (%s)\n",
			name, record.SenderID, record.TenantID, displayOrDefault(record.Role, "member"), displayOrDefault(record.Status, directory.StatusActive))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(directoryCmd)
	directoryCmd.AddCommand(directoryAddCmd)

	flags := directoryAddCmd.Flags()
	flags.StringVar(&directoryName, "directory", directory.Members, "directory to write: players or members")
	flags.StringVar(&directoryTenant, "tenant", "", "tenant (team) id")
	flags.StringVar(&directorySender, "sender", "", "sender id")
	flags.StringVar(&directoryPerson, "name", "", "display name")
	flags.StringVar(&directoryRole, "role", "", "role, for example captain or member")
	flags.StringVar(&directoryStatus, "status", directory.StatusActive, "active, pending or inactive")
}

func membershipFromFlags() (string, directory.MembershipRecord, error) {
	name := strings.ToLower(strings.TrimSpace(directoryName))
	switch name {
	case directory.Players, directory.Members:
	default:
		return "", directory.MembershipRecord{}, fmt.Errorf("unknown directory %q", directoryName)
	}

	tenant := strings.TrimSpace(directoryTenant)
	if tenant == "" {
		return "", directory.MembershipRecord{}, errors.New("--tenant is required")
	}

	senderID, err := message.ParseSenderID(directorySender)
	if err != nil {
		return "", directory.MembershipRecord{}, err
	}

	record := directory.MembershipRecord{
		TenantID: tenant,
		SenderID: senderID,
		Name:     strings.TrimSpace(directoryPerson),
		Role:     strings.TrimSpace(directoryRole),
		Status:   strings.TrimSpace(directoryStatus),
	}
	if err := directory.ValidateRecord(record); err != nil {
		return "", directory.MembershipRecord{}, err
	}

	return name, record, nil
}

func displayOrDefault(value string, fallback string) string {
	if value == "" {
		return fallback
	}

	return strings.ToLower(value)
}
