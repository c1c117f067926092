/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"squadbot/pkg/gateway"
	"squadbot/pkg/logger"
	"squadbot/pkg/message"
	"squadbot/pkg/ui/console"

	"github.com/spf13/cobra"
)

var (
	consoleTenant  string
	consoleSender  string
	consoleChannel string
	consoleMessage string
	consoleVerbose bool
)

// consoleCmd represents the console command
var consoleCmd = &cobra.Command{
	Use:   "console [text]",
	Short: "Send messages through the router from a terminal",
	Long:  "Assembles the full request pipeline in-process and sends one message, or opens an interactive console posing as a tenant member.",
	Run: func(cmd *cobra.Command, args []string) {
		text := resolveMessage(args)

		session, err := consoleSession(consoleTenant, consoleSender, consoleChannel)
		if err != nil {
			fmt.Printf("invalid console identity: %v\n", err)
			return
		}

		cfg, _, err := loadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		// The TUI owns the terminal; logs are dropped unless asked for.
		appLogger := slog.New(slog.DiscardHandler)
		if consoleVerbose {
			appLogger, err = logger.New(cfg.Logging)
			if err != nil {
				fmt.Printf("failed to initialize logger: %v\n", err)
				return
			}
		}

		ctx := context.Background()
		runtime, err := gateway.BuildRuntime(ctx, cfg, appLogger)
		if err != nil {
			fmt.Printf("failed to assemble request pipeline: %v\n", err)
			return
		}
		defer runtime.Close()

		if text != "" {
			err = console.RunOneShot(ctx, runtime.Router.Handle, session, text)
		} else {
			err = console.RunInteractive(ctx, runtime.Router.Handle, session)
		}
		if err != nil {
			fmt.Printf("console failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().StringVarP(&consoleTenant, "tenant", "t", "", "tenant (team) id to write to")
	consoleCmd.Flags().StringVarP(&consoleSender, "sender", "s", "", "sender id to pose as")
	consoleCmd.Flags().StringVarP(&consoleChannel, "channel", "c", string(message.ChannelDirect), "channel type: broadcast, restricted or direct")
	consoleCmd.Flags().StringVarP(&consoleMessage, "message", "m", "", "message text to send once")
	consoleCmd.Flags().BoolVarP(&consoleVerbose, "verbose", "v", false, "write pipeline logs to stderr")
}

func resolveMessage(args []string) string {
	if value := strings.TrimSpace(consoleMessage); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

func consoleSession(tenant string, sender string, channelType string) (console.Session, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return console.Session{}, fmt.Errorf("--tenant is required")
	}

	senderID, err := message.ParseSenderID(sender)
	if err != nil {
		return console.Session{}, err
	}

	parsed, err := message.ParseChannelType(channelType)
	if err != nil {
		return console.Session{}, err
	}

	return console.Session{TenantID: tenant, SenderID: senderID, ChannelType: parsed}, nil
}
