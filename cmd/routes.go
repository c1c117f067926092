/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"squadbot/pkg/config"
	"squadbot/pkg/handler"
	"squadbot/pkg/intent"
	"squadbot/pkg/message"
	"squadbot/pkg/routing"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var (
	classifyChannel string
	classifyTier    string
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect routing tables",
}

var routesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate routing tables and handler references",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		tables, err := checkRouting(cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		renderTables(cmd.OutOrStdout(), tables)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d command rules, %d intent rules, %d handlers referenced\n",
			path, len(tables.Commands.Rules()), len(tables.Intents.Rules()), len(tables.HandlerIDs()))
		return nil
	},
}

var routesClassifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Show how a message would be routed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channelType, err := message.ParseChannelType(classifyChannel)
		if err != nil {
			return err
		}
		tier, err := message.ParsePermissionTier(classifyTier)
		if err != nil {
			return err
		}

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		tables, err := routing.NewTables(cfg.Routing)
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		decision := tables.Commands.Classify(text, channelType)
		if decision.Path == routing.PathNeedsIntent {
			extractor, err := intent.New(cfg, tables.Intents.Labels())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeouts.Intent())
			defer cancel()

			result, err := extractor.Extract(ctx, text)
			if err != nil {
				return fmt.Errorf("extract intent: %w", err)
			}
			decision = tables.Intents.Resolve(result.Intent, result.Confidence, channelType, tier)
			decision.Entities = result.Entities
		}

		writeDecision(cmd.OutOrStdout(), decision)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.AddCommand(routesCheckCmd)
	routesCmd.AddCommand(routesClassifyCmd)
	routesClassifyCmd.Flags().StringVar(&classifyChannel, "channel", string(message.ChannelBroadcast), "channel type: broadcast, restricted or direct")
	routesClassifyCmd.Flags().StringVar(&classifyTier, "tier", message.TierPublic.String(), "permission tier of the sender")
}

// checkRouting builds the tables and handler registry the gateway would use
// and reports every problem with them.
func checkRouting(cfg *config.Config) (*routing.Tables, error) {
	tables, err := routing.NewTables(cfg.Routing)
	if err != nil {
		return nil, err
	}

	registry := handler.NewRegistry()
	if err := handler.RegisterBuiltins(registry, func() *routing.CommandTable { return tables.Commands }); err != nil {
		return nil, err
	}
	if err := handler.RegisterHTTP(registry, cfg.Handlers, http.DefaultClient); err != nil {
		return nil, err
	}
	if err := tables.CheckHandlers(registry.Has); err != nil {
		return nil, err
	}
	if _, err := intent.New(cfg, tables.Intents.Labels()); err != nil {
		return nil, fmt.Errorf("intent extractor: %w", err)
	}

	return tables, nil
}

func renderTables(w io.Writer, tables *routing.Tables) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	commands := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "PRIORITY", "COMMAND", "CHANNELS", "HANDLER")
	for _, rule := range tables.Commands.Rules() {
		commands.Row(rule.ID, strconv.Itoa(rule.Priority), rule.Command, channelList(rule.Channels), rule.HandlerID)
	}

	intents := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "PRIORITY", "INTENT", "CHANNELS", "MIN TIER", "MIN CONF", "HANDLER")
	for _, rule := range tables.Intents.Rules() {
		intents.Row(rule.ID, strconv.Itoa(rule.Priority), rule.Intent, channelList(rule.Channels),
			rule.MinTier.String(), strconv.FormatFloat(rule.MinConfidence, 'f', 2, 64), rule.HandlerID)
	}

	fmt.Fprintln(w, headerStyle.Render("Direct commands"))
	fmt.Fprintln(w, commands.String())
	fmt.Fprintln(w, headerStyle.Render("Intents"))
	fmt.Fprintln(w, intents.String())
}

func writeDecision(w io.Writer, decision routing.Decision) {
	if decision.Rejected() {
		fmt.Fprintf(w, "rejected: %s\n", decision.Rejection)
		if decision.RuleID != "" {
			fmt.Fprintf(w, "rule:     %s\n", decision.RuleID)
		}
		return
	}

	fmt.Fprintf(w, "path:     %s\n", decision.Path)
	fmt.Fprintf(w, "rule:     %s\n", decision.RuleID)
	fmt.Fprintf(w, "handler:  %s\n", decision.HandlerID)
	if decision.Command != "" {
		fmt.Fprintf(w, "command:  %s %s\n", decision.Command, decision.Args)
	}
	if decision.Intent != "" {
		fmt.Fprintf(w, "intent:   %s\n", decision.Intent)
	}
	if decision.Confidence != nil {
		fmt.Fprintf(w, "confidence: %.2f\n", *decision.Confidence)
	}
}

func channelList(channels []message.ChannelType) string {
	if len(channels) == 0 {
		return "all"
	}

	names := make([]string, 0, len(channels))
	for _, channelType := range channels {
		names = append(names, string(channelType))
	}

	return strings.Join(names, ",")
}
