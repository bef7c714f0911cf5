package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/bella/internal/api"
	"github.com/kalambet/bella/internal/config"
	"github.com/kalambet/bella/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to bella",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/chat", api.ChatRequest{Message: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var reply api.ChatResponse
		if err := decodeJSON(resp, &reply); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, reply.Text)
		for _, u := range reply.Updates {
			fmt.Fprintln(out, colorize(colorDim, "  ("+u+")"))
		}
		fmt.Fprintln(out, colorize(colorDim, fmt.Sprintf("  affinity %d%% (%+d)", reply.Affinity, reply.FavorabilityChange)))
		return nil
	},
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the remembered user profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/profile")
		if err != nil {
			return err
		}

		var profile any
		if err := decodeJSON(resp, &profile); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

var profileResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the profile (and with --all, the conversation history)",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/api/profile"
		if all {
			path += "?all=true"
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		if all {
			printSuccess("Profile and history reset")
		} else {
			printSuccess("Profile reset")
		}
		return nil
	},
}

func init() {
	profileResetCmd.Flags().Bool("all", false, "also clear conversation history")
	profileResetCmd.Flags().Bool("yes", false, "confirm the reset")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileResetCmd)
}

// --- history ---

type historyDoc struct {
	Conversations []struct {
		ID                 string    `json:"id"`
		Timestamp          time.Time `json:"timestamp"`
		UserMessage        string    `json:"userMessage"`
		AIResponse         string    `json:"aiResponse"`
		Emotion            string    `json:"emotion"`
		FavorabilityChange int       `json:"favorabilityChange"`
		IsImportant        bool      `json:"isImportant"`
	} `json:"conversations"`
	SessionStarted time.Time `json:"sessionStarted"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent conversation turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var doc historyDoc
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(doc.Conversations) == 0 {
			fmt.Fprintln(out, "No conversation history.")
			return nil
		}
		for _, c := range doc.Conversations {
			mark := " "
			if c.IsImportant {
				mark = colorize(colorYellow, "*")
			}
			fmt.Fprintf(out, "%s %s %s\n", mark, colorize(colorDim, c.Timestamp.Local().Format("01-02 15:04")), c.UserMessage)
			if c.AIResponse != "" {
				fmt.Fprintf(out, "  %s %s\n", colorize(colorCyan, "Bella:"), c.AIResponse)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of turns")
}

// --- storage ---

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the profile and history now (--list to show existing backups)",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var resp *http.Response
		if list {
			resp, err = client.get(cmd.Context(), "/api/storage/backups")
		} else {
			resp, err = client.post(cmd.Context(), "/api/storage/backup", nil)
		}
		if err != nil {
			return err
		}
		var result struct {
			Backups []storage.BackupInfo `json:"backups"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !list {
			printSuccess("Wrote %d backup(s)", len(result.Backups))
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tCREATED\tSIZE\tID")
		for _, b := range result.Backups {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", b.Kind, b.CreatedAt.Local().Format(time.DateTime), b.Size, b.ID)
		}
		return w.Flush()
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the profile or history with a JSON document (e.g. a backup)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.doRaw(cmd.Context(), http.MethodPost, "/api/storage/import", bytes.NewReader(data))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %s", result["imported"])
		return nil
	},
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Drop expired conversation turns now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/maintenance/retention", nil)
		if err != nil {
			return err
		}
		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Removed %d expired turn(s)", result["removed"])
		return nil
	},
}

func init() {
	backupCmd.Flags().Bool("list", false, "list existing backups instead of creating one")
}

func fetchStats(ctx context.Context, c *apiClient) (api.StatsResponse, error) {
	var st api.StatsResponse
	resp, err := c.get(ctx, "/api/storage/stats")
	if err != nil {
		return st, err
	}
	err = decodeJSON(resp, &st)
	return st, err
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show all configuration values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		printConfig(cmd.OutOrStdout(), config.ShowAll(cfg))
		return nil
	},
}

func printConfig(out io.Writer, keys []config.KeyInfo) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tENV")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\n", k.Key, k.Value, k.EnvVar)
	}
	w.Flush()
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s (restart bella to apply)", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
