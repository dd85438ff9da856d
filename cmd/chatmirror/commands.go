package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/chatmirror/internal/config"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync now",
	Long: `Run a sync on the daemon and wait for it to finish.

Examples:
  chatmirror sync
  chatmirror sync --source inbox
  chatmirror sync --source folder_12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/sync"
		if source != "" {
			path += "/" + url.PathEscape(source)
		}
		printStep("Syncing %s...", sourceLabel(source))
		var result struct {
			Total int `json:"total"`
		}
		if err := client.call(cmd.Context(), http.MethodPost, path, nil, &result); err != nil {
			return err
		}
		printSuccess("Synced %d chats", result.Total)
		return nil
	},
}

var syncRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent orchestrated runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var runs []struct {
			ID         string `json:"id"`
			StartedAt  string `json:"started_at"`
			FinishedAt string `json:"finished_at"`
			Total      int    `json:"total"`
			Error      string `json:"error"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, fmt.Sprintf("/sync/runs?limit=%d", limit), nil, &runs); err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			outcome := fmt.Sprintf("%d chats", r.Total)
			switch {
			case r.FinishedAt == "":
				outcome = colorize(colorYellow, "running")
			case r.Error != "":
				outcome = colorize(colorRed, r.Error)
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, shortID(r.ID)), r.StartedAt, outcome)
		}
		return nil
	},
}

func sourceLabel(source string) string {
	if source == "" {
		return "all sources"
	}
	return source
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	syncCmd.Flags().String("source", "", "sync only this source (inbox, archives or folder_<id>)")
	syncRunsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	syncCmd.AddCommand(syncRunsCmd)
}

// --- chats ---

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Browse the local chat mirror",
}

type chatSummary struct {
	Key          string         `json:"key"`
	LastActivity string         `json:"last_activity"`
	Archived     bool           `json:"archived"`
	Payload      map[string]any `json:"payload"`
}

func chatTitle(c chatSummary) string {
	for _, k := range []string{"title", "name", "subject"} {
		if s, ok := c.Payload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mirrored chats, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		q.Set("offset", fmt.Sprint(offset))
		if cmd.Flags().Changed("archived") {
			archived, _ := cmd.Flags().GetBool("archived")
			q.Set("archived", fmt.Sprint(archived))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list struct {
			Chats []chatSummary `json:"chats"`
			Total int           `json:"total"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, "/chats?"+q.Encode(), nil, &list); err != nil {
			return err
		}
		if len(list.Chats) == 0 {
			fmt.Println("No chats found.")
			return nil
		}

		for _, c := range list.Chats {
			marker := " "
			if c.Archived {
				marker = "A"
			}
			title := truncate(chatTitle(c), 60)
			fmt.Printf("%s %s  %s  %s\n", marker, colorize(colorCyan, c.Key), c.LastActivity, title)
		}
		fmt.Printf("\n%d of %d chats\n", len(list.Chats), list.Total)
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a single chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var c any
		if err := client.call(cmd.Context(), http.MethodGet, "/chats/"+url.PathEscape(args[0]), nil, &c); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("no chat %s in the mirror: %w", args[0], err)
			}
			return err
		}
		return printJSON(c)
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a chat from the local mirror",
	Long: `Remove a chat from the local mirror. The chat comes back on the next
full sync of the source it belongs to.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodDelete, "/chats/"+url.PathEscape(args[0]), nil, &result); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("no chat %s in the mirror: %w", args[0], err)
			}
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var chatsStateCmd = &cobra.Command{
	Use:   "state <key> <field> <value>",
	Short: "Set a local UI state field on a chat",
	Long: `Set a local UI state field on a chat. The value is parsed as JSON when
possible, so true, 3 and {"a":1} keep their types. Use null to remove a field.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, field, raw := args[0], args[1], args[2]

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var c any
		if err := client.call(cmd.Context(), http.MethodPatch, "/chats/"+url.PathEscape(key)+"/state", map[string]any{field: value}, &c); err != nil {
			return err
		}
		printSuccess("Set %s on %s", field, key)
		return nil
	},
}

func init() {
	chatsListCmd.Flags().Int("limit", 50, "maximum number of chats to list")
	chatsListCmd.Flags().Int("offset", 0, "number of chats to skip")
	chatsListCmd.Flags().Bool("archived", false, "only archived (true) or only active (false) chats")
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	chatsCmd.AddCommand(chatsStateCmd)
}

// --- watermarks ---

var watermarksCmd = &cobra.Command{
	Use:   "watermarks",
	Short: "Inspect or reset per-source sync watermarks",
}

type syncState struct {
	Source       string `json:"source"`
	LastSyncTime string `json:"last_sync_time"`
	Status       string `json:"status"`
	LastError    string `json:"last_error"`
	LastCount    int    `json:"last_count"`
	UpdatedAt    string `json:"updated_at"`
}

func fetchSyncStates(ctx context.Context, client *apiClient) ([]syncState, error) {
	var states []syncState
	if err := client.call(ctx, http.MethodGet, "/sync/state", nil, &states); err != nil {
		return nil, err
	}
	return states, nil
}

func describeState(st syncState) string {
	mark := "never synced"
	if st.LastSyncTime != "" {
		mark = "watermark " + st.LastSyncTime
	}
	switch st.Status {
	case "ok":
		return fmt.Sprintf("%s, last run %d chats", mark, st.LastCount)
	case "error":
		return fmt.Sprintf("%s, last run failed: %s", mark, st.LastError)
	}
	return mark
}

var watermarksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources and their watermarks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		states, err := fetchSyncStates(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(states) == 0 {
			fmt.Println("No sources synced yet.")
			return nil
		}
		for _, st := range states {
			fmt.Printf("%s  %s\n", colorize(colorBold, st.Source), describeState(st))
		}
		return nil
	},
}

var watermarksResetCmd = &cobra.Command{
	Use:   "reset <source>",
	Short: "Forget a source's watermark so the next run is a full sync",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodDelete, "/sync/state/"+url.PathEscape(args[0]), nil, &result); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("source %s has no watermark: %w", args[0], err)
			}
			return err
		}
		printSuccess("Reset watermark for %s", args[0])
		return nil
	},
}

func init() {
	watermarksCmd.AddCommand(watermarksListCmd)
	watermarksCmd.AddCommand(watermarksResetCmd)
}

// --- navigate ---

var navigateCmd = &cobra.Command{
	Use:   "navigate <url_changed|container_repopulated>",
	Short: "Send a navigation signal to the debounced sync trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/navigation", map[string]string{"event": args[0]}, &result); err != nil {
			return err
		}
		printSuccess("Signal %s accepted", args[0])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			origin := k.Origin
			if origin == config.OriginEnv {
				origin = "env " + k.EnvVar
			}
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+origin+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetIdentityCmd = &cobra.Command{
	Use:   "set-identity <token>",
	Short: "Store the remote identity token in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := strings.TrimSpace(args[0])
		if token == "" {
			return fmt.Errorf("identity token must not be empty")
		}
		if err := config.SetIdentityToken(token); err != nil {
			return err
		}
		printSuccess("Identity token stored; restart the daemon to use it")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetIdentityCmd)
}
