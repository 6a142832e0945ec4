// File path: internal/cli/commands.go
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/excavator-project/excavator/internal/config"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		start := time.Now()
		if err := c.get("/health", &out); err != nil {
			return err
		}
		fmt.Printf("pong (%s) in %s\n", out["status"], time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/health", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and catalog rollups",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/status", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.post("/shutdown", nil, nil); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the daemon and start a new one in-process",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.post("/shutdown", nil, nil); err == nil {
			// Give the old instance time to release its lock.
			for i := 0; i < 20; i++ {
				if pingErr := c.get("/health", nil); pingErr != nil {
					break
				}
				time.Sleep(500 * time.Millisecond)
			}
		}
		return runServe()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config to ~/.excavator/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		dir := filepath.Join(home, ".excavator")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		cfg.Sources = []config.SourceConfig{{
			Path:      filepath.Join(home, "Documents"),
			Recursive: true,
			Enabled:   true,
		}}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var queryK int

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over indexed chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		path := fmt.Sprintf("/query?q=%s&k=%d", urlQueryEscape(joinArgs(args)), queryK)
		if err := c.get(path, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var discoveriesCmd = &cobra.Command{
	Use:   "discoveries",
	Short: "List surfaced discoveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/discoveries", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var feedbackNotes string

var feedbackCmd = &cobra.Command{
	Use:   "feedback <discovery-id> <confirm|dismiss>",
	Short: "Confirm or dismiss a discovery",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		body := map[string]string{"action": args[1], "notes": feedbackNotes}
		var out map[string]interface{}
		if err := c.post("/discoveries/"+args[0]+"/feedback", body, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List consolidated entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/entities", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List detected patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/patterns", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var correlateSync bool

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Run the correlation batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		path := "/correlate"
		if correlateSync {
			path = "/correlate/run"
		}
		if err := c.post(path, nil, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var excavateCmd = &cobra.Command{
	Use:   "excavate [root...]",
	Short: "Enqueue a batch extraction over the given roots (default: configured sources)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		body := map[string]interface{}{}
		if len(args) > 0 {
			body["roots"] = args
		}
		var out map[string]interface{}
		if err := c.post("/excavate", body, &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show queue statistics and recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var stats map[string]interface{}
		if err := c.get("/jobs", &stats); err != nil {
			return err
		}
		var recent map[string]interface{}
		if err := c.get("/jobs/recent?limit=10", &recent); err != nil {
			return err
		}
		printJSON(map[string]interface{}{"stats": stats, "recent": recent["jobs"]})
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent daemon log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var out map[string]interface{}
		if err := c.get("/logs?limit=100", &out); err != nil {
			return err
		}
		printJSON(out)
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "top", "k", 5, "number of results")
	feedbackCmd.Flags().StringVar(&feedbackNotes, "notes", "", "optional feedback notes")
	correlateCmd.Flags().BoolVar(&correlateSync, "wait", false, "run synchronously and print the result")
}
