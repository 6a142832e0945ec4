// File path: internal/cli/dashboard.go
package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/excavator-project/excavator/internal/config"
	"github.com/excavator-project/excavator/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live telemetry dashboard for a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		base := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
		program := tea.NewProgram(tui.New(base), tea.WithAltScreen())
		_, err = program.Run()
		return err
	},
}
