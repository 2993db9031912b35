package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nadzzz/dialogcast/internal/engine"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	nameStyle = lipgloss.NewStyle().Bold(true).Width(8)
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Probe the configured synthesis engines and print their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engines := engine.FromConfig(cfg.Engines)
		defer engines.Close()
		engines.Probe(cmd.Context())

		out := cmd.OutOrStdout()
		// Disabled engines are never probed and don't appear.
		for _, st := range engines.Statuses() {
			var state string
			switch {
			case st.Available:
				state = okStyle.Render("available")
			default:
				state = downStyle.Render("unavailable: " + st.Error)
			}
			marker := " "
			if st.Name == engines.Default() {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s %s\n", marker, nameStyle.Render(st.Name), state)
		}
		if !engines.Available() {
			return engine.ErrNoEngineAvailable
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enginesCmd)
}
