package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nanovm/nanovm/cmd/nanovm/internal/ui"
)

func newInspectCommand() *cobra.Command {
	var addr string
	var session string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Attach a TUI dashboard to a running VM's debug server",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("ws://%s/debug/live/%s", addr, session)
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return fmt.Errorf("dialing %s: %w", url, err)
			}

			p := tea.NewProgram(ui.NewModel(conn), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9229", "debug server address (host:port)")
	cmd.Flags().StringVar(&session, "session", "inspect", "session id to connect as")
	return cmd
}
