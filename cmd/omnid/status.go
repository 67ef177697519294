package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(18)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

type healthInfo struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type serverInfo struct {
	ServerID        string `json:"server_id"`
	ServerName      string `json:"server_name"`
	ServerPublicKey string `json:"server_public_key"`
	Version         string `json:"version"`
}

type serverStats struct {
	TotalServers         int `json:"total_servers"`
	PublicServers        int `json:"public_servers"`
	AuthenticatedServers int `json:"authenticated_servers"`
}

func statusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}

			var health healthInfo
			if err := fetchJSON(client, addr+"/api/v1/health", &health); err != nil {
				fmt.Println(boxStyle.Render(
					titleStyle.Render("Omni Core") + "\n" +
						labelStyle.Render("Status") + badStyle.Render("unreachable") + "\n" +
						labelStyle.Render("Address") + addr))
				return fmt.Errorf("server unreachable: %w", err)
			}

			var info serverInfo
			if err := fetchJSON(client, addr+"/api/v1/server/info", &info); err != nil {
				return fmt.Errorf("fetch server info: %w", err)
			}

			var stats serverStats
			if err := fetchJSON(client, addr+"/api/v1/servers/stats", &stats); err != nil {
				return fmt.Errorf("fetch federation stats: %w", err)
			}

			status := okStyle.Render(health.Status)
			if health.Status != "healthy" {
				status = badStyle.Render(health.Status)
			}

			out := titleStyle.Render("Omni Core") + "\n" +
				labelStyle.Render("Status") + status + "\n" +
				labelStyle.Render("Server ID") + info.ServerID + "\n" +
				labelStyle.Render("Name") + info.ServerName + "\n" +
				labelStyle.Render("Version") + health.Version + "\n" +
				labelStyle.Render("Public key") + info.ServerPublicKey + "\n" +
				labelStyle.Render("Known servers") + fmt.Sprintf("%d (%d public, %d authenticated)",
				stats.TotalServers, stats.PublicServers, stats.AuthenticatedServers)

			fmt.Println(boxStyle.Render(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server base URL")
	return cmd
}

func fetchJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
