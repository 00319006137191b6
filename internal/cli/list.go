package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/models"
)

var (
	logFollow bool
	logCount  int
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "follow the log")
	logCmd.Flags().IntVarP(&logCount, "lines", "n", 50, "number of recent entries")
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)

	statusStyles = map[models.LoopStatus]lipgloss.Style{
		models.LoopStatusQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		models.LoopStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.LoopStatusPaused:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.LoopStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		models.LoopStatusStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		models.LoopStatusError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		loops, err := eng.List()
		if err != nil {
			return err
		}
		if len(loops) == 0 {
			fmt.Println("no loops")
			return nil
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("%-36s  %-8s  %-9s  %-10s  %s",
			"ID", "AGENT", "STATUS", "CRITERIA", "ISSUE")))
		for _, loop := range loops {
			done := 0
			for _, criterion := range loop.Issue.AcceptanceCriteria {
				if criterion.Completed {
					done++
				}
			}
			status := string(loop.Status)
			if loop.PausedFromPreviousSession {
				status += "*"
			}
			if style, ok := statusStyles[loop.Status]; ok {
				status = style.Render(status)
			}
			fmt.Printf("%-36s  %-8s  %-9s  %-10s  #%d %s\n",
				loop.ID, loop.Agent, status,
				fmt.Sprintf("%d/%d", done, len(loop.Issue.AcceptanceCriteria)),
				loop.Issue.Number, loop.Issue.Title)
		}
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log <loop-id>",
	Short: "Show recent log entries for a loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cfg, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		id := args[0]
		if _, err := eng.Get(id); err != nil {
			return err
		}

		entries, err := eng.Journal().ReadRecent(id, logCount)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			printEntry(entry)
		}
		if !logFollow {
			return nil
		}

		cancel := eng.Journal().Tail(id, printEntry, func(err error) {
			fmt.Fprintf(os.Stderr, "tail error: %v\n", err)
		}, cfg.TailPollInterval())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

func printEntry(entry models.LogEntry) {
	content := strings.TrimRight(entry.Content, "\n")
	fmt.Printf("[%s] %-8s %s\n", entry.Timestamp.Format(time.RFC3339), entry.Type, content)
}
