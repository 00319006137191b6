package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/engine"
	"github.com/droverhq/drover/internal/models"
)

var (
	createAgent           string
	createRepo            string
	createSkipPermissions bool
)

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	createCmd.Flags().StringVar(&createAgent, "agent", "", "agent adapter (default from config)")
	createCmd.Flags().StringVar(&createRepo, "repo", ".", "repository working directory for the agent")
	createCmd.Flags().BoolVar(&createSkipPermissions, "skip-permissions", false, "forward permission bypass to the agent")
}

var createCmd = &cobra.Command{
	Use:   "create <issue-url>",
	Short: "Create a queued loop for a tracked issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		loop, err := eng.CreateLoop(args[0], createAgent, createRepo, createSkipPermissions)
		if err != nil {
			return err
		}
		fmt.Printf("created loop %s for issue #%d (%d criteria)\n",
			loop.ID, loop.Issue.Number, len(loop.Issue.AcceptanceCriteria))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <loop-id>",
	Short: "Start a queued loop and supervise it until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.StartLoop(args[0]); err != nil {
			return err
		}
		return superviseUntilDone(eng, []string{args[0]})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep orphans, start all queued loops, and supervise them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		swept, err := eng.MarkOrphanedPausedLoops()
		if err != nil {
			return err
		}
		if swept > 0 {
			fmt.Printf("%d orphaned loop(s) marked paused from previous session\n", swept)
		}
		eng.SyncIssueBodies()

		loops, err := eng.List()
		if err != nil {
			return err
		}
		var ids []string
		for _, loop := range loops {
			if loop.Status != models.LoopStatusQueued {
				continue
			}
			if err := eng.StartLoop(loop.ID); err != nil {
				fmt.Fprintf(os.Stderr, "start %s: %v\n", loop.ID, err)
				continue
			}
			ids = append(ids, loop.ID)
		}
		if len(ids) == 0 {
			fmt.Println("no queued loops")
			return nil
		}
		return superviseUntilDone(eng, ids)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <loop-id>",
	Short: "Resume a paused loop (signals a live child, or respawns with a work summary)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.ResumeLoop(args[0]); err != nil {
			return err
		}
		return superviseUntilDone(eng, []string{args[0]})
	},
}

// superviseUntilDone blocks until every listed loop reaches a terminal
// status or the operator interrupts. On interrupt every in-flight loop
// is stopped before the process exits, so no child is left running with
// a state document that still claims it.
func superviseUntilDone(eng *engine.Engine, ids []string) error {
	ch, cancel := eng.Bus().Subscribe(64)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if done, err := allTerminal(eng, ids); err != nil || done {
			return err
		}
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "interrupted; stopping supervised loops")
			stopAll(eng, ids)
			return nil
		case <-ch:
		case <-ticker.C:
		}
	}
}

// stopAll stops every non-terminal loop and waits out the terminate
// grace window so children are gone before the supervisor exits.
func stopAll(eng *engine.Engine, ids []string) {
	for _, id := range ids {
		loop, err := eng.Get(id)
		if err != nil || loop.Status.Terminal() {
			continue
		}
		if err := eng.StopLoop(id); err != nil {
			fmt.Fprintf(os.Stderr, "stop %s: %v\n", id, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		anyAlive := false
		for _, id := range ids {
			if eng.HasLiveProcess(id) {
				anyAlive = true
				break
			}
		}
		if !anyAlive {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func allTerminal(eng *engine.Engine, ids []string) (bool, error) {
	for _, id := range ids {
		loop, err := eng.Get(id)
		if err != nil {
			return false, err
		}
		if !loop.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}
