package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	toggleUncheck     bool
	closeIssueComment string
)

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(closeIssueCmd)

	toggleCmd.Flags().BoolVar(&toggleUncheck, "uncheck", false, "mark the criterion incomplete instead")
	closeIssueCmd.Flags().StringVar(&closeIssueComment, "comment", "", "closing comment")
}

var pauseCmd = &cobra.Command{
	Use:   "pause <loop-id>",
	Short: "Pause a running loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.PauseLoop(args[0])
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <loop-id>",
	Short: "Stop a running or paused loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.StopLoop(args[0])
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <loop-id>",
	Short: "Retry an errored or stopped loop and supervise it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.RetryLoop(args[0]); err != nil {
			return err
		}
		return superviseUntilDone(eng, []string{args[0]})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <loop-id> <message>",
	Short: "Send an intervention message to a running loop's agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.SendIntervention(args[0], args[1])
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <loop-id>",
	Short: "Discard a loop paused from a previous session, deleting its log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.DiscardPausedLoop(args[0])
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <loop-id> <criterion-number>",
	Short: "Mark an acceptance criterion complete (or incomplete) as the operator",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("criterion number must be an integer: %w", err)
		}
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()
		return eng.ToggleCriterion(args[0], index, !toggleUncheck)
	},
}

var closeIssueCmd = &cobra.Command{
	Use:   "close-issue <loop-id>",
	Short: "Close the tracked issue of a completed loop",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.Close()

		result, err := eng.CloseIssue(args[0], closeIssueComment)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	},
}
