package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/relmake/relmake/pkg/session"
)

var execCmd = &cobra.Command{
	Use:   "exec script...",
	Short: "Run a script in a worker session",
	Long: `Spawns the configured interpreter, evaluates the given script in it and prints
the combined output. Useful for checking how a command behaves inside the same
session environment that execute(session=True) uses in manifests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 {
			return eris.New("Expected at least 1 argument!")
		}

		interpreter, err := cmd.Flags().GetString("interpreter")
		if err != nil {
			return err
		}

		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		sess, err := session.Spawn(ctx, session.Config{Command: interpreter})
		if err != nil {
			return err
		}
		defer sess.Close()

		output, err := sess.Eval(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if output != "" {
			fmt.Println(output)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().String("interpreter", "sh", "interpreter to run the script in")
	execCmd.Flags().Duration("timeout", 5*time.Minute, "abort the evaluation after this duration (0 disables the limit)")

	rootCmd.AddCommand(execCmd)
}
