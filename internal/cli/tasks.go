package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"todo/internal/app"
	"todo/internal/task"
)

var errInvalidNumber = errors.New("invalid task number")

func newAddCmd(opts *rootOptions) *cobra.Command {
	var description, priority string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			p, ok := task.PriorityOrDefault(priority)
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "Invalid priority! Setting to MEDIUM.")
			}
			s.app.Add(args[0], description, p)
			fmt.Fprintf(cmd.OutOrStdout(), "Task added. Total tasks: %d\n", s.app.Count())
			return s.close()
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "MEDIUM", "LOW, MEDIUM or HIGH")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("filter") {
				filter = s.cfg.DefaultFilter
			}
			f, err := app.ParseFilter(filter)
			if err != nil {
				return errors.Join(err, s.release())
			}

			w := cmd.OutOrStdout()
			// numbers are positions in the full list, the same ones done/undo/rm take
			all := s.app.ListAll()
			shown := 0
			for i, t := range all {
				if (f == app.FilterIncomplete && t.Completed) || (f == app.FilterCompleted && !t.Completed) {
					continue
				}
				fmt.Fprintf(w, "%d. %s\n", i+1, t)
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(w, "No tasks to show.")
			}
			return s.release()
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "all", "all, incomplete or completed")
	return cmd
}

func newDoneCmd(opts *rootOptions, completed bool) *cobra.Command {
	use, short, msg := "done <number>", "Mark a task as completed", "Task marked as completed!"
	if !completed {
		use, short, msg = "undo <number>", "Mark a task as not completed", "Task marked as not completed!"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !s.app.SetCompleted(n-1, completed) {
				return errors.Join(fmt.Errorf("%w: %d", errInvalidNumber, n), s.release())
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return s.close()
		},
	}
}

func newRmCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <number>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !s.app.Remove(n - 1) {
				return errors.Join(fmt.Errorf("%w: %d", errInvalidNumber, n), s.release())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task deleted! Total tasks: %d\n", s.app.Count())
			return s.close()
		},
	}
}

func parseNumber(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("please enter a number: %q", v)
	}
	return n, nil
}
