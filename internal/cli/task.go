package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/hq/internal/queue"
)

var (
	taskType        string
	taskPriority    string
	taskWorker      string
	taskDescription string
	taskDependsOn   []string
	taskListStatus  string
	taskListLimit   int
)

func init() {
	taskAddCmd.Flags().StringVar(&taskType, "type", string(queue.TypeResearch), "task type")
	taskAddCmd.Flags().StringVar(&taskPriority, "priority", "normal", "low, normal, high, urgent or critical")
	taskAddCmd.Flags().StringVar(&taskWorker, "worker", "", "assign to a worker code")
	taskAddCmd.Flags().StringVar(&taskDescription, "description", "", "task description")
	taskAddCmd.Flags().StringSliceVar(&taskDependsOn, "depends-on", nil, "ids of tasks that must complete first")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "filter by status")
	taskListCmd.Flags().IntVar(&taskListLimit, "limit", 30, "maximum rows")

	taskCmd.AddCommand(taskAddCmd, taskListCmd)
	rootCmd.AddCommand(taskCmd)
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Add and inspect queue tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := queue.Type(taskType)
		if !t.Valid() {
			return fmt.Errorf("unknown task type %q", taskType)
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.Queue.Create(cmd.Context(), queue.Spec{
			Title:       strings.Join(args, " "),
			Description: taskDescription,
			Type:        t,
			Priority:    queue.ParsePriority(taskPriority),
			AssignedTo:  strings.ToUpper(taskWorker),
			CreatedBy:   "USER",
			DependsOn:   taskDependsOn,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", task.ID)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := queue.Filter{Limit: taskListLimit, Order: queue.OrderNewest}
		if taskListStatus != "" {
			st, err := queue.ParseStatus(taskListStatus)
			if err != nil {
				return err
			}
			f.Statuses = []queue.Status{st}
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.Queue.List(cmd.Context(), f)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			who := t.AssignedTo
			if who == "" {
				who = "-"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-11s %-8s %-14s %s\n", t.ID, t.Status, t.Priority, who, t.Title)
		}
		return nil
	},
}
