package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmaster/tasklist/internal/application/services"
	"github.com/taskmaster/tasklist/internal/domain/entities"
	"github.com/taskmaster/tasklist/internal/ports"
)

// viewTimeout bounds how long list waits for a remote backend's first
// snapshot.
const viewTimeout = 10 * time.Second

// consoleNotifier prints notices for the terminal user
type consoleNotifier struct {
	w io.Writer
}

func (n consoleNotifier) Notify(ctx context.Context, notice entities.Notice) {
	fmt.Fprintln(n.w, notice.Message)
}

// withApp loads configuration, builds the app with notices going to the
// command's output, and runs fn against it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, appLogger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, appLogger, consoleNotifier{w: cmd.OutOrStdout()})
	if err != nil {
		return err
	}
	defer a.Close()

	err = fn(ctx, a)
	if errors.Is(err, entities.ErrNoActiveUser) {
		return errors.New("not logged in; run login or register first")
	}
	return err
}

// NewSessionCommands creates login, register, logout and whoami
func NewSessionCommands() []*cobra.Command {
	credentials := func(use, short string, run func(s *services.SessionManager, ctx context.Context, email, password string) (*entities.User, error)) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				email, _ := cmd.Flags().GetString("email")
				password, _ := cmd.Flags().GetString("password")
				return withApp(cmd, func(ctx context.Context, a *app) error {
					user, err := run(a.session, ctx, email, password)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Active user: %s (%s)\n", user.Email, user.ID)
					return nil
				})
			},
		}
		cmd.Flags().String("email", "", "Account email")
		cmd.Flags().String("password", "", "Account password")
		return cmd
	}

	login := credentials("login", "Log in and make the user active", (*services.SessionManager).Login)
	register := credentials("register", "Create an account and make it active", (*services.SessionManager).Register)

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the active user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.session.Logout(ctx)
				return nil
			})
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the active user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				user := a.session.CurrentUser()
				if user == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", user.Email, user.ID)
				return nil
			})
		},
	}

	return []*cobra.Command{login, register, logout, whoami}
}

// NewTaskCommand creates the task command with subcommands
func NewTaskCommand() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the active user's tasks",
	}

	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.tasks.AddTask(ctx, args[0], description)
			})
		},
	}
	addCmd.Flags().StringP("description", "d", "", "Task description")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, incomplete first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				view, err := loadView(ctx, a)
				if err != nil {
					return err
				}
				printView(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}

	editCmd := &cobra.Command{
		Use:   "edit <task> <title>",
		Short: "Replace a task's title and description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				return a.tasks.UpdateTask(ctx, task.ID, args[1], description)
			})
		},
	}
	editCmd.Flags().StringP("description", "d", "", "Task description")

	doneCmd := &cobra.Command{
		Use:   "done <task>",
		Short: "Toggle a task's completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				return a.tasks.ToggleTaskCompletion(ctx, task.ID)
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <task>",
		Short: "Delete a task and its sub-tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				return a.tasks.DeleteTask(ctx, task.ID)
			})
		},
	}

	taskCmd.AddCommand(addCmd, listCmd, editCmd, doneCmd, rmCmd)
	return taskCmd
}

// NewSubTaskCommand creates the subtask command with subcommands
func NewSubTaskCommand() *cobra.Command {
	subCmd := &cobra.Command{
		Use:   "subtask",
		Short: "Manage a task's sub-tasks",
	}

	addCmd := &cobra.Command{
		Use:   "add <task> <time> <details>",
		Short: "Append a sub-task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				return a.tasks.AddSubTask(ctx, task.ID, args[1], args[2])
			})
		},
	}

	doneCmd := &cobra.Command{
		Use:   "done <task> <subtask>",
		Short: "Toggle a sub-task's completion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				subID, err := resolveSubTask(task, args[1])
				if err != nil {
					return err
				}
				return a.tasks.ToggleSubTaskCompletion(ctx, task.ID, subID)
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <task> <subtask>",
		Short: "Delete a sub-task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTask(cmd, args[0], func(ctx context.Context, a *app, task ports.TaskView) error {
				subID, err := resolveSubTask(task, args[1])
				if err != nil {
					return err
				}
				return a.tasks.DeleteSubTask(ctx, task.ID, subID)
			})
		},
	}

	subCmd.AddCommand(addCmd, doneCmd, rmCmd)
	return subCmd
}

func withTask(cmd *cobra.Command, ref string, fn func(ctx context.Context, a *app, task ports.TaskView) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		view, err := loadView(ctx, a)
		if err != nil {
			return err
		}
		task, err := resolveTask(view, ref)
		if err != nil {
			return err
		}
		return fn(ctx, a, task)
	})
}

// loadView waits until the active user's first snapshot has arrived.
func loadView(ctx context.Context, a *app) (ports.TaskListResponse, error) {
	if a.session.CurrentUser() == nil {
		return ports.TaskListResponse{}, entities.ErrNoActiveUser
	}

	ctx, cancel := context.WithTimeout(ctx, viewTimeout)
	defer cancel()

	for snap := range a.tasks.Subscribe(ctx) {
		if !snap.IsLoading {
			return ports.NewTaskListResponse(snap.Tasks, false), nil
		}
	}
	return ports.TaskListResponse{}, fmt.Errorf("tasks did not load within %s", viewTimeout)
}

// resolveTask accepts the 1-based position shown by list, a full id or an
// unambiguous id prefix.
func resolveTask(view ports.TaskListResponse, ref string) (ports.TaskView, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(view.Tasks) {
		return view.Tasks[n-1], nil
	}

	var match *ports.TaskView
	for i := range view.Tasks {
		if view.Tasks[i].ID == ref {
			return view.Tasks[i], nil
		}
		if strings.HasPrefix(view.Tasks[i].ID, ref) {
			if match != nil {
				return ports.TaskView{}, fmt.Errorf("task %q is ambiguous", ref)
			}
			match = &view.Tasks[i]
		}
	}
	if match == nil {
		return ports.TaskView{}, fmt.Errorf("no task matches %q", ref)
	}
	return *match, nil
}

func resolveSubTask(task ports.TaskView, ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(task.SubTasks) {
		return task.SubTasks[n-1].ID, nil
	}
	for _, st := range task.SubTasks {
		if st.ID == ref || strings.HasPrefix(st.ID, ref) {
			return st.ID, nil
		}
	}
	return "", fmt.Errorf("no sub-task of %q matches %q", task.Title, ref)
}

func printView(w io.Writer, view ports.TaskListResponse) {
	if len(view.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks yet")
		return
	}

	for i, task := range view.Tasks {
		fmt.Fprintf(w, "%2d. %s %s", i+1, checkbox(task.IsCompleted), task.Title)
		if task.SubTasksTotal > 0 {
			fmt.Fprintf(w, " (%d/%d)", task.SubTasksCompleted, task.SubTasksTotal)
		}
		fmt.Fprintf(w, "  [%s]\n", shortID(task.ID))
		if task.Description != "" {
			fmt.Fprintf(w, "      %s\n", task.Description)
		}
		for j, st := range task.SubTasks {
			fmt.Fprintf(w, "      %d. %s %s %s\n", j+1, checkbox(st.IsCompleted), st.Time, st.Details)
		}
	}
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
