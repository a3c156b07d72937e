package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/app"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskStatusCmd())
	cmd.AddCommand(taskCheckCmd())
	cmd.AddCommand(taskChecklistCmd())
	cmd.AddCommand(taskReassignCmd())
	cmd.AddCommand(taskPermsCmd())
	return cmd
}

func addTaskOptionFlags(cmd *cobra.Command, opts *engine.CreateTaskOptions) {
	cmd.Flags().StringVar(&opts.WorkTypeID, "work-type", "", "work type id")
	cmd.Flags().StringVar(&opts.AssignTo, "assign-to", "", "assignee member id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ChecklistVariantID, "variant", "", "checklist variant id (default variant when empty)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority code")
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (lead only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.CreateFromIntake(ctx, currentActor(ctx, rt), opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	addTaskOptionFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.SourceMessageID, "source-message", "", "chat message the task came from")
	_ = cmd.MarkFlagRequired("work-type")
	_ = cmd.MarkFlagRequired("assign-to")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				tasks, err := rt.Engine.ListTasks(ctx, currentActor(ctx, rt), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Group", "Title", "Status", "Priority", "Assignee", "Checklist"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.GroupID, t.Title, t.Status.Label, t.Priority.Label, t.AssignTo, checklistProgress(t.Checklist)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.GroupID, "group", "", "group filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssignTo, "assign-to", "", "assignee filter")
	cmd.Flags().StringVar(&f.WorkTypeID, "work-type", "", "work type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task with its checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.GetTask(ctx, currentActor(ctx, rt), args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <todo|doing|need_to_verified|finished>",
		Short: "Move a task forward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.ChangeStatus(ctx, currentActor(ctx, rt), args[0], args[1])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskCheckCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "check <id> <item-id>",
		Short: "Mark a checklist item done (or not done with --undo)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.ToggleChecklistItem(ctx, currentActor(ctx, rt), args[0], args[1], !undo)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark the item not done")
	return cmd
}

func taskChecklistCmd() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "checklist <id>",
		Short: "Replace the checklist of a todo task (lead only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				actor := currentActor(ctx, rt)
				current, err := rt.Engine.GetTask(ctx, actor, args[0])
				if err != nil {
					return err
				}
				done := make(map[string]bool, len(current.Checklist))
				for _, it := range current.Checklist {
					done[it.ID] = it.Done
				}
				next := make([]domain.ChecklistItem, 0, len(items))
				for _, raw := range items {
					id, label := splitItem(raw)
					next = append(next, domain.ChecklistItem{ID: id, Label: label, Done: done[id]})
				}
				t, err := rt.Engine.EditChecklistStructure(ctx, actor, args[0], next)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "item label, or id=label to keep an existing item (repeatable, in order)")
	return cmd
}

func taskReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reassign <id> <member-id>",
		Short: "Hand a task to another group member (lead only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				t, err := rt.Engine.Reassign(ctx, currentActor(ctx, rt), args[0], args[1])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskPermsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "perms <id>",
		Short: "Show which status moves the acting member may make",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				perms, err := rt.Engine.Permissions(ctx, currentActor(ctx, rt), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(perms)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Move", "Allowed"})
				tw.AppendRow(table.Row{"todo -> doing", perms.CanChangeToDoing})
				tw.AppendRow(table.Row{"doing -> need_to_verified", perms.CanChangeToNeedVerify})
				tw.AppendRow(table.Row{"-> finished", perms.CanChangeToFinished})
				tw.Render()
				return nil
			})
		},
	}
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s  %s\n", t.ID, t.Title)
	fmt.Printf("  group %s, work type %s", t.GroupID, t.WorkTypeID)
	if t.ChecklistVariantID != nil {
		fmt.Printf(" / %s", *t.ChecklistVariantID)
	}
	fmt.Println()
	fmt.Printf("  status %s, priority %s, assigned to %s by %s\n", t.Status.Label, t.Priority.Label, t.AssignTo, t.AssignFrom)
	if len(t.Checklist) == 0 {
		return nil
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Item", "Label", "Done"})
	for _, it := range t.Checklist {
		mark := ""
		if it.Done {
			mark = "x"
		}
		tw.AppendRow(table.Row{it.ID, it.Label, mark})
	}
	tw.Render()
	return nil
}

func checklistProgress(items []domain.ChecklistItem) string {
	if len(items) == 0 {
		return "-"
	}
	done := 0
	for _, it := range items {
		if it.Done {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(items))
}
