package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsdesk/internal/app"
	"opsdesk/internal/domain"
	"opsdesk/internal/engine"
	"opsdesk/internal/repo"
)

func intakeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "intake", Short: "Received chat messages waiting for routing"}
	cmd.AddCommand(intakeReceiveCmd())
	cmd.AddCommand(intakeListCmd())
	cmd.AddCommand(intakeAssignCmd())
	cmd.AddCommand(intakeTransferDeptCmd())
	cmd.AddCommand(intakeTransferGroupCmd())
	return cmd
}

func intakeReceiveCmd() *cobra.Command {
	var msg domain.Message
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Mark a chat message as received",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Convo.AppendChat(ctx, msg); err != nil {
					return err
				}
				info, err := rt.Engine.Receive(ctx, currentActor(ctx, rt), msg)
				if errors.Is(err, engine.ErrAlreadyReceived) {
					fmt.Fprintln(os.Stderr, "message already received")
					return printInfo(info)
				}
				if err != nil {
					return err
				}
				return printInfo(info)
			})
		},
	}
	cmd.Flags().StringVar(&msg.ID, "message-id", "", "chat message id")
	cmd.Flags().StringVar(&msg.GroupID, "group", "", "group id")
	cmd.Flags().StringVar(&msg.Sender, "sender", "", "message sender")
	cmd.Flags().StringVar(&msg.Text, "text", "", "message text")
	cmd.Flags().StringVar(&msg.CreatedAt, "created-at", "", "message time (RFC3339)")
	_ = cmd.MarkFlagRequired("message-id")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

func intakeListCmd() *cobra.Command {
	var f repo.ReceivedInfoFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List received items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.ListReceived(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Group", "Message", "Title", "Status", "Received by", "Task"})
				for _, it := range items {
					task := ""
					if it.CreatedTaskID != nil {
						task = *it.CreatedTaskID
					}
					tw.AppendRow(table.Row{it.ID, it.GroupID, it.MessageID, it.Title, it.Status, it.ReceivedBy, task})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.GroupID, "group", "", "group filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter: waiting, assigned, transferred")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max items")
	return cmd
}

func intakeAssignCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "assign <info-id>",
		Short: "Resolve a waiting item by creating a task (lead only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				info, t, err := rt.Engine.Assign(ctx, currentActor(ctx, rt), args[0], opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"info": info, "task": t})
				}
				if err := printInfo(info); err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	addTaskOptionFlags(cmd, &opts)
	_ = cmd.MarkFlagRequired("work-type")
	_ = cmd.MarkFlagRequired("assign-to")
	return cmd
}

func intakeTransferDeptCmd() *cobra.Command {
	var departmentID string
	cmd := &cobra.Command{
		Use:   "transfer-dept <info-id>",
		Short: "Hand a waiting item to another department (lead only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				info, err := rt.Engine.TransferToDepartment(ctx, currentActor(ctx, rt), args[0], departmentID)
				if err != nil {
					return err
				}
				return printInfo(info)
			})
		},
	}
	cmd.Flags().StringVar(&departmentID, "department", "", "department id")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func intakeTransferGroupCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	var targetGroup string
	cmd := &cobra.Command{
		Use:   "transfer-group <info-id>",
		Short: "Hand a waiting item to another group and open a task there (lead only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMutation(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				info, t, err := rt.Engine.TransferToGroup(ctx, currentActor(ctx, rt), args[0], engine.TransferGroupOptions{
					TargetGroupID:      targetGroup,
					WorkTypeID:         opts.WorkTypeID,
					AssignTo:           opts.AssignTo,
					Title:              opts.Title,
					Description:        opts.Description,
					ChecklistVariantID: opts.ChecklistVariantID,
					Priority:           opts.Priority,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"info": info, "task": t})
				}
				if err := printInfo(info); err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	addTaskOptionFlags(cmd, &opts)
	cmd.Flags().StringVar(&targetGroup, "group", "", "target group id")
	_ = cmd.MarkFlagRequired("group")
	_ = cmd.MarkFlagRequired("work-type")
	_ = cmd.MarkFlagRequired("assign-to")
	return cmd
}

func printInfo(info domain.ReceivedInfo) error {
	if viper.GetBool("json") {
		return printJSON(info)
	}
	fmt.Printf("%s  %s [%s]\n", info.ID, info.Title, info.Status)
	fmt.Printf("  message %s in group %s, received by %s at %s\n", info.MessageID, info.GroupID, info.ReceivedBy, info.CreatedAt)
	switch {
	case info.TransferredTo != nil:
		fmt.Printf("  transferred to department %s\n", *info.TransferredTo)
	case info.TransferredToGroupID != nil:
		fmt.Printf("  transferred to group %s\n", *info.TransferredToGroupID)
	}
	return nil
}
