package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crewdev/crew/internal/tracker"
	"github.com/crewdev/crew/pkg/models"
)

var treeCmd = &cobra.Command{
	Use:   "tree [task-id]",
	Short: "Show the task hierarchy",
	Long: `Render the parent-to-subtask tree.

With a task id, shows that task's subtree. Without one, shows every
top-level task and its descendants.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTree,
}

func runTree(cmd *cobra.Command, args []string) error {
	co, cleanup, err := openFacade()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	if len(args) == 1 {
		node, err := co.TaskTree(ctx, args[0])
		if err != nil {
			return err
		}
		printTree(node)
		return nil
	}

	tasks, err := co.Tasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks tracked.")
		return nil
	}

	first := true
	for _, task := range tasks {
		if task.ParentTask != "" {
			continue
		}
		node, err := co.TaskTree(ctx, task.ID)
		if err != nil {
			return err
		}
		if !first {
			fmt.Println()
		}
		printTree(node)
		first = false
	}
	return nil
}

func printTree(node *tracker.TreeNode) {
	fmt.Println(treeLabel(node.Task))
	printSubtree(node, "")
}

func printSubtree(node *tracker.TreeNode, prefix string) {
	for i, child := range node.Children {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(node.Children)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		fmt.Printf("%s%s%s\n", prefix, connector, treeLabel(child.Task))
		printSubtree(child, childPrefix)
	}
}

func treeLabel(task *models.Task) string {
	status := statusColor(task.Status).Sprint(task.Status)
	return fmt.Sprintf("%s [%s] %s", task.ID, status, task.Title)
}
