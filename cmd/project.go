package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joescharf/am/internal/models"
)

var (
	projectName        string
	projectDescription string
	projectDefaultTask string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
	Long: `Register and list the projects agent sessions run against.

A project binds a name to a working directory, so session status cards
and resume requests can name it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a project directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a registered project",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectName, "name", "", "Project name (default: directory basename)")
	projectAddCmd.Flags().StringVar(&projectDescription, "description", "", "Short project description")
	projectAddCmd.Flags().StringVar(&projectDefaultTask, "task", "", "Default task for new sessions")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return fmt.Errorf("not a directory: %s", abs)
	}

	name := projectName
	if name == "" {
		name = filepath.Base(abs)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if existing, err := s.GetProjectByName(ctx, name); err == nil {
		return fmt.Errorf("project %q already registered at %s", name, existing.Path)
	}

	if dryRun {
		ui.DryRunMsg("Would register project %s at %s", name, abs)
		return nil
	}

	p := &models.Project{
		Name:        name,
		Path:        abs,
		Description: projectDescription,
		DefaultTask: projectDefaultTask,
	}
	if err := s.CreateProject(ctx, p); err != nil {
		return err
	}

	ui.Success("Registered project %s (%s)", p.Name, p.Path)
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	projects, err := s.ListProjects(context.Background())
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects registered. Use 'am project add <path>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Path", "Description"})
	for _, p := range projects {
		table.Append([]string{p.Name, p.Path, p.Description})
	}
	return table.Render()
}

func projectRemoveRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetProjectByName(ctx, name)
	if err != nil {
		return fmt.Errorf("project not found: %s", name)
	}

	if dryRun {
		ui.DryRunMsg("Would remove project %s", name)
		return nil
	}
	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return err
	}

	ui.Success("Removed project %s", name)
	return nil
}
