package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dshills/assetpipe/internal/dag"
	"github.com/dshills/assetpipe/internal/paths"
	"github.com/dshills/assetpipe/internal/task"
)

func tasksCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks and targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			printTasks(cmd.OutOrStdout(), a.set.Defs(), task.Targets())
			printPaths(cmd.OutOrStdout(), a.cfg.Root, a.reg.Entries())
			return nil
		},
	}
}

func printTasks(w io.Writer, defs []task.Def, targets map[string]string) {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true)

	names := make([]string, 0, len(targets))
	for n := range targets {
		names = append(names, n)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{n, targets[n]})
	}
	fmt.Fprintln(w, title.Render("Targets"))
	fmt.Fprintln(w, newTable(r).Headers("TARGET", "DESCRIPTION").Rows(rows...).String())

	rows = rows[:0]
	for _, d := range defs {
		cat := d.Category
		if cat == "" {
			cat = "-"
		}
		rows = append(rows, []string{d.Name, cat, d.Description})
	}
	fmt.Fprintln(w, title.Render("Tasks"))
	fmt.Fprintln(w, newTable(r).Headers("TASK", "CATEGORY", "DESCRIPTION").Rows(rows...).String())
}

// printPaths lists the path registry relative to root.
func printPaths(w io.Writer, root string, entries []paths.Entry) {
	r := lipgloss.NewRenderer(w)
	rel := func(p string) string {
		if out, err := filepath.Rel(root, p); err == nil {
			return filepath.ToSlash(out)
		}
		return p
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		dest := rel(e.Dest)
		if e.Mirror {
			dest += " (mirror)"
		}
		rows = append(rows, []string{e.Category, rel(e.Source), dest})
	}
	fmt.Fprintln(w, r.NewStyle().Bold(true).Render("Paths"))
	fmt.Fprintln(w, newTable(r).Headers("CATEGORY", "SOURCE", "DEST").Rows(rows...).String())
}

func newTable(r *lipgloss.Renderer) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.NewStyle().Foreground(lipgloss.Color("63")))
}

// printSummary writes one row per task of a run.
func printSummary(w io.Writer, res *dag.Result) {
	r := lipgloss.NewRenderer(w)
	colors := map[dag.State]lipgloss.Color{
		dag.Completed: lipgloss.Color("42"),
		dag.Failed:    lipgloss.Color("196"),
		dag.Skipped:   lipgloss.Color("244"),
	}

	rows := make([][]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		state := string(n.State)
		if c, ok := colors[n.State]; ok {
			state = r.NewStyle().Foreground(c).Render(state)
		}
		dur := "-"
		if n.State == dag.Completed || n.State == dag.Failed {
			dur = n.Duration.Round(time.Millisecond).String()
		}
		errText := ""
		if n.Err != nil {
			errText = n.Err.Error()
		}
		rows = append(rows, []string{n.Name, state, dur, errText})
	}
	fmt.Fprintln(w, newTable(r).Headers("TASK", "STATE", "DURATION", "ERROR").Rows(rows...).String())
	footer := "run " + res.RunID
	if failed := res.Failed(); len(failed) > 0 {
		names := make([]string, len(failed))
		for i, n := range failed {
			names[i] = n.Name
		}
		footer += fmt.Sprintf(", %d failed: %s", len(failed), strings.Join(names, ", "))
	}
	fmt.Fprintln(w, r.NewStyle().Faint(true).Render(footer))
}
