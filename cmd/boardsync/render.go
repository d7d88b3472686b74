package main

import (
	"fmt"
	"io"
	"strings"

	"taskmate-sync/domain"
)

func renderBoard(w io.Writer, b domain.Board) {
	fmt.Fprintf(w, "%s (%s)\n", b.Title, b.ID)
	if len(b.Collaborators) > 0 {
		names := make([]string, 0, len(b.Collaborators))
		for _, u := range b.Collaborators {
			names = append(names, displayName(u))
		}
		fmt.Fprintf(w, "collaborators: %s\n", strings.Join(names, ", "))
	}
	for _, p := range b.Panels {
		fmt.Fprintf(w, "\n== %s [%s]\n", p.Title, p.ID)
		if !p.Visible {
			fmt.Fprintln(w, "   (hidden)")
			continue
		}
		for _, t := range p.Tasks {
			if t.Completed && !p.ShowCompleted {
				continue
			}
			renderTask(w, t, 1)
		}
	}
}

func renderTask(w io.Writer, t domain.Task, depth int) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	line := fmt.Sprintf("%s[%s] %s  %s", strings.Repeat("  ", depth), mark, t.Title, t.ID)
	if t.DueAt != nil {
		line += "  due " + t.DueAt.Format("2006-01-02")
	}
	if len(t.Assignees) > 0 {
		names := make([]string, 0, len(t.Assignees))
		for _, u := range t.Assignees {
			names = append(names, "@"+displayName(u))
		}
		line += "  " + strings.Join(names, " ")
	}
	fmt.Fprintln(w, line)
	if len(t.Subtasks) == 0 {
		return
	}
	if !t.ShowSubtasks {
		fmt.Fprintf(w, "%s  (+%d subtasks)\n", strings.Repeat("  ", depth), len(t.Subtasks))
		return
	}
	for _, st := range t.Subtasks {
		renderTask(w, st, depth+1)
	}
}

func renderWorkspace(w io.Writer, ws domain.Workspace) {
	for _, f := range ws.Folders {
		fmt.Fprintf(w, "%s/ [%s]\n", f.Title, f.ID)
		for _, b := range f.Boards {
			fmt.Fprintf(w, "  %s  %s\n", b.Title, b.ID)
		}
	}
	for _, b := range ws.Boards {
		fmt.Fprintf(w, "%s  %s\n", b.Title, b.ID)
	}
}

func displayName(u domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
