package graphmodel

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// PrintOptions controls the verbosity of Print.
type PrintOptions struct {
	ShowDeps          bool
	ShowNotifications bool
}

// Print renders a human-readable dump of the Graph grouped by Trigger ->
// Agent -> Node, annotating Nodes present in completed.
func (g *Graph) Print(w io.Writer, completed map[string]bool, opts PrintOptions) {
	byTrigger := map[string][]*Agent{}
	triggerOrder := []string{}
	seenTrigger := map[string]bool{}

	for _, a := range g.Agents {
		trig := agentTriggerLabel(a)
		if !seenTrigger[trig] {
			seenTrigger[trig] = true
			triggerOrder = append(triggerOrder, trig)
		}
		byTrigger[trig] = append(byTrigger[trig], a)
	}
	sort.Strings(triggerOrder)

	for _, trig := range triggerOrder {
		fmt.Fprintf(w, "Trigger: %s\n", trig)
		for _, a := range byTrigger[trig] {
			fmt.Fprintf(w, "  Agent: %s\n", a.Name)
			for _, n := range a.Nodes {
				status := "pending"
				printFn := color.New(color.FgYellow).SprintFunc()
				if completed[n.Name] {
					status = "complete"
					printFn = color.New(color.FgGreen).SprintFunc()
				}
				fmt.Fprintf(w, "    Node: %s [%s]\n", n.Name, printFn(status))
				if opts.ShowDeps {
					for _, dep := range g.directDependencies(n) {
						fmt.Fprintf(w, "      depends on: %s\n", dep.Name)
					}
				}
				if opts.ShowNotifications && len(n.NotifyRecipients) > 0 {
					fmt.Fprintf(w, "      notify: %s\n", strings.Join(n.NotifyRecipients, ", "))
				}
			}
		}
	}
}

func agentTriggerLabel(a *Agent) string {
	if len(a.Nodes) == 0 {
		return "(none)"
	}
	if a.Nodes[0].Trigger == nil {
		return "(none)"
	}
	return a.Nodes[0].Trigger.Name
}
