package main

import (
	"github.com/spf13/cobra"
)

// runOptions collects every flag the command surface exposes. pflag does
// not support dynamically named flags, so the spec's "--set:<Name>=<Value>"
// is expressed as a repeatable "--set Name=Value" instead (see DESIGN.md).
type runOptions struct {
	scriptPath     string
	target         string
	schemaPath     string
	docPath        string
	exportPath     string
	preprocessPath string

	sharedStorageDir     string
	writeToSharedStorage bool

	singleNode   string
	trigger      string
	skipTriggers []string

	tokenSignature           string
	skipTargetsWithoutTokens bool

	resume    bool
	clean     bool
	cleanNode []string

	listOnly          bool
	showDeps          bool
	showNotifications bool

	set []string

	publicTasksOnly bool
	reportName      string

	configPath string
}

func bindFlags(cmd *cobra.Command, o *runOptions) {
	f := cmd.Flags()
	f.StringVar(&o.scriptPath, "script", "", "script file")
	f.StringVar(&o.target, "target", "", "+/;-separated Node names, Aggregate names, or tag references")
	f.StringVar(&o.schemaPath, "schema", "", "write schema and (unless a script is given) exit 0")
	f.StringVar(&o.docPath, "documentation", "", "write markdown task documentation and exit 0")
	f.StringVar(&o.exportPath, "export", "", "emit JSON external-scheduler manifest; do not execute")
	f.StringVar(&o.preprocessPath, "preprocess", "", "emit the post-expansion, post-selection script")

	f.StringVar(&o.sharedStorageDir, "shared-storage-dir", "", "enable shared storage")
	f.BoolVar(&o.writeToSharedStorage, "write-to-shared-storage", false, "allow writing to shared storage")

	f.StringVar(&o.singleNode, "single-node", "", "execute exactly one Node (implies resume)")
	f.StringVar(&o.trigger, "trigger", "", "include Nodes behind one trigger")
	f.StringSliceVar(&o.skipTriggers, "skip-triggers", nil, "skip Nodes behind these triggers")

	f.StringVar(&o.tokenSignature, "token-signature", "", "enable token arbitration with this signature")
	f.BoolVar(&o.skipTargetsWithoutTokens, "skip-targets-without-tokens", false, "drop Nodes whose tokens are held elsewhere instead of failing")

	f.BoolVar(&o.resume, "resume", false, "skip Nodes whose local cache is already complete and valid")
	f.BoolVar(&o.clean, "clean", false, "remove all local cache state before running")
	f.StringSliceVar(&o.cleanNode, "clean-node", nil, "remove local cache state for these Nodes before running")

	f.BoolVar(&o.listOnly, "list-only", false, "print the selected graph and exit")
	f.BoolVar(&o.showDeps, "show-deps", false, "include dependency edges in --list-only output")
	f.BoolVar(&o.showNotifications, "show-notifications", false, "include notification recipients in --list-only output")

	f.StringArrayVar(&o.set, "set", nil, "set a property, as Name=Value (repeatable)")

	f.BoolVar(&o.publicTasksOnly, "public-tasks-only", false, "restrict the task registry to publicly distributed assemblies")
	f.StringVar(&o.reportName, "report-name", "", "inject a report covering all selected Nodes")

	f.StringVar(&o.configPath, "config", "", "configuration file path")
}
