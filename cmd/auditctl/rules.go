package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liamcoop/courseaudit/conditions"
)

type ruleInfo struct {
	Key           string   `json:"key" yaml:"key"`
	Name          string   `json:"name" yaml:"name"`
	Category      string   `json:"category" yaml:"category"`
	TargetType    string   `json:"target_type" yaml:"target_type"`
	Prerequisites []string `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Source        string   `json:"source" yaml:"source"`
}

func newRulesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the rules an audit runs",
		Long: `List the built-in rules followed by the enabled stored definitions, in the
order an audit evaluates them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := parseOutputFormat(c.output)
			if err != nil {
				return err
			}

			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			registry, err := env.Auditor.Registry(cmd.Context())
			if err != nil {
				return err
			}

			infos := []ruleInfo{}
			for _, rule := range registry.Rules() {
				source := "builtin"
				if _, ok := rule.(*conditions.DefinitionRule); ok {
					source = "stored"
				}
				infos = append(infos, ruleInfo{
					Key:           rule.Key(),
					Name:          rule.Name(),
					Category:      string(rule.Category()),
					TargetType:    string(rule.TargetType()),
					Prerequisites: rule.Prerequisites(),
					Source:        source,
				})
			}

			w := cmd.OutOrStdout()
			switch format {
			case outputJSON:
				return printJSON(w, infos)
			case outputYAML:
				return printYAML(w, infos)
			}
			rows := make([][]string, 0, len(infos))
			for _, r := range infos {
				rows = append(rows, []string{r.Key, r.Category, r.TargetType, r.Source, strings.Join(r.Prerequisites, ",")})
			}
			return printTable(w, []string{"key", "category", "target", "source", "requires"}, rows)
		},
	}
}

func newImportRulesCmd(c *cli) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import-rules FILE...",
		Short: "Import rule sets from YAML files",
		Long: `Import one or more YAML rule set documents. Each file is validated before
anything is written. Definitions whose key already exists are updated in place.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets := make([]*conditions.RuleSet, 0, len(args))
			for _, path := range args {
				rs, err := conditions.LoadYAMLFile(path)
				if err != nil {
					return err
				}
				sets = append(sets, rs)
			}

			w := cmd.OutOrStdout()
			if dryRun {
				for i, rs := range sets {
					fmt.Fprintf(w, "%s: rule set %q is valid (%d definitions)\n", args[i], rs.Name, len(rs.Definitions))
				}
				return nil
			}

			env, err := c.environment(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			for _, rs := range sets {
				created, updated, err := env.Library.Import(cmd.Context(), rs)
				if err != nil {
					return fmt.Errorf("importing rule set %q: %w", rs.Name, err)
				}
				fmt.Fprintf(w, "Imported rule set %q: %d created, %d updated\n", rs.Name, created, updated)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the files without importing them")
	return cmd
}
