// Package cli builds a cobra command tree from a running Epicenter's
// actions: spec.md §6's "CLI surface... The core publishes, for every
// action, a subcommand <workspace-id> <action>. Flags are derived from
// the input validator." This is the command *schema*, generated at
// runtime from action.Describe() metadata, not a hand-written parser per
// workspace. Grounded on the teacher's cmd/warren/main.go persistent-flag
// + cobra.OnInitialize + subcommand-tree pattern.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/epicenterlabs/epicenter/pkg/action"
	"github.com/epicenterlabs/epicenter/pkg/epicenter"
	"github.com/epicenterlabs/epicenter/pkg/epierr"
	"github.com/epicenterlabs/epicenter/pkg/field"
	"github.com/epicenterlabs/epicenter/pkg/log"
	"github.com/spf13/cobra"
)

// validationCodes are the epierr.Code values exit code 1 covers (spec.md
// §6: "Exit code is 0 on success, 1 on validation failure, 2 on
// action-reported error"). Anything else reported by Result::Err is an
// action-reported error.
var validationCodes = map[epierr.Code]bool{
	epierr.CodeValidationFailed: true,
	epierr.CodeMissingRequired:  true,
	epierr.CodeBadID:            true,
	epierr.CodeBadDateFormat:    true,
	epierr.CodeNotInOptions:     true,
}

// Build returns a cobra root command with one subcommand per workspace and
// one sub-subcommand per action, flags generated from each action's
// Describe(). use and short name and describe the root command (e.g. the
// host binary's name).
func Build(ep *epicenter.Epicenter, use, short string) *cobra.Command {
	root := &cobra.Command{Use: use, Short: short}

	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(func() {
		level, _ := root.PersistentFlags().GetString("log-level")
		jsonOut, _ := root.PersistentFlags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	})

	for _, ws := range ep.Workspaces() {
		root.AddCommand(workspaceCommand(ws.ID, ws.Actions(), func(name string, input map[string]any) epierr.Result[any] {
			a := ws.Actions()[name]
			return a.Invoke(root.Context(), ws.Context(), input)
		}))
	}

	return root
}

func workspaceCommand(id string, actions map[string]action.Action, invoke func(string, map[string]any) epierr.Result[any]) *cobra.Command {
	wsCmd := &cobra.Command{Use: id, Short: fmt.Sprintf("%s workspace actions", id)}
	for name, a := range actions {
		wsCmd.AddCommand(actionCommand(name, a, invoke))
	}
	return wsCmd
}

func actionCommand(name string, a action.Action, invoke func(string, map[string]any) epierr.Result[any]) *cobra.Command {
	d := a.Describe()
	cmd := &cobra.Command{
		Use:   name,
		Short: d.Description,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := collectFlags(cmd, d)
			if err != nil {
				cmd.SilenceUsage = true
				return exitError{code: 1, err: err}
			}
			res := invoke(name, input)
			if res.IsOk() {
				out, _ := json.MarshalIndent(res.Unwrap(), "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			cmd.SilenceUsage = true
			code := 2
			if validationCodes[res.Error().Code] {
				code = 1
			}
			return exitError{code: code, err: res.Error()}
		},
	}
	for _, f := range d.Fields {
		addFlag(cmd, f)
	}
	return cmd
}

func addFlag(cmd *cobra.Command, f action.FieldDescribe) {
	switch f.Kind {
	case string(field.KindInteger):
		cmd.Flags().Int64(f.Name, 0, flagHelp(f))
	case string(field.KindBoolean):
		cmd.Flags().Bool(f.Name, false, flagHelp(f))
	case string(field.KindTags):
		cmd.Flags().StringSlice(f.Name, nil, flagHelp(f))
	default:
		cmd.Flags().String(f.Name, "", flagHelp(f))
	}
	if f.Required {
		cmd.MarkFlagRequired(f.Name)
	}
}

func flagHelp(f action.FieldDescribe) string {
	if len(f.Options) == 0 {
		return ""
	}
	return "one of: " + strings.Join(f.Options, ", ")
}

func collectFlags(cmd *cobra.Command, d action.Describe) (map[string]any, error) {
	input := map[string]any{}
	for _, f := range d.Fields {
		if !cmd.Flags().Changed(f.Name) {
			continue
		}
		switch f.Kind {
		case string(field.KindInteger):
			v, err := cmd.Flags().GetInt64(f.Name)
			if err != nil {
				return nil, err
			}
			input[f.Name] = v
		case string(field.KindBoolean):
			v, err := cmd.Flags().GetBool(f.Name)
			if err != nil {
				return nil, err
			}
			input[f.Name] = v
		case string(field.KindTags):
			v, err := cmd.Flags().GetStringSlice(f.Name)
			if err != nil {
				return nil, err
			}
			input[f.Name] = v
		default:
			v, err := cmd.Flags().GetString(f.Name)
			if err != nil {
				return nil, err
			}
			input[f.Name] = v
		}
	}
	return input, nil
}

// exitError carries the process exit code a caller (cmd/epicenter) should
// use, alongside the underlying error for message rendering.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string { return e.err.Error() }

// ExitCode extracts the intended process exit code from an error returned
// by a built command's Execute, defaulting to 1 for any other error (cobra
// usage errors, flag parsing failures) and 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(exitError); ok {
		return ee.code
	}
	return 1
}
