// Package cli holds helpers shared by the clipfinder and clipfinderd commands.
package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// annotationEnv names the environment variable a flag falls back to.
const annotationEnv = "clipfinder_env"

// FlagSchema describes one flag of a command for --help-json.
type FlagSchema struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
	Env         string `json:"env,omitempty"`
	Required    bool   `json:"required"`
	Inherited   bool   `json:"inherited,omitempty"`
}

// CommandSchema describes a command tree for --help-json.
type CommandSchema struct {
	Name        string          `json:"name"`
	Use         string          `json:"use,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Description string          `json:"description,omitempty"`
	Long        string          `json:"long,omitempty"`
	Runnable    bool            `json:"runnable"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

// BindEnv records that flag name on cmd falls back to env. FlagOrEnv honours the
// binding and --help-json reports it.
func BindEnv(cmd *cobra.Command, name, env string) {
	f := lookupFlag(cmd, name)
	if f == nil {
		return
	}
	if f.Annotations == nil {
		f.Annotations = map[string][]string{}
	}
	f.Annotations[annotationEnv] = []string{env}
}

// FlagOrEnv resolves a string flag: an explicit value wins, then the bound
// environment variable, then the flag default.
func FlagOrEnv(cmd *cobra.Command, name string) string {
	f := lookupFlag(cmd, name)
	if f == nil {
		return ""
	}
	if f.Changed {
		return f.Value.String()
	}
	if env := f.Annotations[annotationEnv]; len(env) > 0 {
		if v := os.Getenv(env[0]); v != "" {
			return v
		}
	}
	return f.Value.String()
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	if f := cmd.PersistentFlags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// GenerateSchema walks cmd and its visible subcommands.
func GenerateSchema(cmd *cobra.Command) CommandSchema {
	schema := CommandSchema{
		Name:        cmd.Name(),
		Use:         cmd.Use,
		Aliases:     cmd.Aliases,
		Description: cmd.Short,
		Long:        cmd.Long,
		Runnable:    cmd.Runnable(),
		Flags:       extractFlags(cmd),
	}

	for _, sub := range cmd.Commands() {
		if sub.Name() == "help" || sub.Name() == "completion" || sub.Hidden {
			continue
		}
		schema.Subcommands = append(schema.Subcommands, GenerateSchema(sub))
	}
	return schema
}

func extractFlags(cmd *cobra.Command) []FlagSchema {
	var flags []FlagSchema
	add := func(inherited bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Name == "help-json" || f.Name == "help" || f.Hidden {
				return
			}
			fs := flagToSchema(f)
			fs.Inherited = inherited
			flags = append(flags, fs)
		}
	}
	cmd.LocalFlags().VisitAll(add(false))
	cmd.InheritedFlags().VisitAll(add(true))
	return flags
}

func flagToSchema(f *pflag.Flag) FlagSchema {
	_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
	var env string
	if e := f.Annotations[annotationEnv]; len(e) > 0 {
		env = e[0]
	}
	return FlagSchema{
		Name:        f.Name,
		Shorthand:   f.Shorthand,
		Type:        f.Value.Type(),
		Default:     f.DefValue,
		Description: f.Usage,
		Env:         env,
		Required:    required,
	}
}

// WriteSchema writes the schema of cmd as indented JSON.
func WriteSchema(w io.Writer, cmd *cobra.Command) error {
	out, err := json.MarshalIndent(GenerateSchema(cmd), "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// AddHelpJSONFlag adds the --help-json flag to a command.
func AddHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool("help-json", false, "Output command schema as JSON")
}

// HandleHelpJSON prints the schema of the command named by args when they contain
// --help-json, before cobra validates positional arguments. It reports whether
// it handled the invocation.
func HandleHelpJSON(w io.Writer, rootCmd *cobra.Command, args []string) (bool, error) {
	for i, arg := range args {
		if arg == "--help-json" {
			return true, WriteSchema(w, findTargetCommand(rootCmd, args[:i]))
		}
	}
	return false, nil
}

func findTargetCommand(cmd *cobra.Command, args []string) *cobra.Command {
	if len(args) == 0 {
		return cmd
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == args[0] || sub.HasAlias(args[0]) {
			return findTargetCommand(sub, args[1:])
		}
	}
	return cmd
}
