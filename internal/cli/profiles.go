package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/adrecon/internal/profile"
)

// ProfileInfo summarizes one loaded profile.
type ProfileInfo struct {
	Name  string   `json:"name"`
	Topic string   `json:"topic"`
	Rules []string `json:"rules"`
}

// ProfilesResult is the output of profiles list.
type ProfilesResult struct {
	Profiles []ProfileInfo `json:"profiles"`
}

// WriteText renders one line per profile.
func (r ProfilesResult) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROFILE\tTOPIC\tRULES")
	for _, p := range r.Profiles {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.Name, p.Topic, len(p.Rules))
	}
	return tw.Flush()
}

// ProfileProblem is one load failure reported by profiles validate.
type ProfileProblem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult is the output of profiles validate.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	Profiles []string         `json:"profiles,omitempty"`
	Errors   []ProfileProblem `json:"errors,omitempty"`
}

// WriteText prints either the loaded profile names or each problem.
func (r ValidationResult) WriteText(w io.Writer) error {
	if r.Valid {
		_, err := fmt.Fprintf(w, "✓ %d profile(s) valid\n", len(r.Profiles))
		return err
	}
	fmt.Fprintf(w, "✗ %d problem(s)\n", len(r.Errors))
	for _, p := range r.Errors {
		if p.File != "" {
			fmt.Fprintf(w, "  %s:%d: [%s] %s\n", p.File, p.Line, p.Code, p.Message)
		} else {
			fmt.Fprintf(w, "  [%s] %s\n", p.Code, p.Message)
		}
	}
	return nil
}

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List and validate parsing profiles",
	}
	cmd.AddCommand(newProfilesListCommand(rootOpts))
	cmd.AddCommand(newProfilesValidateCommand(rootOpts))
	return cmd
}

func newProfilesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List builtin and configured profiles",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			cfg, logClose, err := loadConfig(opts, cmd, false)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
			}
			defer logClose.Close()

			set, err := profile.Load(cfg.ProfilesDir)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeProfile, "failed to load profiles", err)
			}

			result := ProfilesResult{Profiles: []ProfileInfo{}}
			for _, name := range set.Names() {
				p, _ := set.Get(name)
				info := ProfileInfo{Name: p.Name, Topic: p.Topic, Rules: make([]string, 0, len(p.Rules))}
				for _, r := range p.Rules {
					info.Rules = append(info.Rules, r.Name)
				}
				result.Profiles = append(result.Profiles, info)
			}
			return f.Success(result)
		},
	}
}

func newProfilesValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>",
		Short: "Check .cue profiles against the schema",
		Long: `Compile every .cue file under a directory against the profile schema
and report all problems, not just the first.

Exit codes:
  0 - All profiles are valid
  1 - At least one profile failed to load
  2 - Command error (directory not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)
			set, errs := profile.LoadDir(args[0], profile.LoadModeCollectAll)
			if set == nil {
				return f.Fail(ExitCommandError, ErrCodeProfile, "failed to load profiles", errs[0])
			}

			result := ValidationResult{Valid: len(errs) == 0}
			for _, err := range errs {
				result.Errors = append(result.Errors, toProblem(err))
			}
			if result.Valid {
				result.Profiles = set.Names()
			}
			f.VerboseLog("Checked %s: %d profile(s), %d problem(s)", args[0], set.Len(), len(errs))

			if err := f.Success(result); err != nil {
				return err
			}
			if !result.Valid {
				return NewExitError(ExitFailure, fmt.Sprintf("%d profile problem(s)", len(errs)))
			}
			return nil
		},
	}
}

func toProblem(err error) ProfileProblem {
	var le *profile.LoadError
	if !errors.As(err, &le) {
		return ProfileProblem{Code: ErrCodeGeneric, Message: err.Error()}
	}
	p := ProfileProblem{Code: le.Code, Message: le.Message}
	if le.Pos.IsValid() {
		p.File = le.Pos.Filename()
		p.Line = le.Pos.Line()
	}
	return p
}
