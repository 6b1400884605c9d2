package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/trobanga/rythmiq/internal/models"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate a shell completion script for rythmiq. Job ids and job
states complete from the configured queue.

Bash:
  $ source <(rythmiq completion bash)

Zsh:
  $ rythmiq completion zsh > "${fpath[1]}/_rythmiq"

Fish:
  $ rythmiq completion fish > ~/.config/fish/completions/rythmiq.fish

PowerShell:
  PS> rythmiq completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	jobStatusCmd.ValidArgsFunction = completeJobIDs
	jobResultCmd.ValidArgsFunction = completeJobIDs
	_ = jobListCmd.RegisterFlagCompletionFunc("state", completeStates)
	_ = jobExportCmd.RegisterFlagCompletionFunc("state", completeStates)
}

// completeJobIDs offers the ids of stored jobs, described by their state
func completeJobIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	defer a.Close()

	jobs, err := a.queue.List(cmd.Context(), "")
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	var ids []string
	for _, job := range jobs {
		if strings.HasPrefix(job.JobID, toComplete) {
			ids = append(ids, job.JobID+"\t"+string(job.State))
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

func completeStates(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var states []string
	for _, state := range models.AllJobStates {
		if strings.HasPrefix(string(state), strings.ToUpper(toComplete)) {
			states = append(states, string(state))
		}
	}
	return states, cobra.ShellCompDirectiveNoFileComp
}
