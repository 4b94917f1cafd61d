package cli

import (
	"fmt"
	"strings"

	"github.com/ravik/senna/internal/app"
	"github.com/ravik/senna/internal/config"
	"github.com/ravik/senna/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	chatSessionKey string
	chatProviderID string
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Run one conversation turn",
	Long: `Run one conversation turn: the prompt is appended to the session,
sent through the fallback router, and the assistant's reply is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSessionKey, "session", "default", "session key")
	chatCmd.Flags().StringVar(&chatProviderID, "provider", "", "preferred provider id for this turn")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Runner.Run(cmd.Context(), agent.RunParams{
		SessionKey:          chatSessionKey,
		Prompt:              strings.Join(args, " "),
		PreferredProviderID: chatProviderID,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Response)
	return nil
}
