package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samsaffron/aye/internal/llm"
	"github.com/samsaffron/aye/internal/signal"
	"github.com/spf13/cobra"
)

var (
	providersJSON       bool
	providersConfigured bool
	providersTimeout    time.Duration
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect LLM providers",
	Long: `Inspect the supported LLM providers.

A provider is configured when it has an API key in the config file or its
environment variable. Ollama needs no key.

Examples:
  aye providers list
  aye providers list --configured --json
  aye providers test anthropic
  aye providers models openai`,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers and whether they are configured",
	Args:  cobra.NoArgs,
	RunE:  runProvidersList,
}

var providersTestCmd = &cobra.Command{
	Use:   "test <provider>",
	Short: "Send a tiny prompt to a provider's cheapest model",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersTest,
}

var providersModelsCmd = &cobra.Command{
	Use:   "models <provider>",
	Short: "List a provider's models",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvidersModels,
}

func init() {
	providersListCmd.Flags().BoolVar(&providersJSON, "json", false, "Output as JSON")
	providersListCmd.Flags().BoolVar(&providersConfigured, "configured", false, "Show only configured providers")
	providersModelsCmd.Flags().BoolVar(&providersJSON, "json", false, "Output as JSON")
	for _, c := range []*cobra.Command{providersTestCmd, providersModelsCmd} {
		c.Flags().DurationVar(&providersTimeout, "timeout", 30*time.Second, "Request timeout")
		c.ValidArgsFunction = providerCompletion
	}

	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd, providersTestCmd, providersModelsCmd)
}

func providerCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, a := range llm.Adapters {
		if strings.HasPrefix(a.String(), toComplete) {
			names = append(names, a.String())
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	_, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var providers []llm.ProviderInfo
	for _, p := range a.GetProviderConfigs() {
		if providersConfigured && !p.IsConfigured {
			continue
		}
		providers = append(providers, p)
	}

	out := cmd.OutOrStdout()
	if providersJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(providers)
	}

	for _, p := range providers {
		fmt.Fprintf(out, "%s  %s\n", boldStyle.Render(fmt.Sprintf("%-10s", p.Name)), configuredText(p.IsConfigured))
		fmt.Fprintf(out, "  %s\n", p.Description)
		if a, ok := llm.ParseAdapter(p.Name); ok && a.RequiresKey() {
			fmt.Fprintf(out, "  %s\n", mutedStyle.Render(fmt.Sprintf("key: %s (%s) %s", a.EnvVar(), p.KeyFormat, p.Website)))
		}
		if len(p.Models) > 0 {
			fmt.Fprintf(out, "  %s\n", mutedStyle.Render("models: "+strings.Join(p.Models, ", ")))
		}
	}
	return nil
}

func runProvidersTest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	_, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, providersTimeout)
	defer cancel()

	start := time.Now()
	ok, err := a.TestProviderConnection(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintf(out, "%s: %s\n", args[0], errStyle.Render("connection failed (see log for details)"))
		return fmt.Errorf("provider %s did not respond", args[0])
	}
	fmt.Fprintf(out, "%s: %s %s\n", args[0], okStyle.Render("ok"), mutedStyle.Render(time.Since(start).Round(time.Millisecond).String()))
	return nil
}

func runProvidersModels(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background())
	defer stop()
	_, a, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, providersTimeout)
	defer cancel()

	models, err := a.ListModels(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if providersJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	for _, m := range models {
		if m.DisplayName != "" && m.DisplayName != m.ID {
			fmt.Fprintf(out, "%s  %s\n", m.ID, mutedStyle.Render(m.DisplayName))
			continue
		}
		fmt.Fprintln(out, m.ID)
	}
	return nil
}
