package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/minios-linux/lokstudio/settings"
	"github.com/minios-linux/lokstudio/translate"
)

var (
	authTitle   = color.New(color.FgBlue).SprintFunc()
	authSection = color.New(color.FgYellow).SprintFunc()
	authOK      = color.New(color.FgGreen).SprintFunc()
	authMissing = color.New(color.FgRed).SprintFunc()
)

// keyProviders is the ordered list of providers that store credentials.
var keyProviders = []struct {
	id      string
	name    string
	helpURL string
}{
	{translate.ProviderOpenAI, "OpenAI", "https://platform.openai.com/api-keys"},
	{translate.ProviderGroq, "Groq Cloud", "https://console.groq.com/keys"},
	{translate.ProviderOpenRouter, "OpenRouter", "https://openrouter.ai/keys"},
	{translate.ProviderCustomOpenAI, "Custom OpenAI", ""},
}

func keyProviderIDs() []string {
	ids := make([]string, len(keyProviders))
	for i, p := range keyProviders {
		ids[i] = p.id
	}
	return ids
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage stored API keys for AI providers.

Keys are kept in auth.json in the lokstudio data directory with 0600
permissions. A key passed with --api-key or set in LOKSTUDIO_API_KEY or the
provider's own environment variable (OPENAI_API_KEY, GROQ_API_KEY,
OPENROUTER_API_KEY) takes precedence over the stored one.

Ollama needs no key.

Examples:
  lokstudio auth login --provider groq
  lokstudio auth login --provider custom-openai --base-url http://localhost:8000/v1
  lokstudio auth logout --provider groq
  lokstudio auth list`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var provider, baseURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider = strings.ToLower(provider)
			switch {
			case provider == translate.ProviderOllama:
				logInfo("Ollama runs locally and needs no API key")
				return nil
			case !slices.Contains(keyProviderIDs(), provider):
				return fmt.Errorf("unknown provider %q (available: %s)", provider, strings.Join(keyProviderIDs(), ", "))
			}
			return authLogin(cmd.InOrStdin(), cmd.ErrOrStderr(), provider, baseURL)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", translate.ProviderOpenAI, "Provider to authenticate")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint URL (custom-openai)")
	registerKeyProviderCompletion(cmd)

	return cmd
}

func authLogin(in io.Reader, out io.Writer, providerID, baseURL string) error {
	name, helpURL := providerID, ""
	for _, p := range keyProviders {
		if p.id == providerID {
			name, helpURL = p.name, p.helpURL
		}
	}

	fmt.Fprintf(out, "\n%s\n", authTitle(name+" API key setup"))
	fmt.Fprintln(out, strings.Repeat("─", 60))
	if helpURL != "" {
		fmt.Fprintf(out, "  Get your API key from: %s\n\n", authOK(helpURL))
	}

	scanner := bufio.NewScanner(in)
	existing := settings.Get(providerID)

	if providerID == translate.ProviderCustomOpenAI && baseURL == "" {
		if existing != nil && existing.BaseURL != "" {
			fmt.Fprintf(out, "  Current endpoint: %s\n", authSection(existing.BaseURL))
			fmt.Fprint(out, "  Enter new endpoint URL, or press Enter to keep: ")
		} else {
			fmt.Fprint(out, "  Enter endpoint URL (e.g., https://api.example.com/v1): ")
		}
		if !scanner.Scan() {
			return errors.New("no input received")
		}
		baseURL = strings.TrimSpace(scanner.Text())
		if baseURL == "" && existing != nil {
			baseURL = existing.BaseURL
		}
		if baseURL == "" {
			return errors.New("endpoint URL is required")
		}
	}

	if existing != nil && existing.Key != "" {
		fmt.Fprintf(out, "  Current key: %s\n", authSection(settings.MaskKey(existing.Key)))
		fmt.Fprint(out, "  Enter new key to replace, or press Enter to keep: ")
	} else {
		fmt.Fprint(out, "  Enter API key: ")
	}
	if !scanner.Scan() {
		return errors.New("no input received")
	}
	key := strings.TrimSpace(scanner.Text())
	fmt.Fprintln(out)

	if key == "" && existing != nil {
		key = existing.Key
	}
	if key == "" && providerID != translate.ProviderCustomOpenAI {
		return errors.New("no API key provided")
	}

	var err error
	if baseURL != "" {
		err = settings.SetAPIKeyWithBaseURL(providerID, key, baseURL)
	} else {
		err = settings.SetAPIKey(providerID, key)
	}
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	logSuccess("%s credentials saved", name)
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := settings.RemoveAll(); err != nil {
					return fmt.Errorf("removing credentials: %w", err)
				}
				logSuccess("All stored credentials removed")
				return nil
			}
			if !slices.Contains(keyProviderIDs(), provider) {
				return fmt.Errorf("unknown provider '%s'. Run 'lokstudio auth list' to see providers", provider)
			}
			if err := settings.Remove(provider); err != nil {
				return fmt.Errorf("removing %s credentials: %w", provider, err)
			}
			logSuccess("%s credentials removed", provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	registerKeyProviderCompletion(cmd)

	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials and status",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printAuthStatus(cmd.OutOrStdout())
		},
	}
}

func printAuthStatus(w io.Writer) {
	fmt.Fprintf(w, "\n%s\n", authTitle("Stored credentials"))
	fmt.Fprintln(w, strings.Repeat("─", 60))

	fmt.Fprintf(w, "\n  %s\n", authSection("API key providers"))
	for _, p := range keyProviders {
		entry := settings.Get(p.id)
		switch {
		case entry != nil && entry.Key != "":
			fmt.Fprintf(w, "  %-14s %s (key: %s)\n", p.id, authOK("configured"), settings.MaskKey(entry.Key))
		case entry != nil && entry.BaseURL != "":
			fmt.Fprintf(w, "  %-14s %s (no key)\n", p.id, authOK("configured"))
		default:
			fmt.Fprintf(w, "  %-14s %s\n", p.id, authMissing("not configured"))
			continue
		}
		if entry.BaseURL != "" {
			fmt.Fprintf(w, "  %14s endpoint: %s\n", "", entry.BaseURL)
		}
	}
	fmt.Fprintf(w, "  %-14s %s\n", translate.ProviderOllama, "no key needed")

	fmt.Fprintf(w, "\n  %s\n", authSection("Environment variables"))
	envs := []string{settings.EnvAPIKey}
	for _, p := range keyProviders {
		if env := settings.EnvVarForProvider(p.id); env != "" && !slices.Contains(envs, env) {
			envs = append(envs, env)
		}
	}
	for _, env := range envs {
		if v := os.Getenv(env); v != "" {
			fmt.Fprintf(w, "  %s: %s (overrides stored keys)\n", env, authOK(settings.MaskKey(v)))
		} else {
			fmt.Fprintf(w, "  %s: %s\n", env, authMissing("not set"))
		}
	}
	fmt.Fprintln(w)
}

func registerKeyProviderCompletion(cmd *cobra.Command) {
	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		completions := make([]string, 0, len(keyProviders))
		for _, p := range keyProviders {
			completions = append(completions, fmt.Sprintf("%s\t%s", p.id, p.name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}
