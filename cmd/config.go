package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/llmosd/llmosd/internal/config"
	"github.com/llmosd/llmosd/internal/host"
)

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Interactive configuration wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runConfigWizard()
		},
	}
}

func runConfigWizard() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hostURL := cfg.Host.ServerURL
	runForm(huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Model host URL").
			Description("Ollama-compatible HTTP endpoint").
			Placeholder("http://127.0.0.1:11434").
			Validate(notEmpty).
			Value(&hostURL),
	)))
	hostURL = strings.TrimRight(strings.TrimSpace(hostURL), "/")
	cfg.Host.ServerURL = hostURL

	// Ask the host which models it has. Selection degrades to free-text
	// when the host is unreachable.
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tags, tagsErr := host.New(hostURL).Tags(probeCtx)
	cancel()
	if tagsErr != nil {
		fmt.Fprintf(os.Stderr, "Host not reachable (%v), enter model names manually.\n", tagsErr)
	}

	chatModel := cfg.Inference.ModelName
	embModel := cfg.Inference.EmbeddingModelName
	if len(tags) > 0 {
		runForm(huh.NewForm(huh.NewGroup(
			huh.NewSelect[string]().
				Title("Chat model").
				Options(huh.NewOptions(tags...)...).
				Value(&chatModel),
			huh.NewSelect[string]().
				Title("Embedding model").
				Options(huh.NewOptions(tags...)...).
				Value(&embModel),
		)))
	} else {
		runForm(huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Chat model").Validate(notEmpty).Value(&chatModel),
			huh.NewInput().Title("Embedding model").Validate(notEmpty).Value(&embModel),
		)))
	}
	cfg.Inference.ModelName = chatModel
	cfg.Inference.EmbeddingModelName = embModel

	formatMode := cfg.Inference.FormatMode
	if formatMode == "" {
		formatMode = config.FormatModeJSON
	}
	port := strconv.Itoa(cfg.Server.Port)
	searchID := cfg.Web.SearchEngineID
	runForm(huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Response format mode").
				Options(
					huh.NewOption("json: ask the host for a JSON object", config.FormatModeJSON),
					huh.NewOption("structured: constrain output with the reply schema", config.FormatModeStructured),
					huh.NewOption("none: trust the model, parse as-is", config.FormatModeNone),
				).
				Value(&formatMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("HTTP listen port").
				Validate(validPort).
				Value(&port),
			huh.NewInput().
				Title("Google Programmable Search Engine ID").
				Description("Optional, for the web function set. The API key is read from LLMOSD_GOOGLE_API_KEY.").
				Value(&searchID),
		),
	))
	cfg.Inference.FormatMode = formatMode
	cfg.Server.Port, _ = strconv.Atoi(strings.TrimSpace(port))
	cfg.Web.SearchEngineID = strings.TrimSpace(searchID)

	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration written to %s\n", cfgPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  llmosd doctor   verify the host and models")
	fmt.Println("  llmosd serve    start the server")
	fmt.Println("  llmosd chat     talk to an agent")
}

// runForm runs one wizard form, exiting the process on abort.
func runForm(form *huh.Form) {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(os.Stderr, "Aborted.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

func validPort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}
