package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmosd/llmosd/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("llmosd doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Model host
	fmt.Println()
	fmt.Println("  Model host:")
	fmt.Printf("    %-12s %s\n", "URL:", cfg.Host.ServerURL)
	client := newHostClient(cfg)
	if pingErr := client.Ping(ctx); pingErr != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", pingErr)
	} else {
		fmt.Printf("    %-12s OK\n", "Status:")
		tags, tagsErr := client.Tags(ctx)
		if tagsErr != nil {
			fmt.Printf("    %-12s LIST FAILED (%s)\n", "Models:", tagsErr)
		} else {
			checkModel("Chat model:", cfg.Inference.ModelName, tags)
			checkModel("Embedding:", cfg.Inference.EmbeddingModelName, tags)
		}

		// Empty prompt loads the model without generating anything.
		start := time.Now()
		if _, genErr := client.Generate(ctx, cfg.Inference.ModelName, ""); genErr != nil {
			fmt.Printf("    %-12s FAILED (%s)\n", "Load test:", genErr)
		} else {
			fmt.Printf("    %-12s OK (%s)\n", "Load test:", time.Since(start).Round(time.Millisecond))
		}
	}

	// Storage
	fmt.Println()
	fmt.Println("  Storage:")
	checkDir("Convs:", cfg.StoragePath())
	checkDir("Personas:", cfg.PersonasPath())

	// Function sets
	fmt.Println()
	fmt.Println("  Function sets:")
	if cfg.Web.SearchEngineID != "" && cfg.Web.APIKey != "" {
		fmt.Printf("    %-12s configured\n", "Web:")
	} else if cfg.Web.SearchEngineID != "" {
		fmt.Printf("    %-12s search engine ID set, LLMOSD_GOOGLE_API_KEY missing\n", "Web:")
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Web:")
	}
	checkBinary(cfg.Interpreter.PythonBin)
	checkBinary("git")

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

// checkModel reports whether name is on the host. A bare name like
// "llama3.1" matches any tag of that model.
func checkModel(label, name string, tags []string) {
	if name == "" {
		fmt.Printf("    %-12s (not configured)\n", label)
		return
	}
	for _, tag := range tags {
		if tag == name || tag == name+":latest" || strings.SplitN(tag, ":", 2)[0] == name {
			fmt.Printf("    %-12s %s (available)\n", label, name)
			return
		}
	}
	fmt.Printf("    %-12s %s (NOT PULLED)\n", label, name)
}

func checkDir(label, dir string) {
	if _, err := os.Stat(dir); err != nil {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", label, dir)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", label, dir)
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
