package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Create a .paperflow.yaml in the current directory with the default
settings spelled out, plus the state directory.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

// scaffoldConfig mirrors the loader defaults so a fresh file documents
// every knob.
func scaffoldConfig() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":            "0.0.0.0",
			"port":            8000,
			"request_timeout": "120s",
			"cors_origins":    []string{"*"},
		},
		"log": map[string]any{
			"level":  "info",
			"format": "auto",
		},
		"state": map[string]any{
			"backend": "json",
			"path":    ".paperflow/runs",
		},
		"llm": map[string]any{
			"api_key":     "",
			"model":       "gpt-4o",
			"aside_model": "gpt-4o-mini",
			"temperature": 0.2,
		},
		"craft": map[string]any{
			"base_url": "",
			"token":    "",
			"space_id": "",
		},
		"feishu": map[string]any{
			"app_id":             "",
			"app_secret":         "",
			"verification_token": "",
		},
	}
}

func runInit(_ *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".paperflow.yaml")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration already exists, use --force to overwrite")
	}

	body, err := yaml.Marshal(scaffoldConfig())
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	content := append([]byte("# paperflow configuration\n\n"), body...)

	if err := os.WriteFile(configPath, content, 0o644); err != nil { //nolint:gosec // Config file needs to be readable
		return fmt.Errorf("writing config: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(cwd, ".paperflow", "runs"), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	fmt.Println("Initialized paperflow in", cwd)
	fmt.Println("Configuration file: .paperflow.yaml")
	fmt.Println("Set llm.api_key and craft.* before running 'paperflow serve'")

	return nil
}
