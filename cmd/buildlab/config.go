package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joss/buildlab/internal/config"
	"github.com/joss/buildlab/internal/render"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(settingsView(settings))
			if err != nil {
				return err
			}
			render.Stdout().Print(string(data))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "paths",
		Short: "Print the directories buildlab uses",
		Run: func(cmd *cobra.Command, args []string) {
			p := config.GetPaths()
			w := render.Stdout()
			w.Println("home:    %s", p.Home)
			w.Println("data:    %s", settings.DataDir)
			w.Println("exports: %s", p.Exports)
		},
	})
	return cmd
}

// settingsView mirrors the config file keys. Secrets are masked.
func settingsView(s *config.Settings) map[string]any {
	return map[string]any{
		"provider":          s.Provider,
		"project_model":     s.ProjectModel,
		"answer_model":      s.AnswerModel,
		"api_key":           mask(s.APIKey),
		"base_url":          s.BaseURL,
		"timeout":           s.Timeout.String(),
		"token_budget":      s.TokenBudget,
		"temperature":       s.Temperature,
		"max_output_tokens": s.MaxOutputTokens,
		"store":             s.Store,
		"data_dir":          s.DataDir,
		"neo4j_uri":         s.Neo4jURI,
		"neo4j_user":        s.Neo4jUser,
		"neo4j_password":    mask(s.Neo4jPassword),
		"neo4j_database":    s.Neo4jDatabase,
		"cache_ttl":         s.CacheTTL.String(),
		"server_addr":       s.ServerAddr,
		"log_level":         s.LogLevel,
		"scaffold":          s.Scaffold,
	}
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + "****"
}
