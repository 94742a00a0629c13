// SPDX-License-Identifier: Apache-2.0

// Command cli is the operator tool: schema migration, seed-file loading,
// and offline seed validation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/operato/workflow-engine/internal/config"
	"github.com/operato/workflow-engine/internal/domain"
	"github.com/operato/workflow-engine/internal/logging"
	"github.com/operato/workflow-engine/internal/persistence/postgres"
	"github.com/operato/workflow-engine/internal/repository"
)

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	Name              string         `yaml:"name"`
	MaxRequestsPerMin int            `yaml:"max_requests_per_min"`
	Workflows         []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	Name        string         `yaml:"name"`
	TriggerType string         `yaml:"trigger_type"`
	Active      *bool          `yaml:"active"`
	Condition   map[string]any `yaml:"condition"`
	Steps       []seedStep     `yaml:"steps"`
}

type seedStep struct {
	Position int            `yaml:"position"`
	Kind     string         `yaml:"kind"`
	Config   map[string]any `yaml:"config"`
}

func main() {
	root := &cobra.Command{
		Use:           "workflowctl",
		Short:         "Operator tooling for the workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd(), seedCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := logging.NewLogger(cfg.Env)

			pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(cmd.Context(), pool, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}

			logger.Info("schema is up to date")
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load tenants and workflow definitions from a YAML seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeedFile(file)
			if err != nil {
				return err
			}

			cfg := config.Load()
			logger := logging.NewLogger(cfg.Env)

			pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			if err := postgres.SchemaReady(cmd.Context(), pool); err != nil {
				return fmt.Errorf("schema not ready, run migrate first: %w", err)
			}

			tenantRepo := repository.NewTenantRepository(pool, logger)
			defRepo := repository.NewDefinitionRepository(pool, logger)

			return applySeed(cmd.Context(), cmd.OutOrStdout(), seed, tenantRepo, defRepo)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "path to the seed file")
	return cmd
}

func validateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a seed file without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := loadSeedFile(file)
			if err != nil {
				return err
			}

			for _, tenant := range seed.Tenants {
				for _, wf := range tenant.Workflows {
					def, err := seedDefinition(wf)
					if err != nil {
						return fmt.Errorf("tenant %q workflow %q: %w", tenant.Name, wf.Name, err)
					}
					if err := def.ValidateSteps(); err != nil {
						return fmt.Errorf("tenant %q: %w", tenant.Name, err)
					}
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "seed file is valid")
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed.yaml", "path to the seed file")
	return cmd
}

func loadSeedFile(path string) (seedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return seedFile{}, fmt.Errorf("parse seed file: %w", err)
	}
	if len(seed.Tenants) == 0 {
		return seedFile{}, fmt.Errorf("seed file %s defines no tenants", path)
	}

	return seed, nil
}

type tenantSeeder interface {
	CreateTenant(ctx context.Context, params domain.CreateTenantParams) (domain.CreatedTenant, error)
}

type definitionSeeder interface {
	CreateDefinition(ctx context.Context, params domain.CreateDefinitionParams) (uuid.UUID, error)
}

func applySeed(ctx context.Context, out io.Writer, seed seedFile, tenants tenantSeeder, defs definitionSeeder) error {
	for _, tenant := range seed.Tenants {
		created, err := tenants.CreateTenant(ctx, domain.CreateTenantParams{
			Name:              tenant.Name,
			MaxRequestsPerMin: tenant.MaxRequestsPerMin,
		})
		if err != nil {
			return fmt.Errorf("create tenant %q: %w", tenant.Name, err)
		}

		// The token is shown exactly once; only its hash is stored.
		fmt.Fprintf(out, "tenant %s created: id=%s token=%s\n", tenant.Name, created.ID, created.Token)

		for _, wf := range tenant.Workflows {
			def, err := seedDefinition(wf)
			if err != nil {
				return fmt.Errorf("tenant %q workflow %q: %w", tenant.Name, wf.Name, err)
			}

			workflowID, err := defs.CreateDefinition(ctx, domain.CreateDefinitionParams{
				TenantID:    created.ID,
				Name:        def.Name,
				TriggerType: def.TriggerType,
				Condition:   def.Condition,
				Steps:       def.Steps,
				Active:      def.Active,
			})
			if err != nil {
				return fmt.Errorf("create workflow %q for tenant %q: %w", wf.Name, tenant.Name, err)
			}

			fmt.Fprintf(out, "  workflow %s created: id=%s trigger=%s\n", wf.Name, workflowID, wf.TriggerType)
		}
	}

	return nil
}

// seedDefinition converts the YAML shape into a definition, re-encoding the
// free-form condition and step configs as JSON.
func seedDefinition(wf seedWorkflow) (domain.WorkflowDefinition, error) {
	var condition json.RawMessage
	if len(wf.Condition) > 0 {
		encoded, err := json.Marshal(wf.Condition)
		if err != nil {
			return domain.WorkflowDefinition{}, fmt.Errorf("encode condition: %w", err)
		}
		condition = encoded
	}

	steps := make([]domain.StepSpec, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		var cfg json.RawMessage
		if len(s.Config) > 0 {
			encoded, err := json.Marshal(s.Config)
			if err != nil {
				return domain.WorkflowDefinition{}, fmt.Errorf("encode config at position %d: %w", s.Position, err)
			}
			cfg = encoded
		}
		steps = append(steps, domain.StepSpec{
			Position: s.Position,
			Kind:     domain.StepKind(s.Kind),
			Config:   cfg,
		})
	}

	active := true
	if wf.Active != nil {
		active = *wf.Active
	}

	return domain.WorkflowDefinition{
		Name:        wf.Name,
		TriggerType: wf.TriggerType,
		Condition:   condition,
		Steps:       steps,
		Active:      active,
	}, nil
}
