package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/forms/internal/config"
	"github.com/ehr/forms/internal/domain/questionnaire"
	"github.com/ehr/forms/internal/platform/db"
	"github.com/ehr/forms/internal/platform/fhirpath"
)

var errResponseInvalid = errors.New("questionnaire response is not valid")

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR or the embedded set)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: MIGRATIONS_DIR or the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewDirMigrator(pool, dir))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func populateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Pre-fill a questionnaire from a launch context and print the response",
		RunE: func(cmd *cobra.Command, args []string) error {
			definition, _ := cmd.Flags().GetString("definition")
			contextPath, _ := cmd.Flags().GetString("context")
			subject, _ := cmd.Flags().GetString("subject")
			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			return runPopulate(cmd.OutOrStdout(), logger, definition, contextPath, subject)
		},
	}
	cmd.Flags().String("definition", "", "Questionnaire definition (JSON or YAML)")
	cmd.Flags().String("context", "", "Launch context object, e.g. {\"patient\": {...}} (JSON or YAML)")
	cmd.Flags().String("subject", "", "Subject reference recorded on the response")
	_ = cmd.MarkFlagRequired("definition")
	return cmd
}

func runPopulate(w io.Writer, logger zerolog.Logger, definitionPath, contextPath, subject string) error {
	q, err := questionnaire.LoadQuestionnaireFile(definitionPath)
	if err != nil {
		return err
	}
	warnings, err := questionnaire.ValidateDefinition(q.Item)
	if err != nil {
		return err
	}
	for _, warn := range warnings {
		logger.Warn().Str("definition", definitionPath).Msg(warn)
	}

	launch := map[string]interface{}{}
	if contextPath != "" {
		if launch, err = questionnaire.LoadJSONObject(contextPath); err != nil {
			return err
		}
	}

	res := questionnaire.NewPopulator(fhirpath.NewEngine(), logger).Populate(q.Item, launch)
	qr := questionnaire.NewQuestionnaireResponse(q, subject)
	qr.Item = res.Items
	logger.Info().Int("populated", res.Populated).Int("total", res.Total).Msg("populated")

	out, err := json.MarshalIndent(qr, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate",
		Short:         "Validate a questionnaire response against its definition",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			definition, _ := cmd.Flags().GetString("definition")
			response, _ := cmd.Flags().GetString("response")
			err := runValidate(cmd.OutOrStdout(), definition, response)
			if err != nil && !errors.Is(err, errResponseInvalid) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
			}
			return err
		},
	}
	cmd.Flags().String("definition", "", "Questionnaire definition (JSON or YAML)")
	cmd.Flags().String("response", "", "QuestionnaireResponse (JSON)")
	_ = cmd.MarkFlagRequired("definition")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

// runValidate prints the validation result and returns errResponseInvalid
// when the response has errors.
func runValidate(w io.Writer, definitionPath, responsePath string) error {
	q, err := questionnaire.LoadQuestionnaireFile(definitionPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(responsePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", responsePath, err)
	}
	qr, err := questionnaire.ParseQuestionnaireResponse(data)
	if err != nil {
		return err
	}

	result := questionnaire.ValidateResponse(q.Item, qr.Item)
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(w, string(out))
	if !result.Valid {
		return errResponseInvalid
	}
	return nil
}
