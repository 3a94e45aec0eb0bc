package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pmendyk-crypto/vetting-app/internal/config"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/sqlitedb"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "vetting-server",
		Short:        "Radiology referral vetting API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// resolveSigningKey returns JWT_SECRET, or a random key in development.
// The second return value is true when a random key was generated.
func resolveSigningKey(secret string, dev bool) ([]byte, bool, error) {
	if secret != "" {
		return []byte(secret), false, nil
	}
	if !dev {
		return nil, false, fmt.Errorf("JWT_SECRET is required outside development")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return key, true, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			if cfg.Backend() == config.BackendSQLite {
				conn, err := sqlitedb.Open(cfg.DBPath)
				if err != nil {
					return err
				}
				defer conn.Close()
				count, err := sqlitedb.Migrate(ctx, conn)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) to %s.\n", count, cfg.DBPath)
				return nil
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, "public", cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.CreateSchema(ctx, pool, cfg.DBSchema); err != nil {
				return err
			}

			fmt.Printf("Running migrations on schema: %s\n", cfg.DBSchema)
			count, err := db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()

			var statuses []db.MigrationStatus
			if cfg.Backend() == config.BackendSQLite {
				conn, err := sqlitedb.Open(cfg.DBPath)
				if err != nil {
					return err
				}
				defer conn.Close()
				statuses, err = sqlitedb.Status(ctx, conn)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			} else {
				pool, err := db.NewPool(ctx, cfg.DatabaseURL, "public", cfg.DBMaxConns, cfg.DBMinConns)
				if err != nil {
					return err
				}
				defer pool.Close()
				statuses, err = db.NewMigrator(pool, cfg.MigrationsDir, cfg.DBSchema).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

// operator is the access context of command-line administration.
var operator = &auth.AccessContext{Username: "cli", Role: auth.RoleSuperuser, IsSuperuser: true}

// withServices loads the configuration, opens the backend and runs fn.
func withServices(fn func(ctx context.Context, svc *services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).Level(zerolog.WarnLevel)
	ctx := context.Background()
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.close()
	return fn(ctx, newServices(b, cfg, nil, logger))
}

// inOrg returns the operator acting in the organisation named by slug.
func inOrg(ctx context.Context, svc *services, slug string) (*auth.AccessContext, error) {
	org, err := svc.directory.OrganisationBySlug(ctx, operator, slug)
	if err != nil {
		return nil, fmt.Errorf("organisation %q: %w", slug, err)
	}
	ac := *operator
	ac.OrgID = org.ID
	return &ac, nil
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organisations",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			slug, _ := cmd.Flags().GetString("slug")
			seed, _ := cmd.Flags().GetBool("seed")
			return withServices(func(ctx context.Context, svc *services) error {
				org, err := svc.directory.CreateOrganisation(ctx, operator, name, slug)
				if err != nil {
					return err
				}
				fmt.Printf("Created organisation %s (%s) id=%s\n", org.Name, org.Slug, org.ID)
				if !seed {
					return nil
				}
				res, err := svc.reference.SeedDefaults(ctx, org.ID)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d institution(s) and %d protocol(s).\n", res.Institutions, res.Protocols)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Organisation display name")
	createCmd.Flags().String("slug", "", "Organisation slug (lowercase letters, digits, hyphens)")
	createCmd.Flags().Bool("seed", false, "Seed default institutions and protocols")
	_ = createCmd.MarkFlagRequired("name")
	_ = createCmd.MarkFlagRequired("slug")

	cmd.AddCommand(createCmd)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user, optionally with a membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := directory.CreateUserInput{}
			in.Username, _ = cmd.Flags().GetString("username")
			in.Email, _ = cmd.Flags().GetString("email")
			in.IsSuperuser, _ = cmd.Flags().GetBool("superuser")
			in.Password = os.Getenv("VETTING_PASSWORD")
			if in.Password == "" {
				in.Password, _ = cmd.Flags().GetString("password")
			}
			slug, _ := cmd.Flags().GetString("org")
			role, _ := cmd.Flags().GetString("role")

			return withServices(func(ctx context.Context, svc *services) error {
				u, err := svc.directory.CreateGlobalUser(ctx, operator, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created user %s id=%s superuser=%v\n", u.Username, u.ID, u.IsSuperuser)
				if slug == "" {
					return nil
				}
				return addMember(ctx, svc, slug, u.Username, role)
			})
		},
	}
	createCmd.Flags().String("username", "", "Username")
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("password", "", "Password (or set VETTING_PASSWORD)")
	createCmd.Flags().Bool("superuser", false, "Grant the superuser capability")
	createCmd.Flags().String("org", "", "Organisation slug to add the user to")
	createCmd.Flags().String("role", string(auth.RoleOrgUser), "Role in --org")
	_ = createCmd.MarkFlagRequired("username")

	cmd.AddCommand(createCmd)
	return cmd
}

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage memberships",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add an existing user to an organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, _ := cmd.Flags().GetString("org")
			username, _ := cmd.Flags().GetString("username")
			role, _ := cmd.Flags().GetString("role")
			return withServices(func(ctx context.Context, svc *services) error {
				return addMember(ctx, svc, slug, username, role)
			})
		},
	}
	addCmd.Flags().String("org", "", "Organisation slug")
	addCmd.Flags().String("username", "", "Username")
	addCmd.Flags().String("role", string(auth.RoleOrgUser), "Membership role")
	_ = addCmd.MarkFlagRequired("org")
	_ = addCmd.MarkFlagRequired("username")

	cmd.AddCommand(addCmd)
	return cmd
}

func addMember(ctx context.Context, svc *services, slug, username, role string) error {
	r, err := auth.ParseRole(role)
	if err != nil {
		return err
	}
	ac, err := inOrg(ctx, svc, slug)
	if err != nil {
		return err
	}
	m, err := svc.directory.AddOrganisationMember(ctx, ac, ac.OrgID, username, r)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s to %s as %s\n", username, slug, m.Role)
	return nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed default institutions and protocols into an organisation",
		RunE: func(cmd *cobra.Command, args []string) error {
			slug, _ := cmd.Flags().GetString("org")
			return withServices(func(ctx context.Context, svc *services) error {
				ac, err := inOrg(ctx, svc, slug)
				if err != nil {
					return err
				}
				res, err := svc.reference.SeedDefaults(ctx, ac.OrgID)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d institution(s) and %d protocol(s) into %s.\n", res.Institutions, res.Protocols, slug)
				return nil
			})
		},
	}
	cmd.Flags().String("org", "", "Organisation slug")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}
