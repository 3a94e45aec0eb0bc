package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pmendyk-crypto/vetting-app/internal/config"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/cases"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/directory"
	"github.com/pmendyk-crypto/vetting-app/internal/domain/reference"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/auth"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/db"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/sqlitedb"
	"github.com/pmendyk-crypto/vetting-app/internal/platform/telemetry"
)

// transactor is satisfied by both db.Transactor and sqlitedb.Transactor.
type transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// backend holds the repositories of one relational store.
type backend struct {
	name       string
	orgs       directory.OrganisationRepository
	users      directory.UserRepository
	members    directory.MembershipRepository
	audit      directory.AuditRepository
	insts      reference.InstitutionRepository
	protocols  reference.ProtocolRepository
	cases      cases.Repository
	tx         transactor
	probe      db.Probe
	instrument func(tp *telemetry.TelemetryProvider) error
	close      func()
}

// openBackend connects to PostgreSQL when DATABASE_URL is set and to the
// SQLite file at DB_PATH otherwise. The SQLite schema is migrated on open;
// PostgreSQL schemas are migrated with "migrate up".
func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.Backend() == config.BackendPostgres {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to postgres")
		return postgresBackend(pool), nil
	}

	conn, err := sqlitedb.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	n, err := sqlitedb.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	logger.Info().Str("path", cfg.DBPath).Int("applied", n).Msg("opened sqlite database")
	return sqliteBackend(conn), nil
}

func postgresBackend(pool *pgxpool.Pool) *backend {
	return &backend{
		name:      config.BackendPostgres,
		orgs:      directory.NewOrganisationRepoPG(pool),
		users:     directory.NewUserRepoPG(pool),
		members:   directory.NewMembershipRepoPG(pool),
		audit:     directory.NewAuditRepoPG(pool),
		insts:     reference.NewInstitutionRepoPG(pool),
		protocols: reference.NewProtocolRepoPG(pool),
		cases:     cases.NewRepoPG(pool),
		tx:        db.NewTransactor(pool),
		probe:     db.PoolProbe(pool),
		instrument: func(tp *telemetry.TelemetryProvider) error {
			return tp.RegisterPgxPool(pool)
		},
		close: pool.Close,
	}
}

func sqliteBackend(conn *sql.DB) *backend {
	return &backend{
		name:      config.BackendSQLite,
		orgs:      directory.NewOrganisationRepoSQLite(conn),
		users:     directory.NewUserRepoSQLite(conn),
		members:   directory.NewMembershipRepoSQLite(conn),
		audit:     directory.NewAuditRepoSQLite(conn),
		insts:     reference.NewInstitutionRepoSQLite(conn),
		protocols: reference.NewProtocolRepoSQLite(conn),
		cases:     cases.NewRepoSQLite(conn),
		tx:        sqlitedb.NewTransactor(conn),
		probe: db.Probe{
			Backend: config.BackendSQLite,
			Ping:    conn.PingContext,
			Stats:   func() interface{} { return conn.Stats() },
		},
		instrument: func(tp *telemetry.TelemetryProvider) error {
			return tp.RegisterSQLDB(conn, "main")
		},
		close: func() { conn.Close() },
	}
}

// services are the domain services built over one backend.
type services struct {
	directory *directory.Service
	reference *reference.Service
}

func newServices(b *backend, cfg *config.Config, tokens *auth.TokenIssuer, logger zerolog.Logger) *services {
	return &services{
		directory: directory.NewService(b.orgs, b.users, b.members, b.audit, b.tx, tokens, logger),
		reference: reference.NewService(b.insts, b.protocols, b.tx, cfg.DefaultSLAHours, logger),
	}
}
