package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage     = "pgvector/pgvector:0.8.1-pg18"
	pgCreds     = "clipfinder"
	rustfsImage = "rustfs/rustfs:latest"

	// RustFSCredential is both the access key and the secret of the RustFS container.
	RustFSCredential = "rustfsadmin"
)

// cleanTables lists every table the migrations create, children first.
var cleanTables = []string{"search_logs", "embedding_cache"}

// PostgresContainer is a pgvector-enabled Postgres for repository and e2e tests.
type PostgresContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
	User      string
	Password  string
	Database  string
}

// RustFSContainer is an S3-compatible object store for the index mirror tests.
type RustFSContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// startContainer boots req and returns the host and mapped port of its first
// exposed port. Tests are skipped when no container runtime is reachable.
func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) (testcontainers.Container, string, string) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	port, err := container.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return container, host, port.Port()
}

// NewPostgresContainer starts Postgres with the vector extension available.
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	container, host, port := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgCreds,
			"POSTGRES_PASSWORD": pgCreds,
			"POSTGRES_DB":       pgCreds,
		},
		// The entrypoint restarts the server once after init; wait for the second start.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})

	return &PostgresContainer{
		Container: container,
		Host:      host,
		Port:      port,
		User:      pgCreds,
		Password:  pgCreds,
		Database:  pgCreds,
	}
}

// ConnectionString returns the PostgreSQL connection string
func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database)
}

// Terminate stops and removes the container
func (pc *PostgresContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(pc.Container)
}

// NewRustFSContainer starts RustFS with RustFSCredential as access and secret key.
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	container, host, port := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSCredential,
			"RUSTFS_SECRET_KEY": RustFSCredential,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	return &RustFSContainer{Container: container, Host: host, Port: port}
}

// Endpoint returns the RustFS endpoint URL
func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

// Terminate stops and removes the container
func (rc *RustFSContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// NewTestPool connects to pc, retrying while the server settles, and applies the
// up migrations in migrationsDir.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()

	var (
		pool *pgxpool.Pool
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.New(ctx, pc.ConnectionString())
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	if err := RunMigrations(ctx, pool, migrationsDir); err != nil {
		pool.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return pool
}

// RunMigrations applies every *.up.sql file in migrationsDir in one transaction,
// ordered by file name. Production startup uses golang-migrate over the same files.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationsDir string) error {
	ups, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("no up migrations in %s", migrationsDir)
	}
	sort.Strings(ups)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, path := range ups {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read migration %s: %w", filepath.Base(path), err)
			}
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to run migration %s: %w", filepath.Base(path), err)
			}
		}
		return nil
	})
}

// TruncateAll empties every table so tests sharing a container start clean.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(cleanTables, ", ")+" CASCADE")
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}
