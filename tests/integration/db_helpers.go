package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marinahub/sentinel/internal/database"
	"github.com/marinahub/sentinel/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("sentinel"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	// Migrations ship embedded in the database package, so the container
	// gets the exact schema production runs.
	if err := dbWrapper.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"security_events",
		"security_incidents",
		"user_sessions",
		"blocked_ips",
		"unlock_challenges",
		"system_events",
		"account_roles",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.SecurityEventRepository,
	*repositories.IncidentRepository,
	*repositories.SessionRepository,
	*repositories.BlockedIPRepository,
	*repositories.UnlockChallengeRepository,
) {
	return repositories.NewSecurityEventRepository(db),
		repositories.NewIncidentRepository(db),
		repositories.NewSessionRepository(db),
		repositories.NewBlockedIPRepository(db),
		repositories.NewUnlockChallengeRepository(db)
}

// SeedAccountRole inserts a directory row mapping a user to a role
func SeedAccountRole(ctx context.Context, pool *pgxpool.Pool, userID, role, email string) error {
	query := `
		INSERT INTO account_roles (user_id, role, email, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET role = $2, email = $3, updated_at = NOW()
	`
	if _, err := pool.Exec(ctx, query, userID, role, email); err != nil {
		return fmt.Errorf("failed to insert account role: %w", err)
	}
	return nil
}

// SeedFailedLogins inserts n failed_login events for a user/IP pair
func SeedFailedLogins(ctx context.Context, pool *pgxpool.Pool, userID, ipAddress string, n int) error {
	query := `
		INSERT INTO security_events (user_id, ip_address, event_type, reason, created_at)
		VALUES ($1, $2, 'failed_login', 'invalid credentials', NOW())
	`
	for i := 0; i < n; i++ {
		if _, err := pool.Exec(ctx, query, userID, ipAddress); err != nil {
			return fmt.Errorf("failed to insert failed login: %w", err)
		}
	}
	return nil
}

// SeedActiveLockout inserts an unresolved account_locked event
func SeedActiveLockout(ctx context.Context, pool *pgxpool.Pool, userID, ipAddress, lockType string, until time.Time) error {
	query := `
		INSERT INTO security_events (user_id, ip_address, event_type, lock_type, reason, locked_until, risk_score, created_at)
		VALUES ($1, $2, 'account_locked', $3, 'seeded lock', $4, 80, NOW())
	`
	if _, err := pool.Exec(ctx, query, userID, ipAddress, lockType, until); err != nil {
		return fmt.Errorf("failed to insert lockout event: %w", err)
	}
	return nil
}

// SeedSession inserts an active session row and returns its id
func SeedSession(ctx context.Context, pool *pgxpool.Pool, userID, ipAddress string, expiresAt time.Time) (string, error) {
	query := `
		INSERT INTO user_sessions (user_id, ip_address, user_agent, expires_at)
		VALUES ($1, $2, 'integration-test', $3)
		RETURNING id
	`
	var id string
	if err := pool.QueryRow(ctx, query, userID, ipAddress, expiresAt).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}
