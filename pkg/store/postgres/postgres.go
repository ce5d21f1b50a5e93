// Package postgres provides a PostgreSQL implementation of api.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/template"
)

//go:embed 001_init.sql
var migrationSQL string

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Config holds the PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store persists mailspend data in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects, verifies the connection and applies migrations.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	s.logger.Info("migrations completed successfully")
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}

// ListRules returns every rule with its category name.
func (s *Store) ListRules(ctx context.Context) ([]api.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.keyword, r.category_id, c.name, r.match_type, r.is_user_created, r.created_at
		FROM rules r
		JOIN categories c ON c.id = r.category_id
		ORDER BY r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Rule, error) {
		var r api.Rule
		err := row.Scan(&r.ID, &r.Keyword, &r.CategoryID, &r.CategoryName, &r.MatchType, &r.IsUserCreated, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning rules: %w", err)
	}
	return rules, nil
}

// InsertRule stores a rule, resolving its category by ID or name.
func (s *Store) InsertRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	cat, err := s.resolveCategory(ctx, rule)
	if err != nil {
		return api.Rule{}, err
	}
	rule.CategoryID = cat.ID
	rule.CategoryName = cat.Name

	err = s.pool.QueryRow(ctx, `
		INSERT INTO rules (keyword, category_id, match_type, is_user_created)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, rule.Keyword, rule.CategoryID, rule.MatchType, rule.IsUserCreated).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return api.Rule{}, fmt.Errorf("inserting rule: %w", err)
	}
	return rule, nil
}

// UpdateRule replaces keyword, category and match type of an existing rule.
func (s *Store) UpdateRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	cat, err := s.resolveCategory(ctx, rule)
	if err != nil {
		return api.Rule{}, err
	}
	rule.CategoryID = cat.ID
	rule.CategoryName = cat.Name

	err = s.pool.QueryRow(ctx, `
		UPDATE rules SET keyword = $2, category_id = $3, match_type = $4
		WHERE id = $1
		RETURNING is_user_created, created_at
	`, rule.ID, rule.Keyword, rule.CategoryID, rule.MatchType).Scan(&rule.IsUserCreated, &rule.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, api.ErrNotFound)
	}
	if err != nil {
		return api.Rule{}, fmt.Errorf("updating rule %d: %w", rule.ID, err)
	}
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting rule %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, api.ErrNotFound)
	}
	return nil
}

func (s *Store) resolveCategory(ctx context.Context, rule api.Rule) (api.Category, error) {
	var (
		c   api.Category
		err error
	)
	if rule.CategoryID != 0 {
		err = s.pool.QueryRow(ctx, `SELECT id, name FROM categories WHERE id = $1`, rule.CategoryID).Scan(&c.ID, &c.Name)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT id, name FROM categories WHERE LOWER(name) = LOWER($1)`,
			strings.TrimSpace(rule.CategoryName)).Scan(&c.ID, &c.Name)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Category{}, fmt.Errorf("category %q: %w", rule.CategoryName, api.ErrUnknownCategory)
	}
	if err != nil {
		return api.Category{}, fmt.Errorf("resolving category: %w", err)
	}
	return c, nil
}

// ListCategories returns all categories ordered by ID.
func (s *Store) ListCategories(ctx context.Context) ([]api.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, icon, color FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}

	cats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Category, error) {
		var c api.Category
		err := row.Scan(&c.ID, &c.Name, &c.Icon, &c.Color)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning categories: %w", err)
	}
	return cats, nil
}

// InsertCategory stores a category. Names are unique, ignoring case.
func (s *Store) InsertCategory(ctx context.Context, c api.Category) (api.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return api.Category{}, errors.New("category name is required")
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO categories (name, icon, color) VALUES ($1, $2, $3) RETURNING id
	`, c.Name, c.Icon, c.Color).Scan(&c.ID)
	if isUniqueViolation(err) {
		return api.Category{}, fmt.Errorf("category %q: %w", c.Name, api.ErrDuplicate)
	}
	if err != nil {
		return api.Category{}, fmt.Errorf("inserting category: %w", err)
	}
	return c, nil
}

// DeleteCategory removes a category. Its rules are removed by the foreign key cascade.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting category %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("category %d: %w", id, api.ErrNotFound)
	}
	return nil
}

// ListProviders returns all providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context) ([]api.Provider, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, icon, template FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}

	providers, err := pgx.CollectRows(rows, scanProvider)
	if err != nil {
		return nil, fmt.Errorf("scanning providers: %w", err)
	}
	return providers, nil
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, id int64) (api.Provider, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description, icon, template FROM providers WHERE id = $1`, id)
	if err != nil {
		return api.Provider{}, fmt.Errorf("querying provider %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProvider)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Provider{}, fmt.Errorf("provider %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.Provider{}, fmt.Errorf("scanning provider %d: %w", id, err)
	}
	return p, nil
}

func scanProvider(row pgx.CollectableRow) (api.Provider, error) {
	var p api.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Icon, &p.Template)
	return p, err
}

// SaveProvider validates the template and inserts or updates the provider.
// Providers are matched by ID when set, otherwise by name.
func (s *Store) SaveProvider(ctx context.Context, p api.Provider) (api.Provider, error) {
	if err := template.Validate(p.Template); err != nil {
		return api.Provider{}, err
	}

	var err error
	if p.ID != 0 {
		err = s.pool.QueryRow(ctx, `
			UPDATE providers
			SET name = $2, description = $3, icon = $4, template = $5, updated_at = NOW()
			WHERE id = $1
			RETURNING id
		`, p.ID, p.Name, p.Description, p.Icon, p.Template).Scan(&p.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return api.Provider{}, fmt.Errorf("provider %d: %w", p.ID, api.ErrNotFound)
		}
	} else {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO providers (name, description, icon, template)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name) DO UPDATE SET
				description = EXCLUDED.description,
				icon = EXCLUDED.icon,
				template = EXCLUDED.template,
				updated_at = NOW()
			RETURNING id
		`, p.Name, p.Description, p.Icon, p.Template).Scan(&p.ID)
	}
	if isUniqueViolation(err) {
		return api.Provider{}, fmt.Errorf("provider %q: %w", p.Name, api.ErrDuplicate)
	}
	if err != nil {
		return api.Provider{}, fmt.Errorf("saving provider %q: %w", p.Name, err)
	}
	return p, nil
}

// DeleteProvider removes a provider. Its transactions keep a NULL provider.
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting provider %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("provider %d: %w", id, api.ErrNotFound)
	}
	return nil
}

// ListExistingTransactionIDs returns the email IDs of all stored transactions.
func (s *Store) ListExistingTransactionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT email_id FROM transactions ORDER BY email_id`)
	if err != nil {
		return nil, fmt.Errorf("querying transaction ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning transaction ids: %w", err)
	}
	return ids, nil
}

// InsertTransaction stores t, failing with api.ErrDuplicate if its email ID exists.
func (s *Store) InsertTransaction(ctx context.Context, t api.Transaction) error {
	if t.EmailID == "" {
		return errors.New("transaction email id is required")
	}
	if t.Type == "" {
		t.Type = api.Expense
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (
			email_id, provider_id, merchant, amount, currency, date, category, source, type, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		t.EmailID,
		nullableID(t.ProviderID),
		t.Merchant,
		t.Amount,
		t.Currency,
		t.Date,
		t.Category,
		t.Source,
		t.Type,
		t.Notes,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", t.EmailID, api.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.EmailID, err)
	}
	return nil
}

// ListTransactions returns matching transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, f api.TransactionFilter) ([]api.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("date < $%d", f.To)
	}
	if f.ProviderID != 0 {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}

	query := `SELECT email_id, provider_id, merchant, amount, currency, date, category, source, type, notes FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, email_id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}

	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Transaction, error) {
		var (
			t          api.Transaction
			providerID *int64
		)
		err := row.Scan(&t.EmailID, &providerID, &t.Merchant, &t.Amount, &t.Currency,
			&t.Date, &t.Category, &t.Source, &t.Type, &t.Notes)
		if providerID != nil {
			t.ProviderID = *providerID
		}
		t.Date = t.Date.UTC()
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning transactions: %w", err)
	}
	return txs, nil
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ api.Store = (*Store)(nil)
