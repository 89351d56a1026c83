package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/seqci-proxy/internal/db"
	"github.com/stacklok/seqci-proxy/internal/otel"
)

// StoreTracerName is the name used for the registry store tracer
const StoreTracerName = "github.com/stacklok/seqci-proxy/registry"

const instanceColumns = "name, container_id, owner_api_key, proxied_port, block_time_ms, no_mining, created_at"

type options struct {
	tracer trace.Tracer
	now    func() time.Time
}

// Option is a functional option for configuring the SQL store
type Option func(*options) error

// WithTracer sets the OpenTelemetry tracer for the store.
// If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		o.tracer = tracer
		return nil
	}
}

// WithClock overrides the clock used for created_at timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

type sqlStore struct {
	conn     *db.Connection
	tracer   trace.Tracer
	now      func() time.Time
	dbSystem attribute.KeyValue
}

var _ Store = (*sqlStore)(nil)

// NewSQLStore creates a Store backed by conn. The caller keeps ownership of conn.
func NewSQLStore(conn *db.Connection, opts ...Option) (Store, error) {
	if conn == nil || conn.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	dbSystem := semconv.DBSystemSqlite
	if conn.Dialect == db.DialectPostgres {
		dbSystem = semconv.DBSystemPostgreSQL
	}

	return &sqlStore{
		conn:     conn,
		tracer:   o.tracer,
		now:      o.now,
		dbSystem: dbSystem,
	}, nil
}

func (s *sqlStore) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{s.dbSystem}, attrs...)...),
	)
}

func (s *sqlStore) q(query string) string {
	return s.conn.Dialect.Rebind(query)
}

func (s *sqlStore) timestamp() time.Time {
	// Postgres keeps microseconds; truncating keeps both backends comparable.
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *sqlStore) CheckReadiness(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "registry.CheckReadiness")
	defer span.End()

	if err := s.conn.Ping(ctx); err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("registry database not reachable: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateTenant(ctx context.Context, name, apiKey string) (*Tenant, error) {
	ctx, span := s.startSpan(ctx, "registry.CreateTenant", otel.AttrTenantName.String(name))
	defer span.End()

	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("tenant name is required")
	}
	if apiKey == "" {
		apiKey = NewAPIKey()
	}

	tenant := &Tenant{Name: name, APIKey: apiKey, CreatedAt: s.timestamp()}
	_, err := s.conn.DB.ExecContext(ctx,
		s.q(`INSERT INTO tenants (api_key, name, created_at) VALUES (?, ?, ?)`),
		tenant.APIKey, tenant.Name, tenant.CreatedAt,
	)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			otel.RecordUnexpectedError(span, ErrTenantExists, ErrTenantExists)
			return nil, ErrTenantExists
		}
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to insert tenant: %w", err)
	}
	return tenant, nil
}

func (s *sqlStore) TenantByAPIKey(ctx context.Context, apiKey string) (*Tenant, error) {
	ctx, span := s.startSpan(ctx, "registry.TenantByAPIKey")
	defer span.End()

	tenant := &Tenant{}
	err := s.conn.DB.QueryRowContext(ctx,
		s.q(`SELECT api_key, name, created_at FROM tenants WHERE api_key = ?`), apiKey,
	).Scan(&tenant.APIKey, &tenant.Name, &tenant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}
	span.SetAttributes(otel.AttrTenantName.String(tenant.Name))
	return tenant, nil
}

func (s *sqlStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	ctx, span := s.startSpan(ctx, "registry.ListTenants")
	defer span.End()

	rows, err := s.conn.DB.QueryContext(ctx,
		`SELECT api_key, name, created_at FROM tenants ORDER BY name, created_at`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t := &Tenant{}
		if err := rows.Scan(&t.APIKey, &t.Name, &t.CreatedAt); err != nil {
			otel.RecordError(span, err)
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(tenants)))
	return tenants, nil
}

func (s *sqlStore) DeleteTenant(ctx context.Context, apiKey string) error {
	ctx, span := s.startSpan(ctx, "registry.DeleteTenant")
	defer span.End()

	res, err := s.conn.DB.ExecContext(ctx,
		s.q(`DELETE FROM tenants WHERE api_key = ?
			AND NOT EXISTS (SELECT 1 FROM instances WHERE owner_api_key = ?)`),
		apiKey, apiKey,
	)
	if err != nil {
		if db.ForeignKeyViolation(err) {
			return ErrTenantInUse
		}
		otel.RecordError(span, err)
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// Nothing deleted: either the key is unknown or the tenant owns instances.
	if _, err := s.TenantByAPIKey(ctx, apiKey); err != nil {
		return err
	}
	return ErrTenantInUse
}

func (s *sqlStore) CreateInstance(ctx context.Context, inst *Instance) error {
	ctx, span := s.startSpan(ctx, "registry.CreateInstance",
		otel.AttrInstanceName.String(inst.Name),
		otel.AttrContainerID.String(inst.ContainerID),
		otel.AttrProxiedPort.Int(inst.ProxiedPort),
	)
	defer span.End()

	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.timestamp()
	}

	var blockTime sql.NullInt64
	if inst.BlockTime != nil {
		blockTime = sql.NullInt64{Int64: int64(*inst.BlockTime), Valid: true}
	}

	_, err := s.conn.DB.ExecContext(ctx,
		s.q(`INSERT INTO instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		inst.Name, inst.ContainerID, inst.OwnerAPIKey, inst.ProxiedPort, blockTime, inst.NoMining, inst.CreatedAt,
	)
	if err == nil {
		return nil
	}

	if detail, ok := db.UniqueViolation(err); ok {
		conflict := ErrNameTaken
		if strings.Contains(detail, "proxied_port") {
			conflict = ErrPortTaken
		}
		otel.RecordUnexpectedError(span, conflict, conflict)
		return conflict
	}
	if db.ForeignKeyViolation(err) {
		otel.RecordError(span, err)
		return ErrTenantNotFound
	}
	otel.RecordError(span, err)
	return fmt.Errorf("failed to insert instance: %w", err)
}

func (s *sqlStore) GetInstance(ctx context.Context, name string) (*Instance, error) {
	ctx, span := s.startSpan(ctx, "registry.GetInstance", otel.AttrInstanceName.String(name))
	defer span.End()

	inst, err := scanInstance(s.conn.DB.QueryRowContext(ctx,
		s.q(`SELECT `+instanceColumns+` FROM instances WHERE name = ?`), name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to look up instance: %w", err)
	}
	return inst, nil
}

func (s *sqlStore) ListInstances(ctx context.Context, ownerAPIKey string) ([]*Instance, error) {
	ctx, span := s.startSpan(ctx, "registry.ListInstances")
	defer span.End()

	query := `SELECT ` + instanceColumns + ` FROM instances`
	var args []any
	if ownerAPIKey != "" {
		query += ` WHERE owner_api_key = ?`
		args = append(args, ownerAPIKey)
	}
	query += ` ORDER BY created_at, name`

	rows, err := s.conn.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			otel.RecordError(span, err)
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(instances)))
	return instances, nil
}

func (s *sqlStore) DeleteInstance(ctx context.Context, name, containerID string) (bool, error) {
	ctx, span := s.startSpan(ctx, "registry.DeleteInstance",
		otel.AttrInstanceName.String(name),
		otel.AttrContainerID.String(containerID),
	)
	defer span.End()

	res, err := s.conn.DB.ExecContext(ctx,
		s.q(`DELETE FROM instances WHERE name = ? AND container_id = ?`), name, containerID)
	if err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to delete instance: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		otel.RecordError(span, err)
		return false, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) PortsInUse(ctx context.Context) (map[int]struct{}, error) {
	ctx, span := s.startSpan(ctx, "registry.PortsInUse")
	defer span.End()

	rows, err := s.conn.DB.QueryContext(ctx, `SELECT proxied_port FROM instances`)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	defer rows.Close()

	ports := map[int]struct{}{}
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			otel.RecordError(span, err)
			return nil, fmt.Errorf("failed to scan port: %w", err)
		}
		ports[port] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}
	return ports, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*Instance, error) {
	var (
		inst      Instance
		blockTime sql.NullInt64
	)
	if err := row.Scan(
		&inst.Name, &inst.ContainerID, &inst.OwnerAPIKey, &inst.ProxiedPort,
		&blockTime, &inst.NoMining, &inst.CreatedAt,
	); err != nil {
		return nil, err
	}
	if blockTime.Valid {
		bt := uint64(blockTime.Int64)
		inst.BlockTime = &bt
	}
	return &inst, nil
}
