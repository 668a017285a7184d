package infra

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens a GORM connection backed by pgx and applies the schema.
// The schema is plain idempotent DDL rather than AutoMigrate so that partial
// unique indexes and numeric precision stay exactly as written here.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations applies every schema statement in order. Each one is
// IF NOT EXISTS guarded, so re-running on an up-to-date database is a no-op.
// Integration tests call it directly against a throwaway container.
func RunMigrations(db *gorm.DB) error {
	for _, p := range schema {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("schema %q: %w", p.descr, err)
		}
	}
	return nil
}

var schema = []struct{ descr, sql string }{
	{"billings", `
CREATE TABLE IF NOT EXISTS billings (
  id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  customer_name    VARCHAR(120),
  customer_contact VARCHAR(120),
  subtotal         DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (subtotal >= 0),
  tax_amount       DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (tax_amount >= 0),
  discount_amount  DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (discount_amount >= 0),
  total_amount     DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (total_amount >= 0),
  status           VARCHAR(20)   NOT NULL DEFAULT 'open'
                   CHECK (status IN ('open', 'closed', 'paid')),
  created_at       TIMESTAMPTZ   NOT NULL DEFAULT now(),
  updated_at       TIMESTAMPTZ   NOT NULL DEFAULT now(),
  closed_at        TIMESTAMPTZ,
  paid_at          TIMESTAMPTZ
)`},
	{"table_sessions", `
CREATE TABLE IF NOT EXISTS table_sessions (
  id                   UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  table_label          VARCHAR(40)  NOT NULL,
  server_id            VARCHAR(64)  NOT NULL,
  server_name          VARCHAR(120) NOT NULL,
  start_time           TIMESTAMPTZ  NOT NULL DEFAULT now(),
  end_time             TIMESTAMPTZ,
  status               VARCHAR(20)  NOT NULL DEFAULT 'active'
                       CHECK (status IN ('active', 'moved', 'closed')),
  billing_id           UUID         NOT NULL REFERENCES billings(id),
  original_table_id    VARCHAR(40)  NOT NULL,
  destination_table_id VARCHAR(40),
  moved_at             TIMESTAMPTZ,
  CHECK (status <> 'moved' OR destination_table_id IS NOT NULL)
)`},
	{"one active session per table", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_table_sessions_active_label
  ON table_sessions (table_label) WHERE status = 'active'`},
	{"table_sessions billing index", `
CREATE INDEX IF NOT EXISTS idx_table_sessions_billing ON table_sessions (billing_id)`},
	{"billing_sessions", `
CREATE TABLE IF NOT EXISTS billing_sessions (
  billing_id UUID        NOT NULL REFERENCES billings(id),
  session_id UUID        NOT NULL REFERENCES table_sessions(id),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (billing_id, session_id)
)`},
	{"a session belongs to one billing", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_billing_sessions_session ON billing_sessions (session_id)`},
	{"session_moves", `
CREATE TABLE IF NOT EXISTS session_moves (
  id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  session_id     UUID        NOT NULL REFERENCES table_sessions(id),
  new_session_id UUID        NOT NULL,
  billing_id     UUID        NOT NULL REFERENCES billings(id),
  from_label     VARCHAR(40) NOT NULL,
  to_label       VARCHAR(40) NOT NULL,
  server_id      VARCHAR(64) NOT NULL,
  moved_at       TIMESTAMPTZ NOT NULL
)`},
	{"session_moves billing index", `
CREATE INDEX IF NOT EXISTS idx_session_moves_billing ON session_moves (billing_id)`},
	{"payments", `
CREATE TABLE IF NOT EXISTS payments (
  id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  session_id      UUID          NOT NULL REFERENCES table_sessions(id),
  billing_id      UUID          NOT NULL REFERENCES billings(id),
  amount_paid     DECIMAL(12,2) NOT NULL CHECK (amount_paid > 0),
  payment_method  VARCHAR(30)   NOT NULL,
  discount_amount DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (discount_amount >= 0),
  discount_reason VARCHAR(200),
  tip_amount      DECIMAL(12,2) NOT NULL DEFAULT 0 CHECK (tip_amount >= 0),
  external_ref    VARCHAR(120),
  metadata        JSONB,
  created_by      VARCHAR(64),
  created_at      TIMESTAMPTZ   NOT NULL DEFAULT now()
)`},
	{"payments billing index", `
CREATE INDEX IF NOT EXISTS idx_payments_billing ON payments (billing_id)`},
	{"external_ref unique per billing", `
CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_billing_external_ref
  ON payments (billing_id, external_ref) WHERE external_ref IS NOT NULL`},
	{"payment_logs", `
CREATE TABLE IF NOT EXISTS payment_logs (
  id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  billing_id UUID        NOT NULL REFERENCES billings(id),
  session_id UUID        NOT NULL REFERENCES table_sessions(id),
  payment_id UUID        REFERENCES payments(id),
  action     VARCHAR(40) NOT NULL,
  old_value  JSONB,
  new_value  JSONB,
  server_id  VARCHAR(64),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`},
	{"payment_logs billing index", `
CREATE INDEX IF NOT EXISTS idx_payment_logs_billing ON payment_logs (billing_id, created_at)`},
	// orders and order_items belong to the order service; created here only so
	// a fresh development database is usable end to end.
	{"orders", `
CREATE TABLE IF NOT EXISTS orders (
  id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  session_id      UUID          NOT NULL,
  billing_id      UUID,
  table_id        VARCHAR(40),
  status          VARCHAR(20)   NOT NULL,
  delivery_status VARCHAR(20)   NOT NULL DEFAULT 'pending',
  subtotal        DECIMAL(12,2) NOT NULL DEFAULT 0,
  discount_total  DECIMAL(12,2) NOT NULL DEFAULT 0,
  tax_total       DECIMAL(12,2) NOT NULL DEFAULT 0,
  total           DECIMAL(12,2) NOT NULL DEFAULT 0,
  created_at      TIMESTAMPTZ   NOT NULL DEFAULT now()
)`},
	{"orders session index", `
CREATE INDEX IF NOT EXISTS idx_orders_session ON orders (session_id)`},
	{"orders billing index", `
CREATE INDEX IF NOT EXISTS idx_orders_billing ON orders (billing_id)`},
	{"order_items", `
CREATE TABLE IF NOT EXISTS order_items (
  id            BIGSERIAL PRIMARY KEY,
  order_id      UUID          NOT NULL REFERENCES orders(id),
  menu_item_id  VARCHAR(64)   NOT NULL,
  name          VARCHAR(200)  NOT NULL,
  quantity      INT           NOT NULL CHECK (quantity > 0),
  unit_price    DECIMAL(12,2) NOT NULL,
  base_price    DECIMAL(12,2) NOT NULL,
  price_delta   DECIMAL(12,2) NOT NULL DEFAULT 0,
  line_discount DECIMAL(12,2) NOT NULL DEFAULT 0,
  line_total    DECIMAL(12,2) NOT NULL,
  is_deleted    BOOLEAN       NOT NULL DEFAULT false
)`},
	{"order_items order index", `
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id)`},
	{"notification_outbox", `
CREATE TABLE IF NOT EXISTS notification_outbox (
  id              BIGSERIAL PRIMARY KEY,
  event_type      VARCHAR(40)  NOT NULL,
  billing_id      UUID         NOT NULL,
  recipient       VARCHAR(200) NOT NULL DEFAULT '',
  payload         JSONB        NOT NULL,
  status          VARCHAR(20)  NOT NULL DEFAULT 'pending'
                  CHECK (status IN ('pending', 'sent', 'dead')),
  attempts        INT          NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
  locked_at       TIMESTAMPTZ,
  locked_by       VARCHAR(100),
  last_error      TEXT,
  created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
  published_at    TIMESTAMPTZ
)`},
	{"outbox pending index", `
CREATE INDEX IF NOT EXISTS idx_notification_outbox_pending
  ON notification_outbox (next_attempt_at) WHERE status = 'pending'`},
}
