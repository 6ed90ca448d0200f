package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	unit_price  NUMERIC(14,2) NOT NULL CHECK (unit_price >= 0),
	available   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id              BIGSERIAL PRIMARY KEY,
	customer_id     BIGINT,
	session_id      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	payment_method  TEXT NOT NULL,
	payment_status  TEXT NOT NULL,
	total_price     NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (total_price >= 0),
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS order_lines (
	id          BIGSERIAL PRIMARY KEY,
	order_id    BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id  BIGINT NOT NULL REFERENCES products(id),
	quantity    INT NOT NULL CHECK (quantity >= 1),
	subtotal    NUMERIC(14,2) NOT NULL,
	UNIQUE (order_id, product_id)
);

CREATE TABLE IF NOT EXISTS vouchers (
	id               BIGSERIAL PRIMARY KEY,
	code             TEXT NOT NULL,
	discount_type    TEXT NOT NULL CHECK (discount_type IN ('percentage','fixed')),
	discount_value   NUMERIC(14,2) NOT NULL,
	min_order_value  NUMERIC(14,2) NOT NULL DEFAULT 0,
	max_discount     NUMERIC(14,2),
	quantity         INT NOT NULL CHECK (quantity >= 0),
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	start_date       DATE NOT NULL,
	end_date         DATE NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS vouchers_code_uq ON vouchers (lower(code));

-- paling banyak satu voucher per order
CREATE TABLE IF NOT EXISTS order_vouchers (
	order_id         BIGINT PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
	voucher_id       BIGINT NOT NULL,
	code             TEXT NOT NULL,
	discount_amount  NUMERIC(14,2) NOT NULL,
	applied_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_transactions (
	order_id     BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	gateway      TEXT NOT NULL,
	gateway_ref  TEXT NOT NULL,
	order_ref    TEXT NOT NULL,
	result_code  TEXT NOT NULL,
	success      BOOLEAN NOT NULL,
	amount       NUMERIC(14,2) NOT NULL,
	outcome      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (order_id, gateway, gateway_ref)
);
`

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
