package crdb

import "context"

// Schema creates every table the checkout core touches. Statements are
// idempotent so Migrate can run on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	product_id UUID NOT NULL,
	starts_at TIMESTAMPTZ,
	total_spots INT,
	remaining_spots INT NOT NULL DEFAULT 0,
	CHECK (remaining_spots >= 0),
	CHECK (total_spots IS NULL OR remaining_spots <= total_spots)
);

CREATE TABLE IF NOT EXISTS cart_lines (
	id UUID PRIMARY KEY,
	user_id UUID,
	guest_token STRING NOT NULL DEFAULT '',
	session_id UUID NOT NULL REFERENCES sessions (id),
	product_id UUID NOT NULL,
	title STRING NOT NULL DEFAULT '',
	quantity INT NOT NULL CHECK (quantity > 0),
	unit_price INT8 NOT NULL,
	discount_price INT8 NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS coupon_templates (
	id UUID PRIMARY KEY,
	name STRING NOT NULL DEFAULT '',
	discount_type STRING NOT NULL CHECK (discount_type IN ('fixed', 'percent')),
	discount_amount INT8 NOT NULL DEFAULT 0,
	discount_percent INT NOT NULL DEFAULT 0,
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS coupons (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	template_id UUID NOT NULL REFERENCES coupon_templates (id),
	is_used INT NOT NULL DEFAULT 0,
	used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS point_ledger (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	amount INT8 NOT NULL,
	kind STRING NOT NULL,
	description STRING NOT NULL DEFAULT '',
	order_id UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	INDEX point_ledger_user_idx (user_id)
);

CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	user_id UUID,
	guest_token STRING NOT NULL DEFAULT '',
	order_ref STRING NOT NULL UNIQUE,
	order_name STRING NOT NULL DEFAULT '',
	status STRING NOT NULL CHECK (status IN ('cart', 'pending', 'paid', 'refunded')),
	base_amount INT8 NOT NULL,
	coupon_discount INT8 NOT NULL DEFAULT 0,
	used_point INT8 NOT NULL DEFAULT 0 CHECK (used_point >= 0),
	total_amount INT8 NOT NULL CHECK (total_amount >= 0),
	coupon_id UUID,
	payment_id UUID,
	reconciled_at TIMESTAMPTZ,
	reconcile_attempts INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	INDEX orders_status_reconciled_idx (status, reconciled_at, created_at)
);

CREATE TABLE IF NOT EXISTS order_lines (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL REFERENCES orders (id),
	session_id UUID NOT NULL,
	product_id UUID NOT NULL,
	title STRING NOT NULL DEFAULT '',
	quantity INT NOT NULL CHECK (quantity > 0),
	unit_price INT8 NOT NULL,
	discount_price INT8 NOT NULL DEFAULT 0,
	INDEX order_lines_order_idx (order_id)
);

CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL UNIQUE REFERENCES orders (id),
	amount INT8 NOT NULL,
	currency STRING NOT NULL,
	payment_method STRING NOT NULL,
	status STRING NOT NULL CHECK (status IN ('paid', 'failed', 'refunded')),
	payment_key STRING NOT NULL UNIQUE,
	external_order_ref STRING NOT NULL,
	method_detail STRING NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type STRING NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type STRING NOT NULL,
	payload_json JSONB NOT NULL,
	status STRING NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key STRING NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
`

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}
