// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
	"github.com/kadirpekel/optica/pkg/config"
)

// SQLRepository stores products, users and orders in a relational database.
// Supports PostgreSQL, MySQL, and SQLite via database/sql.
type SQLRepository struct {
	db      *sql.DB
	dialect string
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
    id BIGINT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    brand VARCHAR(255) NOT NULL DEFAULT '',
    category VARCHAR(255) NOT NULL DEFAULT '',
    color VARCHAR(255) NOT NULL DEFAULT '',
    shape VARCHAR(255) NOT NULL DEFAULT '',
    material VARCHAR(255) NOT NULL DEFAULT '',
    gender VARCHAR(64) NOT NULL DEFAULT '',
    price DOUBLE PRECISION NOT NULL,
    stock INTEGER NOT NULL,
    description TEXT,
    image_url TEXT
)`,
	`CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(255) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    email VARCHAR(255) NOT NULL DEFAULT '',
    phone VARCHAR(64) NOT NULL DEFAULT '',
    address TEXT
)`,
	`CREATE TABLE IF NOT EXISTS orders (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL DEFAULT '',
    total DOUBLE PRECISION NOT NULL,
    shipping_address TEXT NOT NULL,
    phone VARCHAR(64) NOT NULL,
    payment VARCHAR(64) NOT NULL,
    status VARCHAR(32) NOT NULL,
    created_ns BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
    order_id VARCHAR(64) NOT NULL,
    line_no INTEGER NOT NULL,
    product_id BIGINT NOT NULL,
    name VARCHAR(255) NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (order_id, line_no)
)`,
}

// NewSQLRepository creates the schema if needed. The connection is owned by the
// caller (usually a config.DBPool).
func NewSQLRepository(db *sql.DB, dialect string) (*SQLRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := config.ValidateDialect(dialect); err != nil {
		return nil, err
	}
	r := &SQLRepository{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize order schema: %w", err)
		}
	}
	if dialect != config.DialectMySQL {
		if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id)`); err != nil {
			return nil, fmt.Errorf("failed to initialize order schema: %w", err)
		}
	}
	return r, nil
}

func (r *SQLRepository) q(query string) string { return config.Rebind(r.dialect, query) }

const productColumns = `id, name, brand, category, color, shape, material, gender, price, stock, description, image_url`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (catalog.Product, error) {
	var p catalog.Product
	var desc, image sql.NullString
	err := s.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.Color, &p.Shape, &p.Material,
		&p.Gender, &p.Price, &p.Stock, &desc, &image)
	p.Description, p.ImageURL = desc.String, image.String
	return p, err
}

func (r *SQLRepository) ProductByID(ctx context.Context, id int64) (catalog.Product, error) {
	row := r.db.QueryRowContext(ctx, r.q(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("failed to query product %d: %w", id, err)
	}
	return p, nil
}

func (r *SQLRepository) ProductsByName(ctx context.Context, name string, limit int) ([]catalog.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE LOWER(name) LIKE ? ORDER BY id`
	args := []any{"%" + strings.ToLower(strings.TrimSpace(name)) + "%"}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLRepository) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	var addr sql.NullString
	err := r.db.QueryRowContext(ctx, r.q(`SELECT id, name, email, phone, address FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &addr)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to query user %s: %w", id, err)
	}
	u.Address = addr.String
	return u, nil
}

func (r *SQLRepository) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT id, user_id, total, shipping_address, phone, payment, status, created_ns
FROM orders WHERE user_id = ? ORDER BY created_ns, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	var orders []Order
	for rows.Next() {
		var o Order
		var ns int64
		if err := rows.Scan(&o.ID, &o.UserID, &o.Total, &o.ShippingAddress, &o.Phone, &o.Payment, &o.Status, &ns); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.CreatedAt = time.Unix(0, ns).UTC()
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		lines, err := r.lines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (r *SQLRepository) lines(ctx context.Context, orderID string) ([]Line, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
SELECT product_id, name, quantity, unit_price FROM order_lines WHERE order_id = ? ORDER BY line_no`), orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lines of order %s: %w", orderID, err)
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateOrder prices and commits an order in one transaction. Each line's stock
// is taken with a conditional decrement, so two transactions racing for the last
// unit cannot both succeed.
func (r *SQLRepository) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	items, err := mergeLines(req.Items)
	if err != nil {
		return Order{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Order{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o := Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Payment:         req.Payment,
		Status:          StatusConfirmed,
		CreatedAt:       time.Now().UTC(),
	}

	lookup := `SELECT name, price, stock FROM products WHERE id = ?`
	if r.dialect != config.DialectSQLite {
		lookup += ` FOR UPDATE`
	}
	for _, it := range items {
		var name string
		var price float64
		var stock int
		err := tx.QueryRowContext(ctx, r.q(lookup), it.ProductID).Scan(&name, &price, &stock)
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("%w: %d", ErrProductNotFound, it.ProductID)
		}
		if err != nil {
			return Order{}, fmt.Errorf("failed to read product %d: %w", it.ProductID, err)
		}

		res, err := tx.ExecContext(ctx, r.q(`UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`),
			it.Quantity, it.ProductID, it.Quantity)
		if err != nil {
			return Order{}, fmt.Errorf("failed to reserve product %d: %w", it.ProductID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Order{}, fmt.Errorf("failed to reserve product %d: %w", it.ProductID, err)
		}
		if n == 0 {
			return Order{}, &StockError{ProductID: it.ProductID, Name: name, Requested: it.Quantity, Available: stock}
		}
		o.Lines = append(o.Lines, Line{ProductID: it.ProductID, Name: name, Quantity: it.Quantity, UnitPrice: price})
		o.Total += float64(it.Quantity) * price
	}

	_, err = tx.ExecContext(ctx, r.q(`
INSERT INTO orders (id, user_id, total, shipping_address, phone, payment, status, created_ns)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.UserID, o.Total, o.ShippingAddress, o.Phone, o.Payment, o.Status, o.CreatedAt.UnixNano())
	if err != nil {
		return Order{}, fmt.Errorf("failed to insert order: %w", err)
	}
	for i, l := range o.Lines {
		_, err := tx.ExecContext(ctx, r.q(`
INSERT INTO order_lines (order_id, line_no, product_id, name, quantity, unit_price) VALUES (?, ?, ?, ?, ?, ?)`),
			o.ID, i+1, l.ProductID, l.Name, l.Quantity, l.UnitPrice)
		if err != nil {
			return Order{}, fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Order{}, fmt.Errorf("failed to commit order: %w", err)
	}
	return o, nil
}

func (r *SQLRepository) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	var query string
	switch r.dialect {
	case config.DialectMySQL:
		query = `
INSERT INTO products (` + productColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), brand = VALUES(brand), category = VALUES(category),
    color = VALUES(color), shape = VALUES(shape), material = VALUES(material), gender = VALUES(gender),
    price = VALUES(price), stock = VALUES(stock), description = VALUES(description), image_url = VALUES(image_url)`
	default:
		query = `
INSERT INTO products (` + productColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, brand = excluded.brand, category = excluded.category,
    color = excluded.color, shape = excluded.shape, material = excluded.material, gender = excluded.gender,
    price = excluded.price, stock = excluded.stock, description = excluded.description, image_url = excluded.image_url`
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range products {
		_, err := tx.ExecContext(ctx, r.q(query), p.ID, p.Name, p.Brand, p.Category, p.Color, p.Shape,
			p.Material, p.Gender, p.Price, p.Stock, p.Description, p.ImageURL)
		if err != nil {
			return fmt.Errorf("failed to upsert product %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) UpsertUser(ctx context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	var query string
	switch r.dialect {
	case config.DialectMySQL:
		query = `
INSERT INTO users (id, name, email, phone, address) VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email), phone = VALUES(phone), address = VALUES(address)`
	default:
		query = `
INSERT INTO users (id, name, email, phone, address) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone, address = excluded.address`
	}
	if _, err := r.db.ExecContext(ctx, r.q(query), u.ID, u.Name, u.Email, u.Phone, u.Address); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", u.ID, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the pool that opened it.
func (r *SQLRepository) Close() error { return nil }

var _ Repository = (*SQLRepository)(nil)
