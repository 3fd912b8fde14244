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
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrEmptyOrder      = errors.New("order has no items")
)

// StockError reports a line that cannot be served from current stock.
type StockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (id %d): requested %d, available %d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

// User is a store customer.
type User struct {
	ID      string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

func (u User) Summary() map[string]any {
	out := map[string]any{"user_id": u.ID, "name": u.Name}
	for k, v := range map[string]string{"email": u.Email, "phone": u.Phone, "address": u.Address} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Line is one product of an order, priced when the order was created.
type Line struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (l Line) Subtotal() float64 { return float64(l.Quantity) * l.UnitPrice }

// Order is a committed purchase.
type Order struct {
	ID              string    `json:"order_id"`
	UserID          string    `json:"user_id,omitempty"`
	Lines           []Line    `json:"items"`
	Total           float64   `json:"total"`
	ShippingAddress string    `json:"shipping_address"`
	Phone           string    `json:"phone"`
	Payment         string    `json:"payment"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summary is the structured view returned to callers.
func (o Order) Summary() map[string]any {
	items := make([]any, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, map[string]any{
			"product_id": l.ProductID,
			"name":       l.Name,
			"quantity":   l.Quantity,
			"unit_price": l.UnitPrice,
			"subtotal":   l.Subtotal(),
		})
	}
	out := map[string]any{
		"order_id":         o.ID,
		"items":            items,
		"total":            o.Total,
		"shipping_address": o.ShippingAddress,
		"phone":            o.Phone,
		"payment":          o.Payment,
		"status":           o.Status,
		"created_at":       o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.UserID != "" {
		out["user_id"] = o.UserID
	}
	return out
}

// LineRequest asks for a quantity of a product. Prices are never taken from the
// request.
type LineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderRequest is a complete order ready to be committed.
type OrderRequest struct {
	UserID          string
	Items           []LineRequest
	ShippingAddress string
	Phone           string
	Payment         string
}

// StatusConfirmed is the status of a committed order.
const StatusConfirmed = "confirmed"

// Repository is the product, user and order storage of the Order Agent.
//
// CreateOrder is all-or-nothing: either every line's stock is decremented and the
// order is stored, or nothing changes and a *StockError (or ErrProductNotFound)
// is returned. Concurrent calls never sell more than the stock on hand.
type Repository interface {
	ProductByID(ctx context.Context, id int64) (catalog.Product, error)
	ProductsByName(ctx context.Context, name string, limit int) ([]catalog.Product, error)
	UserByID(ctx context.Context, id string) (User, error)
	OrdersByUser(ctx context.Context, userID string) ([]Order, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	UpsertProducts(ctx context.Context, products []catalog.Product) error
	UpsertUser(ctx context.Context, user User) error
	Close() error
}

// mergeLines folds repeated products into one line, keeping first-seen order.
func mergeLines(items []LineRequest) ([]LineRequest, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	index := map[int64]int{}
	var out []LineRequest
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("quantity for product %d must be positive", it.ProductID)
		}
		if i, ok := index[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out, nil
}
