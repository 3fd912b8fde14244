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
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/optica/pkg/agents/catalog"
)

// MemoryRepository keeps products, users and orders in process memory.
type MemoryRepository struct {
	mu       sync.Mutex
	products map[int64]catalog.Product
	order    []int64
	users    map[string]User
	orders   []Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[int64]catalog.Product),
		users:    make(map[string]User),
	}
}

func (r *MemoryRepository) ProductByID(_ context.Context, id int64) (catalog.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return catalog.Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, nil
}

func (r *MemoryRepository) ProductsByName(_ context.Context, name string, limit int) ([]catalog.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []catalog.Product
	for _, id := range r.order {
		p := r.products[id]
		if needle == "" || strings.Contains(strings.ToLower(p.Name), needle) {
			out = append(out, p)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) UserByID(_ context.Context, id string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

func (r *MemoryRepository) OrdersByUser(_ context.Context, userID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.orders {
		if o.UserID == userID {
			o.Lines = slices.Clone(o.Lines)
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateOrder(_ context.Context, req OrderRequest) (Order, error) {
	items, err := mergeLines(req.Items)
	if err != nil {
		return Order{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o := Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Payment:         req.Payment,
		Status:          StatusConfirmed,
		CreatedAt:       time.Now().UTC(),
	}
	// Check every line before touching stock.
	for _, it := range items {
		p, ok := r.products[it.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("%w: %d", ErrProductNotFound, it.ProductID)
		}
		if p.Stock < it.Quantity {
			return Order{}, &StockError{ProductID: p.ID, Name: p.Name, Requested: it.Quantity, Available: p.Stock}
		}
		o.Lines = append(o.Lines, Line{ProductID: p.ID, Name: p.Name, Quantity: it.Quantity, UnitPrice: p.Price})
		o.Total += float64(it.Quantity) * p.Price
	}
	for _, it := range items {
		p := r.products[it.ProductID]
		p.Stock -= it.Quantity
		r.products[it.ProductID] = p
	}
	r.orders = append(r.orders, o)
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}

func (r *MemoryRepository) UpsertProducts(_ context.Context, products []catalog.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range products {
		if _, ok := r.products[p.ID]; !ok {
			r.order = append(r.order, p.ID)
		}
		r.products[p.ID] = p
	}
	return nil
}

func (r *MemoryRepository) UpsertUser(_ context.Context, u User) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return nil
}

func (r *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
