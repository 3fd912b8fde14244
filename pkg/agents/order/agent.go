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

// Package order implements the Order Agent: product lookups, customer lookups and
// order creation over a Repository.
//
// A request selects its skill with a data part {"skill": ..., "args": {...}}; plain
// text is routed by a rule-based Vietnamese and English intent parser. An order
// that lacks delivery details halts in input-required with the draft kept in the
// task metadata, and the next message on the same context completes it.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/optica"
	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/server"
)

const (
	AgentName = "Order Agent"

	SkillProductByID   = "find-product-by-id"
	SkillProductByName = "find-product-by-name"
	SkillUserInfo      = "get-user-info"
	SkillUserOrders    = "get-user-orders"
	SkillCollectOrder  = "collect-order-info"
	SkillCreateOrder   = "create-order"

	// MetadataDraft is the task metadata key holding an unfinished order.
	MetadataDraft = "draft"

	nameSearchLimit = 10
)

func Card(url string) *a2a.AgentCard {
	skill := func(id, name, desc string, examples ...string) a2a.AgentSkill {
		return a2a.AgentSkill{ID: id, Name: name, Description: desc, Tags: []string{"order"}, Examples: examples}
	}
	return &a2a.AgentCard{
		Name:               AgentName,
		Description:        "Looks up products, customers and orders, and places orders against live stock.",
		Version:            optica.Version,
		URL:                url,
		DefaultInputModes:  []string{"text/plain", "application/json"},
		DefaultOutputModes: []string{"application/json", "text/plain"},
		Capabilities:       a2a.AgentCapabilities{Streaming: true, PushNotifications: true},
		Skills: []a2a.AgentSkill{
			skill(SkillProductByID, "Find product by id", "Returns one product with price and stock.", "sản phẩm ID 5"),
			skill(SkillProductByName, "Find product by name", "Lists products whose name contains the text.", "find product Aviator"),
			skill(SkillUserInfo, "Get user info", "Returns a customer's profile.", "user info u1"),
			skill(SkillUserOrders, "Get user orders", "Lists a customer's orders.", "đơn hàng của user u1"),
			skill(SkillCollectOrder, "Collect order info", "Prices a cart and reports which delivery details are still missing.", "thêm sản phẩm 5 vào giỏ"),
			skill(SkillCreateOrder, "Create order", "Places an order, asking for address, phone and payment when missing.", "đặt 2 sản phẩm ID 1"),
		},
	}
}

// Agent is the executor of the Order Agent.
type Agent struct {
	repo Repository
}

func New(repo Repository) (*Agent, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	return &Agent{repo: repo}, nil
}

// Draft is an order being collected.
type Draft struct {
	UserID string        `json:"user_id,omitempty"`
	Items  []LineRequest `json:"items"`
	Contact
}

// Missing lists the fields still needed before the order can be placed.
func (d Draft) Missing() []string {
	var out []string
	if len(d.Items) == 0 {
		out = append(out, "items")
	}
	if d.ShippingAddress == "" {
		out = append(out, "shipping_address")
	}
	if d.Phone == "" {
		out = append(out, "phone")
	}
	if d.Payment == "" {
		out = append(out, "payment")
	}
	return out
}

func (d *Draft) merge(c Contact) {
	if c.ShippingAddress != "" {
		d.ShippingAddress = c.ShippingAddress
	}
	if c.Phone != "" {
		d.Phone = c.Phone
	}
	if c.Payment != "" {
		d.Payment = c.Payment
	}
}

func (d Draft) toMap() map[string]any {
	raw, _ := json.Marshal(d)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func draftFromMap(v any) (Draft, bool) {
	raw, err := json.Marshal(v)
	if err != nil || v == nil {
		return Draft{}, false
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Draft{}, false
	}
	return d, true
}

// request is a resolved skill invocation.
type request struct {
	skill string
	args  map[string]any
	text  Intent
}

func (a *Agent) resolve(rc *server.RequestContext) request {
	for _, d := range rc.DataParts() {
		if s, ok := d["skill"].(string); ok && s != "" {
			args, _ := d["args"].(map[string]any)
			return request{skill: s, args: args}
		}
	}
	in := ParseIntent(rc.UserText())
	return request{skill: in.Skill, text: in}
}

func (a *Agent) Execute(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater) error {
	if rc.Resumed && rc.Task != nil {
		if d, ok := draftFromMap(rc.Task.Metadata[MetadataDraft]); ok {
			return a.resume(ctx, rc, u, d)
		}
	}

	req := a.resolve(rc)
	userID := req.userID(rc)

	switch req.skill {
	case SkillProductByID:
		id, ok := req.productID()
		if !ok {
			return a2a.NewError(a2a.KindInvalidParams, "a product id is required")
		}
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		p, err := a.repo.ProductByID(ctx, id)
		if err != nil {
			return repoError(err)
		}
		text := fmt.Sprintf("%s (id %d): %s VND, %d in stock.", p.Name, p.ID, formatMoney(p.Price), p.Stock)
		return a.finish(ctx, u, req.skill, map[string]any{"product": p.Summary()}, text)

	case SkillProductByName:
		name := req.name()
		if name == "" {
			return a2a.NewError(a2a.KindInvalidParams, "a product name is required")
		}
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		products, err := a.repo.ProductsByName(ctx, name, nameSearchLimit)
		if err != nil {
			return repoError(err)
		}
		list := make([]any, 0, len(products))
		var b strings.Builder
		fmt.Fprintf(&b, "%d product(s) named like %q.", len(products), name)
		for _, p := range products {
			list = append(list, p.Summary())
			fmt.Fprintf(&b, "\n- %s (id %d): %s VND, %d in stock", p.Name, p.ID, formatMoney(p.Price), p.Stock)
		}
		return a.finish(ctx, u, req.skill, map[string]any{"products": list}, b.String())

	case SkillUserInfo:
		if userID == "" {
			return a2a.NewError(a2a.KindInvalidParams, "a user id is required")
		}
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		user, err := a.repo.UserByID(ctx, userID)
		if err != nil {
			return repoError(err)
		}
		text := fmt.Sprintf("User %s: %s", user.ID, user.Name)
		return a.finish(ctx, u, req.skill, map[string]any{"user": user.Summary()}, text)

	case SkillUserOrders:
		if userID == "" {
			return a2a.NewError(a2a.KindInvalidParams, "a user id is required")
		}
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		orders, err := a.repo.OrdersByUser(ctx, userID)
		if err != nil {
			return repoError(err)
		}
		list := make([]any, 0, len(orders))
		var b strings.Builder
		fmt.Fprintf(&b, "User %s has %d order(s).", userID, len(orders))
		for _, o := range orders {
			list = append(list, o.Summary())
			fmt.Fprintf(&b, "\n- %s: %s VND, %s", o.ID, formatMoney(o.Total), o.Status)
		}
		return a.finish(ctx, u, req.skill, map[string]any{"user_id": userID, "orders": list}, b.String())

	case SkillCollectOrder:
		if err := u.StartWork(ctx, nil); err != nil {
			return err
		}
		return a.collect(ctx, u, req.draft(userID))

	case SkillCreateOrder:
		if err := u.StartWork(ctx, a2a.NewAgentText("Preparing your order...")); err != nil {
			return err
		}
		return a.place(ctx, u, req.draft(userID))

	case "":
		return a2a.NewError(a2a.KindInvalidParams,
			"could not tell what to do; skills: %s", strings.Join(skillIDs(), ", "))
	default:
		return a2a.NewError(a2a.KindInvalidParams, "unknown skill %q", req.skill)
	}
}

func (a *Agent) Cancel(context.Context, *server.RequestContext, *server.TaskUpdater) error {
	return nil
}

// resume continues an order that halted for delivery details.
func (a *Agent) resume(ctx context.Context, rc *server.RequestContext, u *server.TaskUpdater, d Draft) error {
	d.merge(ParseContact(rc.UserText()))
	for _, data := range rc.DataParts() {
		args := data
		if nested, ok := data["args"].(map[string]any); ok {
			args = nested
		}
		d.merge(contactArgs(args))
	}
	slog.Debug("Resuming order draft", "task_id", rc.TaskID, "missing", d.Missing())
	if err := u.StartWork(ctx, nil); err != nil {
		return err
	}
	return a.place(ctx, u, d)
}

// place commits the draft, or halts in input-required naming what is missing.
func (a *Agent) place(ctx context.Context, u *server.TaskUpdater, d Draft) error {
	if missing := d.Missing(); len(missing) > 0 {
		if err := u.SetMetadata(ctx, map[string]any{MetadataDraft: d.toMap()}); err != nil {
			return err
		}
		msg := a2a.NewMessage(a2a.RoleAgent,
			a2a.NewTextPart("missing: "+strings.Join(missing, ", ")),
			a2a.NewDataPart(map[string]any{"missing": toAny(missing), MetadataDraft: d.toMap()}))
		return u.RequireInput(ctx, msg)
	}

	o, err := a.repo.CreateOrder(ctx, OrderRequest{
		UserID:          d.UserID,
		Items:           d.Items,
		ShippingAddress: d.ShippingAddress,
		Phone:           d.Phone,
		Payment:         d.Payment,
	})
	if err != nil {
		return repoError(err)
	}
	slog.Info("Order created", "order_id", o.ID, "user_id", o.UserID, "total", o.Total, "lines", len(o.Lines))

	if err := u.SetMetadata(ctx, map[string]any{MetadataDraft: nil}); err != nil {
		return err
	}
	text := fmt.Sprintf("Order %s confirmed. Total %s VND, payment %s, shipping to %s.",
		o.ID, formatMoney(o.Total), o.Payment, o.ShippingAddress)
	return a.finish(ctx, u, SkillCreateOrder, map[string]any{"order": o.Summary()}, text)
}

// collect prices the draft without committing it.
func (a *Agent) collect(ctx context.Context, u *server.TaskUpdater, d Draft) error {
	cart := make([]any, 0, len(d.Items))
	var total float64
	for _, it := range d.Items {
		p, err := a.repo.ProductByID(ctx, it.ProductID)
		if err != nil {
			return repoError(err)
		}
		cart = append(cart, map[string]any{
			"product_id": p.ID, "name": p.Name, "quantity": it.Quantity, "price": p.Price,
		})
		total += float64(it.Quantity) * p.Price
	}
	missing := d.Missing()
	data := map[string]any{
		"cart_items":  cart,
		"total":       total,
		"missing":     toAny(missing),
		MetadataDraft: d.toMap(),
	}
	text := fmt.Sprintf("Cart has %d item(s), total %s VND.", len(cart), formatMoney(total))
	if len(missing) > 0 {
		text += " Still needed: " + strings.Join(missing, ", ") + "."
	}
	return a.finish(ctx, u, SkillCollectOrder, data, text)
}

func (a *Agent) finish(ctx context.Context, u *server.TaskUpdater, skill string, data map[string]any, text string) error {
	parts := []a2a.Part{a2a.NewDataPart(data), a2a.NewTextPart(text)}
	if _, err := u.AddArtifact(ctx, parts, server.ArtifactOptions{
		Name:     skill,
		Metadata: map[string]any{"skill": skill},
	}); err != nil {
		return err
	}
	return u.Complete(ctx, nil)
}

// repoError maps repository failures onto protocol error kinds.
func repoError(err error) error {
	var stock *StockError
	switch {
	case errors.As(err, &stock):
		return a2a.NewError(a2a.KindInvalidParams, "%s", stock.Error())
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrUserNotFound):
		return a2a.NewError(a2a.KindNotFound, "%s", err.Error())
	case errors.Is(err, ErrEmptyOrder):
		return a2a.NewError(a2a.KindInvalidParams, "%s", err.Error())
	default:
		return err
	}
}

func (r request) userID(rc *server.RequestContext) string {
	if s := stringArg(r.args["user_id"]); s != "" {
		return s
	}
	if r.text.UserID != "" {
		return r.text.UserID
	}
	if v, ok := rc.MessageMetadata("user_id"); ok {
		return stringArg(v)
	}
	return ""
}

func (r request) productID() (int64, bool) {
	if r.args != nil {
		id, ok := intArg(r.args["product_id"])
		return id, ok && id > 0
	}
	return r.text.ProductID, r.text.ProductID > 0
}

func (r request) name() string {
	if r.args != nil {
		return strings.TrimSpace(stringArg(r.args["name"]))
	}
	return r.text.Name
}

// draft builds the order draft from structured args or from the parsed text.
func (r request) draft(userID string) Draft {
	d := Draft{UserID: userID}
	if r.args == nil {
		if r.text.ProductID > 0 {
			d.Items = []LineRequest{{ProductID: r.text.ProductID, Quantity: max(r.text.Quantity, 1)}}
		}
		d.merge(r.text.Contact)
		return d
	}

	if items, ok := r.args["items"].([]any); ok {
		for _, raw := range items {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if id, ok := intArg(m["product_id"]); ok && id > 0 {
				q, _ := intArg(m["quantity"])
				d.Items = append(d.Items, LineRequest{ProductID: id, Quantity: int(max(q, 1))})
			}
		}
	} else if id, ok := intArg(r.args["product_id"]); ok && id > 0 {
		q, _ := intArg(r.args["quantity"])
		d.Items = []LineRequest{{ProductID: id, Quantity: int(max(q, 1))}}
	}
	d.merge(contactArgs(r.args))
	return d
}

func contactArgs(args map[string]any) Contact {
	c := Contact{
		ShippingAddress: strings.TrimSpace(stringArg(args["shipping_address"])),
		Phone:           strings.TrimSpace(stringArg(args["phone"])),
		Payment:         strings.TrimSpace(stringArg(args["payment"])),
	}
	if c.ShippingAddress == "" {
		c.ShippingAddress = strings.TrimSpace(stringArg(args["address"]))
	}
	if m := paymentMethod(c.Payment); m != "" {
		c.Payment = m
	}
	return c
}

func skillIDs() []string {
	card := Card("")
	out := make([]string, len(card.Skills))
	for i, s := range card.Skills {
		out[i] = s.ID
	}
	return out
}

func stringArg(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

func intArg(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), x == float64(int64(x))
	case int:
		return int64(x), true
	case int64:
		return x, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// formatMoney groups thousands: 2500000 -> 2,500,000.
func formatMoney(v float64) string {
	s := strconv.FormatInt(int64(v), 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
