package host

import (
	"fmt"

	"github.com/kadirpekel/optica/pkg/a2a"
	"github.com/kadirpekel/optica/pkg/session"
)

// Memory keys written into a session's memory context.
const (
	MemoryProducts      = "products"
	MemoryLastProductID = "lastProductId"
	MemoryLastOrder     = "lastOrder"
	MemoryLastOrderID   = "lastOrderId"
	MemoryUser          = "user"
	MemoryPendingOrder  = "pendingOrder"
)

// remember folds the structured results of one call into the session.
func remember(rec *session.Record, o *outcome) {
	if o.agent == nil || o.err != nil {
		return
	}
	rec.LastIntent = o.agent.Card.Name
	rec.LastParameters = map[string]any{"agent_name": o.agent.Card.Name, "task": o.call.String("task")}

	if o.task != nil {
		if o.inputRequired {
			rec.SetPending(o.agent.Card.Name, string(o.task.ID))
			if draft, ok := o.task.Metadata["draft"]; ok {
				rec.Remember(MemoryPendingOrder, draft)
			}
		} else {
			rec.SetPending(o.agent.Card.Name, "")
		}
	}

	for _, p := range o.parts {
		if data, ok := a2a.DataOf([]a2a.Part{p}); ok {
			rememberData(rec, data)
		}
	}
}

func rememberData(rec *session.Record, data map[string]any) {
	if products, ok := data["products"].([]any); ok && len(products) > 0 {
		rec.Remember(MemoryProducts, products)
		if first, ok := products[0].(map[string]any); ok {
			if id := stringOf(first["id"]); id != "" {
				rec.Remember(MemoryLastProductID, id)
			}
		}
	}
	if product, ok := data["product"].(map[string]any); ok {
		if id := stringOf(product["id"]); id != "" {
			rec.Remember(MemoryLastProductID, id)
		}
	}
	if order, ok := data["order"].(map[string]any); ok {
		rec.Remember(MemoryLastOrder, order)
		if id := stringOf(order["order_id"]); id != "" {
			rec.Remember(MemoryLastOrderID, id)
		}
		rec.Remember(MemoryPendingOrder, nil)
		rec.CartItems = nil
	}
	if user, ok := data["user"].(map[string]any); ok {
		rec.Remember(MemoryUser, user)
	}
	if items, ok := data["cart_items"].([]any); ok {
		rec.CartItems = cartItems(items)
	}
}

func cartItems(items []any) []session.CartItem {
	out := make([]session.CartItem, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		item := session.CartItem{
			ProductID: stringOf(m["product_id"]),
			Name:      stringOf(m["name"]),
			Quantity:  int(numberOf(m["quantity"])),
			Price:     numberOf(m["price"]),
		}
		if item.ProductID == "" {
			continue
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		out = append(out, item)
	}
	return out
}

// stringOf reads ids that may arrive as JSON strings or numbers.
func stringOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	default:
		return ""
	}
}

func numberOf(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
