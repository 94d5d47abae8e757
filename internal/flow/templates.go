package flow

import "fmt"

// buildTemplate produces the starting node/edge/frame set for a named
// template. Unknown names are rejected at the boundary per the design
// note on tagged variants.
func buildTemplate(name string) ([]Node, []Edge, []Frame, error) {
	switch name {
	case "", "empty":
		return []Node{{ID: "start", Type: NodeStart, Position: Position{X: 0, Y: 0}}}, nil, nil, nil
	case "basic":
		return []Node{
				{ID: "start", Type: NodeStart, Position: Position{X: 0, Y: 0}},
				{ID: "screen1", Type: NodeScreen, Position: Position{X: 0, Y: 150}},
				{ID: "end", Type: NodeEnd, Position: Position{X: 0, Y: 300}},
			}, []Edge{
				{ID: "e-start-screen1", Source: "start", Target: "screen1"},
				{ID: "e-screen1-end", Source: "screen1", Target: "end"},
			}, nil, nil
	case "ecommerce":
		return []Node{
				{ID: "start", Type: NodeStart, Position: Position{X: 0, Y: 0}},
				{ID: "browse", Type: NodeScreen, Position: Position{X: 0, Y: 150}, Data: map[string]interface{}{"label": "Browse products"}},
				{ID: "cart", Type: NodeScreen, Position: Position{X: 0, Y: 300}, Data: map[string]interface{}{"label": "Cart"}},
				{ID: "checkout_decision", Type: NodeCondition, Position: Position{X: 0, Y: 450}, Data: map[string]interface{}{
					"branches": []interface{}{
						map[string]interface{}{"id": "guest", "label": "Guest checkout"},
						map[string]interface{}{"id": "account", "label": "Sign in"},
					},
				}},
				{ID: "checkout", Type: NodeScreen, Position: Position{X: 0, Y: 600}, Data: map[string]interface{}{"label": "Checkout"}},
				{ID: "end", Type: NodeEnd, Position: Position{X: 0, Y: 750}},
			}, []Edge{
				{ID: "e-start-browse", Source: "start", Target: "browse"},
				{ID: "e-browse-cart", Source: "browse", Target: "cart"},
				{ID: "e-cart-decision", Source: "cart", Target: "checkout_decision"},
				{ID: "e-decision-guest", Source: "checkout_decision", Target: "checkout", SourceHandle: "guest"},
				{ID: "e-decision-account", Source: "checkout_decision", Target: "checkout", SourceHandle: "account"},
				{ID: "e-checkout-end", Source: "checkout", Target: "end"},
			}, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown template %q", name)
	}
}
