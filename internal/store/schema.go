package store

import "fmt"

// Entity maps a manifest collection onto a table and names the collections
// its foreign keys reference.
type Entity struct {
	Collection string
	Table      string
	DependsOn  []string
}

// entities is the single declaration of the entity tables and their
// foreign-key parents. Insert and delete orders are both derived from it.
var entities = []Entity{
	{Collection: "patients", Table: "patients"},
	{Collection: "medicalHistories", Table: "medical_histories", DependsOn: []string{"patients"}},
	{Collection: "teeth", Table: "teeth", DependsOn: []string{"patients"}},
	{Collection: "toothConditionHistories", Table: "tooth_condition_histories", DependsOn: []string{"teeth"}},
	{Collection: "appointments", Table: "appointments", DependsOn: []string{"patients"}},
	{Collection: "treatments", Table: "treatments", DependsOn: []string{"patients", "appointments", "teeth"}},
	{Collection: "invoices", Table: "invoices", DependsOn: []string{"patients"}},
	{Collection: "invoiceItems", Table: "invoice_items", DependsOn: []string{"invoices", "treatments"}},
	{Collection: "payments", Table: "payments", DependsOn: []string{"invoices"}},
	{Collection: "inventoryItems", Table: "inventory_items"},
	{Collection: "stockTransactions", Table: "stock_transactions", DependsOn: []string{"inventoryItems", "treatments"}},
	{Collection: "expenses", Table: "expenses"},
}

var insertOrder = mustOrder(entities)

// InsertOrder returns the entities parents-first.
func InsertOrder() []Entity {
	out := make([]Entity, len(insertOrder))
	copy(out, insertOrder)
	return out
}

// DeleteOrder returns the entities children-first.
func DeleteOrder() []Entity {
	out := make([]Entity, len(insertOrder))
	for i, e := range insertOrder {
		out[len(insertOrder)-1-i] = e
	}
	return out
}

// EntityFor looks up the entity backing a manifest collection.
func EntityFor(collection string) (Entity, bool) {
	for _, e := range entities {
		if e.Collection == collection {
			return e, true
		}
	}
	return Entity{}, false
}

func mustOrder(decl []Entity) []Entity {
	order, err := topoSort(decl)
	if err != nil {
		panic(fmt.Sprintf("store: invalid entity declaration: %v", err))
	}
	return order
}

// topoSort orders entities so every entity follows its parents. Among
// entities that are ready at the same time, declaration order wins, which
// keeps the result stable.
func topoSort(decl []Entity) ([]Entity, error) {
	known := make(map[string]bool, len(decl))
	for _, e := range decl {
		if known[e.Collection] {
			return nil, fmt.Errorf("duplicate entity %q", e.Collection)
		}
		known[e.Collection] = true
	}
	for _, e := range decl {
		for _, dep := range e.DependsOn {
			if !known[dep] {
				return nil, fmt.Errorf("entity %q depends on unknown entity %q", e.Collection, dep)
			}
		}
	}

	placed := make(map[string]bool, len(decl))
	order := make([]Entity, 0, len(decl))
	for len(order) < len(decl) {
		progressed := false
		for _, e := range decl {
			if placed[e.Collection] || !depsPlaced(e, placed) {
				continue
			}
			placed[e.Collection] = true
			order = append(order, e)
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among entities")
		}
	}
	return order, nil
}

func depsPlaced(e Entity, placed map[string]bool) bool {
	for _, dep := range e.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}
