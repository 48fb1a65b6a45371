package core

import (
	"context"
	"fmt"

	"expirycore/pkg/domain"
)

// ProductCodeScopeRule blocks two product records carrying the same code
// within the same resolved store scope. The same code in two different
// stores is legitimate; the merge-by-code create path is the only way to
// reuse a code inside one store.
func ProductCodeScopeRule() domain.Rule {
	return productCodeScopeRule{}
}

type productCodeScopeRule struct{}

func (productCodeScopeRule) Name() string { return "product_code_scope" }

func (productCodeScopeRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	stores := view.ListStores()
	type scope struct {
		code     string
		identity string
	}
	seen := make(map[scope]int)
	for _, product := range view.ListProducts() {
		if product.Code == "" {
			continue
		}
		key := scope{code: product.Code, identity: resolveStoreIdentity(product.Store, stores)}
		if firstID, dup := seen[key]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "product_code_scope",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("products %d and %d share code %q in the same store scope", firstID, product.ID, product.Code),
				Entity:   domain.EntityProduct,
				EntityID: fmt.Sprintf("%d", product.ID),
			})
			continue
		}
		seen[key] = product.ID
	}
	return res, nil
}
