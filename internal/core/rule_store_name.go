package core

import (
	"context"
	"fmt"
	"strings"

	"expirycore/pkg/domain"
)

// StoreNameRule blocks two real store records sharing a name, compared
// case-insensitively. Legacy name references live on products and are
// reconciled by the registry, not by this rule.
func StoreNameRule() domain.Rule {
	return storeNameRule{}
}

type storeNameRule struct{}

func (storeNameRule) Name() string { return "store_name_unique" }

func (storeNameRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[string]string)
	for _, store := range view.ListStores() {
		folded := strings.ToLower(strings.TrimSpace(store.Name))
		if firstID, dup := seen[folded]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "store_name_unique",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("stores %s and %s share the name %q", firstID, store.ID, store.Name),
				Entity:   domain.EntityStore,
				EntityID: store.ID,
			})
			continue
		}
		seen[folded] = store.ID
	}
	return res, nil
}
