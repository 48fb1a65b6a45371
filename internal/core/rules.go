package core

import "expirycore/pkg/domain"

// NewDefaultRulesEngine returns an engine with the built-in integrity rules
// registered. Every write transaction is evaluated against these before it
// commits.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(BatchOwnershipRule())
	engine.Register(ProductCodeScopeRule())
	engine.Register(StoreNameRule())
	engine.Register(ExpiredPendingRule())
	return engine
}
