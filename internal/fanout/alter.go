package fanout

import "sync"

// DedupModifier alters the list of templates exempt from deduplication.
type DedupModifier interface {
	AlterDedupExemptions(templateIDs []string) []string
}

type DedupModifierFunc func(templateIDs []string) []string

func (f DedupModifierFunc) AlterDedupExemptions(templateIDs []string) []string {
	return f(templateIDs)
}

// FieldModifier alters the fields a change-detecting plugin inspects.
type FieldModifier interface {
	AlterFieldsToCheck(pluginID string, fields []string) []string
}

type FieldModifierFunc func(pluginID string, fields []string) []string

func (f FieldModifierFunc) AlterFieldsToCheck(pluginID string, fields []string) []string {
	return f(pluginID, fields)
}

// Alterations is the ordered set of modifiers external packages register.
// Modifiers run in registration order, each receiving the previous output.
type Alterations struct {
	mu     sync.RWMutex
	dedup  []DedupModifier
	fields []FieldModifier
}

func NewAlterations() *Alterations {
	return &Alterations{}
}

func (a *Alterations) AddDedupModifier(m DedupModifier) {
	if a == nil || m == nil {
		return
	}
	a.mu.Lock()
	a.dedup = append(a.dedup, m)
	a.mu.Unlock()
}

func (a *Alterations) AddFieldModifier(m FieldModifier) {
	if a == nil || m == nil {
		return
	}
	a.mu.Lock()
	a.fields = append(a.fields, m)
	a.mu.Unlock()
}

// DedupExemptions runs the dedup modifiers over a copy of base.
func (a *Alterations) DedupExemptions(base []string) []string {
	out := append([]string(nil), base...)
	if a == nil {
		return out
	}
	a.mu.RLock()
	mods := a.dedup
	a.mu.RUnlock()
	for _, m := range mods {
		out = m.AlterDedupExemptions(out)
	}
	return out
}

// FieldsToCheck runs the field modifiers for pluginID over a copy of base.
func (a *Alterations) FieldsToCheck(pluginID string, base []string) []string {
	out := append([]string(nil), base...)
	if a == nil {
		return out
	}
	a.mu.RLock()
	mods := a.fields
	a.mu.RUnlock()
	for _, m := range mods {
		out = m.AlterFieldsToCheck(pluginID, out)
	}
	return out
}
