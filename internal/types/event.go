package types

// ChangeEvent is one settled batch of prompt changes. It is produced by the
// indexed source once per debounce settlement and applied atomically by the
// manager: removals first, then recompilation of the affected closure.
type ChangeEvent struct {
	// Updated maps prompt names to their fresh definitions (added or
	// changed in this batch).
	Updated map[string]*PromptMeta

	// Removed holds names that no resource defines anymore.
	Removed map[string]struct{}
}

// Empty reports whether the event carries no changes.
func (e ChangeEvent) Empty() bool {
	return len(e.Updated) == 0 && len(e.Removed) == 0
}
