package translate

import (
	"github.com/minios-linux/lokstudio/adapter"
	"github.com/minios-linux/lokstudio/model"
)

// Apply writes an EntryTranslated event into the adapter. Other events
// are ignored. It reports whether the adapter changed.
func Apply(a adapter.Adapter, e Event) (bool, error) {
	et, ok := e.(EntryTranslated)
	if !ok {
		return false, nil
	}
	if err := a.UpdateEntry(model.SetTarget(et.ResourceID, et.EntryID, et.TargetText)); err != nil {
		return false, err
	}
	return true, nil
}
