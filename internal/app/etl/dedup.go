package etl

import "github.com/finanzas-abiertas/tibc-etl/internal/pkg/model"

// Plan decides, per normalized record, whether the store should insert it or
// conditionally update an existing row. Records whose natural key repeats
// within the batch collapse to the last occurrence (the source orders pages
// oldest-first, so the last one is the latest correction).
//
// The returned slice preserves first-seen key order, which keeps reruns
// byte-for-byte comparable in logs.
func Plan(records []model.RateRecord, existing map[model.RateKey]struct{}) []model.LoadAction {
	actions := make([]model.LoadAction, 0, len(records))
	position := make(map[model.RateKey]int, len(records))

	for _, rec := range records {
		key := rec.Key()
		if i, seen := position[key]; seen {
			actions[i].Record = rec
			continue
		}

		kind := model.ActionInsert
		if _, found := existing[key]; found {
			kind = model.ActionUpdateIfChanged
		}
		position[key] = len(actions)
		actions = append(actions, model.LoadAction{Kind: kind, Record: rec})
	}
	return actions
}
