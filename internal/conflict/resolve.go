package conflict

import (
	"time"

	"github.com/fieldsync/offline-core/internal/synccore"
)

// resolveValue computes the resolved value for a non-manual, non-custom
// strategy (spec §4.3's strategy table). custom/field_level are handled by
// the caller since they need extra inputs.
func resolveValue(r *Record, strategy Strategy) (interface{}, error) {
	switch strategy {
	case StrategyKeepLocal:
		return r.LocalValue, nil
	case StrategyAcceptRemote:
		return r.RemoteValue, nil
	case StrategyTakeNewer:
		return takeByTime(r, true), nil
	case StrategyTakeOlder:
		return takeByTime(r, false), nil
	case StrategyAutoMerge, StrategyMerge:
		return merge(r), nil
	case StrategyManual:
		return nil, synccore.InvalidArgument("manual is not a terminal strategy", nil)
	default:
		return nil, synccore.InvalidArgument("unknown strategy: "+string(strategy), nil)
	}
}

// takeByTime compares LocalModifiedAt/RemoteModifiedAt; lacking timestamps,
// falls back to remote (newer) or local (older) per spec §4.3.
func takeByTime(r *Record, newer bool) interface{} {
	if r.LocalModifiedAt == nil || r.RemoteModifiedAt == nil {
		if newer {
			return r.RemoteValue
		}
		return r.LocalValue
	}
	localIsNewer := r.LocalModifiedAt.After(*r.RemoteModifiedAt)
	if newer == localIsNewer {
		return r.LocalValue
	}
	return r.RemoteValue
}

// merge implements the per-kind auto_merge/merge handler (spec §4.3):
// arrays concatenate then dedupe by deep equality preserving local order;
// objects deep-merge with shared primitive keys favoring remote unless
// timestamps override; primitives take the newer value, else remote.
func merge(r *Record) interface{} {
	switch shape(r.LocalValue) {
	case "array":
		return mergeArrays(r.LocalValue, r.RemoteValue)
	case "object":
		return mergeObjects(r.LocalValue, r.RemoteValue, r.LocalModifiedAt, r.RemoteModifiedAt)
	default:
		return takeByTime(r, true)
	}
}

func mergeArrays(localV, remoteV interface{}) interface{} {
	local, _ := localV.([]interface{})
	remote, _ := remoteV.([]interface{})
	out := make([]interface{}, 0, len(local)+len(remote))
	out = append(out, local...)
	for _, rv := range remote {
		dup := false
		for _, lv := range local {
			if deepEqual(lv, rv) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, rv)
		}
	}
	return out
}

func mergeObjects(localV, remoteV interface{}, localAt, remoteAt *time.Time) interface{} {
	local, _ := localV.(map[string]interface{})
	remote, _ := remoteV.(map[string]interface{})

	remoteWins := localAt == nil || remoteAt == nil || !localAt.After(*remoteAt)

	out := make(map[string]interface{}, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, rv := range remote {
		lv, existedLocally := out[k]
		if !existedLocally {
			out[k] = rv
			continue
		}
		if shape(lv) == "object" && shape(rv) == "object" {
			out[k] = mergeObjects(lv, rv, localAt, remoteAt)
			continue
		}
		if shape(lv) == "array" && shape(rv) == "array" {
			out[k] = mergeArrays(lv, rv)
			continue
		}
		if remoteWins {
			out[k] = rv
		}
	}
	return out
}
