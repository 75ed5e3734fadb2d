package conflict

import "time"

// shape classifies a value into one of the three pluggable detector tags
// (spec §4.3): "primitive", "array", "object". nil classifies as
// "primitive", but detectAt settles nil before calling shape: two nils are
// equal, and a nil on one side only is a deletion.
func shape(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	default:
		return "primitive"
	}
}

// deepEqual implements spec §4.3's equality rules: primitives by ==, dates
// by time value, arrays elementwise same-length, objects by same key set
// and elementwise; cross-type comparisons are unequal.
func deepEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, vv := range av {
			other, ok := bv[k]
			if !ok || !deepEqual(vv, other) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Detect is a pure function of two document snapshots (spec §4.3): it
// returns zero or more conflict candidates, unpositioned (no ID/DocID/
// Status/DetectedAt yet — the Manager stamps those on ingest).
func Detect(local, remote interface{}) []*Record {
	return detectAt("", local, remote)
}

func detectAt(path string, local, remote interface{}) []*Record {
	if local == nil && remote == nil {
		return nil
	}
	if (local == nil) != (remote == nil) {
		return []*Record{{Path: path, Type: KindDeletion, LocalValue: local, RemoteValue: remote}}
	}

	ls, rs := shape(local), shape(remote)
	if ls != rs {
		return []*Record{{Path: path, Type: KindStructure, LocalValue: local, RemoteValue: remote}}
	}

	switch ls {
	case "object":
		return detectObject(path, local.(map[string]interface{}), remote.(map[string]interface{}))
	case "array":
		return detectArray(path, local.([]interface{}), remote.([]interface{}))
	default:
		if deepEqual(local, remote) {
			return nil
		}
		return []*Record{{Path: path, Type: KindValue, LocalValue: local, RemoteValue: remote}}
	}
}

func detectObject(path string, local, remote map[string]interface{}) []*Record {
	var out []*Record
	seen := make(map[string]bool, len(local)+len(remote))

	for k, lv := range local {
		seen[k] = true
		rv, ok := remote[k]
		if !ok {
			out = append(out, &Record{Path: joinPath(path, k), Type: KindExistence, LocalValue: lv, RemoteValue: nil})
			continue
		}
		out = append(out, detectAt(joinPath(path, k), lv, rv)...)
	}
	for k, rv := range remote {
		if seen[k] {
			continue
		}
		out = append(out, &Record{Path: joinPath(path, k), Type: KindExistence, LocalValue: nil, RemoteValue: rv})
	}
	return out
}

func detectArray(path string, local, remote []interface{}) []*Record {
	if len(local) != len(remote) {
		return []*Record{{Path: path, Type: KindStructure, LocalValue: local, RemoteValue: remote}}
	}
	for i := range local {
		if !deepEqual(local[i], remote[i]) {
			return []*Record{{Path: path, Type: KindValue, LocalValue: local, RemoteValue: remote}}
		}
	}
	return nil
}
