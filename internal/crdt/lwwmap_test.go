package crdt

import "testing"

func TestLWWMap_SetAndSnapshot(t *testing.T) {
	doc := NewLWWMap("doc-1", "replica-a")

	err := doc.Transact(OriginLocal, func(tx *Tx) error {
		if err := tx.SetPath("owner", "A"); err != nil {
			return err
		}
		return tx.SetPath("value", 100)
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}

	snap := doc.Snapshot().(map[string]interface{})
	if snap["owner"] != "A" {
		t.Errorf("owner = %v, want A", snap["owner"])
	}
	if snap["value"] != 100 {
		t.Errorf("value = %v, want 100", snap["value"])
	}
}

func TestLWWMap_ConvergenceAcrossReplicas(t *testing.T) {
	x := NewLWWMap("doc-1", "replica-x")
	y := NewLWWMap("doc-1", "replica-y")

	mustTx(t, x, func(tx *Tx) error { return tx.SetPath("notes", "hello") })
	mustTx(t, y, func(tx *Tx) error { return tx.SetPath("value", 200) })

	xUpdate, err := x.GetUpdate(nil)
	if err != nil {
		t.Fatalf("GetUpdate(x) failed: %v", err)
	}
	yUpdate, err := y.GetUpdate(nil)
	if err != nil {
		t.Fatalf("GetUpdate(y) failed: %v", err)
	}

	if err := x.ApplyUpdate(yUpdate, OriginRemote); err != nil {
		t.Fatalf("x.ApplyUpdate failed: %v", err)
	}
	if err := y.ApplyUpdate(xUpdate, OriginRemote); err != nil {
		t.Fatalf("y.ApplyUpdate failed: %v", err)
	}

	xSnap := x.Snapshot().(map[string]interface{})
	ySnap := y.Snapshot().(map[string]interface{})

	if xSnap["notes"] != "hello" || xSnap["value"] != 200 {
		t.Errorf("x converged snapshot = %+v", xSnap)
	}
	if ySnap["notes"] != "hello" || ySnap["value"] != 200 {
		t.Errorf("y converged snapshot = %+v", ySnap)
	}
}

func TestLWWMap_ApplyUpdateTwiceIsIdempotent(t *testing.T) {
	x := NewLWWMap("doc-1", "replica-x")
	y := NewLWWMap("doc-1", "replica-y")

	mustTx(t, x, func(tx *Tx) error { return tx.SetPath("owner", "A") })
	update, err := x.GetUpdate(nil)
	if err != nil {
		t.Fatalf("GetUpdate failed: %v", err)
	}

	calls := 0
	y.Observe(func([]byte, Origin) { calls++ })

	if err := y.ApplyUpdate(update, OriginRemote); err != nil {
		t.Fatalf("first ApplyUpdate failed: %v", err)
	}
	if err := y.ApplyUpdate(update, OriginRemote); err != nil {
		t.Fatalf("second ApplyUpdate failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("observer called %d times, want 1 (second apply is a no-op)", calls)
	}
}

func TestLWWMap_NestedPathWriteback(t *testing.T) {
	doc := NewLWWMap("doc-1", "replica-a")
	mustTx(t, doc, func(tx *Tx) error {
		return tx.SetPath("address", map[string]interface{}{"city": "Springfield"})
	})
	mustTx(t, doc, func(tx *Tx) error {
		return tx.SetPath("address.city", "Shelbyville")
	})

	snap := doc.Snapshot().(map[string]interface{})
	addr := snap["address"].(map[string]interface{})
	if addr["city"] != "Shelbyville" {
		t.Errorf("address.city = %v, want Shelbyville", addr["city"])
	}
}

func mustTx(t *testing.T, doc *LWWMap, fn func(tx *Tx) error) {
	t.Helper()
	if err := doc.Transact(OriginLocal, fn); err != nil {
		t.Fatalf("Transact failed: %v", err)
	}
}
