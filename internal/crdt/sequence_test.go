package crdt

import "testing"

func TestSequence_InsertAndSnapshot_List(t *testing.T) {
	doc := NewSequence("doc-1", "replica-a", KindList)

	mustSeqTx(t, doc, func() error { return doc.Insert(0, "a") })
	mustSeqTx(t, doc, func() error { return doc.Insert(1, "b") })
	mustSeqTx(t, doc, func() error { return doc.Insert(1, "c") })

	snap := doc.Snapshot().([]interface{})
	want := []interface{}{"a", "c", "b"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot = %+v, want %+v", snap, want)
	}
	for i := range want {
		if snap[i] != want[i] {
			t.Errorf("snapshot[%d] = %v, want %v", i, snap[i], want[i])
		}
	}
}

func TestSequence_Delete_RemovesVisibleElement(t *testing.T) {
	doc := NewSequence("doc-1", "replica-a", KindList)
	mustSeqTx(t, doc, func() error { return doc.Insert(0, "a") })
	mustSeqTx(t, doc, func() error { return doc.Insert(1, "b") })

	mustSeqTx(t, doc, func() error { return doc.Delete(0) })

	snap := doc.Snapshot().([]interface{})
	if len(snap) != 1 || snap[0] != "b" {
		t.Errorf("snapshot = %+v, want [b]", snap)
	}
}

func TestSequence_Text_ConcatenatesVisibleRunes(t *testing.T) {
	doc := NewSequence("doc-1", "replica-a", KindText)
	mustSeqTx(t, doc, func() error { return doc.Insert(0, "hello ") })
	mustSeqTx(t, doc, func() error { return doc.Insert(1, "world") })

	snap := doc.Snapshot().(string)
	if snap != "hello world" {
		t.Errorf("snapshot = %q, want %q", snap, "hello world")
	}
}

func TestSequence_ConvergenceAcrossReplicas(t *testing.T) {
	x := NewSequence("doc-1", "replica-x", KindList)
	y := NewSequence("doc-1", "replica-y", KindList)

	mustSeqTx(t, x, func() error { return x.Insert(0, "from-x") })
	mustSeqTx(t, y, func() error { return y.Insert(0, "from-y") })

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

	xSnap := x.Snapshot().([]interface{})
	ySnap := y.Snapshot().([]interface{})
	if len(xSnap) != 2 || len(ySnap) != 2 {
		t.Fatalf("x = %+v, y = %+v, want 2 elements each", xSnap, ySnap)
	}
	if xSnap[0] != ySnap[0] || xSnap[1] != ySnap[1] {
		t.Errorf("replicas diverged: x = %+v, y = %+v", xSnap, ySnap)
	}
}

func TestSequence_ApplyUpdateTwiceIsIdempotent(t *testing.T) {
	x := NewSequence("doc-1", "replica-x", KindList)
	y := NewSequence("doc-1", "replica-y", KindList)

	mustSeqTx(t, x, func() error { return x.Insert(0, "a") })
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

func TestSequence_DeleteOutOfRangeIsNoop(t *testing.T) {
	doc := NewSequence("doc-1", "replica-a", KindList)
	mustSeqTx(t, doc, func() error { return doc.Insert(0, "a") })

	if err := doc.Delete(5); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	snap := doc.Snapshot().([]interface{})
	if len(snap) != 1 || snap[0] != "a" {
		t.Errorf("snapshot = %+v, want [a]", snap)
	}
}

func mustSeqTx(t *testing.T, _ *Sequence, fn func() error) {
	t.Helper()
	if err := fn(); err != nil {
		t.Fatalf("operation failed: %v", err)
	}
}
