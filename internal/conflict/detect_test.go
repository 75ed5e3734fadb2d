package conflict

import "testing"

func TestDetect_PrimitiveValueDiffers(t *testing.T) {
	conflicts := Detect(map[string]interface{}{"owner": "A"}, map[string]interface{}{"owner": "B"})
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	if conflicts[0].Path != "owner" || conflicts[0].Type != KindValue {
		t.Errorf("conflict = %+v", conflicts[0])
	}
}

func TestDetect_NoConflictWhenEqual(t *testing.T) {
	local := map[string]interface{}{"owner": "A", "tags": []interface{}{"x", "y"}}
	remote := map[string]interface{}{"owner": "A", "tags": []interface{}{"x", "y"}}
	if conflicts := Detect(local, remote); len(conflicts) != 0 {
		t.Errorf("expected no conflicts, got %+v", conflicts)
	}
}

func TestDetect_ExistenceOnAsymmetricKey(t *testing.T) {
	local := map[string]interface{}{"owner": "A", "note": "hi"}
	remote := map[string]interface{}{"owner": "A"}
	conflicts := Detect(local, remote)
	if len(conflicts) != 1 || conflicts[0].Type != KindExistence || conflicts[0].Path != "note" {
		t.Errorf("conflicts = %+v", conflicts)
	}
}

func TestDetect_StructureOnShapeMismatch(t *testing.T) {
	local := map[string]interface{}{"tags": []interface{}{"a"}}
	remote := map[string]interface{}{"tags": map[string]interface{}{"a": true}}
	conflicts := Detect(local, remote)
	if len(conflicts) != 1 || conflicts[0].Type != KindStructure {
		t.Errorf("conflicts = %+v", conflicts)
	}
}

func TestDetect_DeletionWhenOneSideNil(t *testing.T) {
	local := map[string]interface{}{"owner": "A"}
	remote := map[string]interface{}{"owner": nil}
	conflicts := Detect(local, remote)
	if len(conflicts) != 1 || conflicts[0].Type != KindDeletion {
		t.Errorf("conflicts = %+v", conflicts)
	}
}

func TestDetect_NestedObjectRecursion(t *testing.T) {
	local := map[string]interface{}{"address": map[string]interface{}{"city": "Springfield"}}
	remote := map[string]interface{}{"address": map[string]interface{}{"city": "Shelbyville"}}
	conflicts := Detect(local, remote)
	if len(conflicts) != 1 || conflicts[0].Path != "address.city" {
		t.Errorf("conflicts = %+v", conflicts)
	}
}
