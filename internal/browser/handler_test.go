package browser

import (
	"reflect"
	"testing"
)

func TestMergeSubjectOptions_TestIsAlwaysFirst(t *testing.T) {
	got := mergeSubjectOptions(nil, "")
	want := []string{"test"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions(nil, \"\") = %v, want %v", got, want)
	}
}

func TestMergeSubjectOptions_AppendsNewSubject(t *testing.T) {
	got := mergeSubjectOptions([]string{"alice", "bob"}, "carol")
	want := []string{"test", "alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions = %v, want %v", got, want)
	}
}

func TestMergeSubjectOptions_DuplicateIsCaseInsensitive(t *testing.T) {
	got := mergeSubjectOptions([]string{"alice", "Bob"}, "bob")
	want := []string{"test", "alice", "Bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions = %v, want %v (no case-insensitive duplicate)", got, want)
	}
}

func TestMergeSubjectOptions_StripsEmptyEntries(t *testing.T) {
	got := mergeSubjectOptions([]string{"", "alice", ""}, "")
	want := []string{"test", "alice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions = %v, want %v", got, want)
	}
}

func TestMergeSubjectOptions_ExistingTestEntryIsNotDuplicated(t *testing.T) {
	got := mergeSubjectOptions([]string{"alice", "Test"}, "")
	want := []string{"test", "alice"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions = %v, want %v (test stays first, not duplicated)", got, want)
	}
}

func TestMergeSubjectOptions_DedupesAcrossMultipleDeviceLists(t *testing.T) {
	// Simulates options collected from two devices whose animalOptions CSVs
	// overlap case-insensitively.
	fromDeviceA := []string{"alice", "bob"}
	fromDeviceB := []string{"Bob", "carol"}
	got := mergeSubjectOptions(append(append([]string{}, fromDeviceA...), fromDeviceB...), "dave")
	want := []string{"test", "alice", "bob", "carol", "dave"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeSubjectOptions = %v, want %v", got, want)
	}
}
