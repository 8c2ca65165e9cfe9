package memory

import (
	"testing"
)

func seedRecall(t *testing.T) *RecallStorage {
	t.Helper()
	rs, err := OpenRecall(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	seed := []Record{
		{Kind: KindSystem, UserID: 1, Message: RecordMessage{Role: "user", Content: "boot notice"}, Timestamp: "2026-08-01"},
		{Kind: KindUser, UserID: 1, Message: RecordMessage{Role: "user", Content: "I adopted a cat named Biscuit"}, Timestamp: "2026-08-02"},
		{Kind: KindAssistant, UserID: 1, Message: RecordMessage{Role: "assistant", Content: "Biscuit sounds lovely!"}, Timestamp: "2026-08-02"},
		{Kind: KindTool, UserID: 1, Message: RecordMessage{Role: "user", Content: "Status: OK. Result: None"}, Timestamp: "2026-08-02"},
		{Kind: KindUser, UserID: 2, Message: RecordMessage{Role: "user", Content: "my CAT hates mondays"}, Timestamp: "2026-08-10"},
		{Kind: KindUser, UserID: 1, Message: RecordMessage{Role: "user", Content: "the vet visit went fine"}, Timestamp: "2026-08-15"},
	}
	for _, rec := range seed {
		if err := rs.Insert(rec); err != nil {
			t.Fatal(err)
		}
	}
	return rs
}

func TestTextSearch(t *testing.T) {
	rs := seedRecall(t)

	results, total := rs.TextSearch("cat", 1, 0, 0)
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if results[0].Message.Content != "I adopted a cat named Biscuit" {
		t.Errorf("content = %q", results[0].Message.Content)
	}

	// Case-insensitive and scoped to the requested user.
	_, total = rs.TextSearch("CAT", 2, 0, 0)
	if total != 1 {
		t.Errorf("user 2 total = %d, want 1", total)
	}

	// System and tool records never match.
	_, total = rs.TextSearch("boot notice", 1, 0, 0)
	if total != 0 {
		t.Errorf("system record matched, total = %d", total)
	}
	_, total = rs.TextSearch("Status: OK", 1, 0, 0)
	if total != 0 {
		t.Errorf("tool record matched, total = %d", total)
	}
}

func TestTextSearchPaging(t *testing.T) {
	rs := seedRecall(t)

	results, total := rs.TextSearch("", 1, 2, 0)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(results) != 2 {
		t.Fatalf("page size = %d, want 2", len(results))
	}

	results, _ = rs.TextSearch("", 1, 2, 2)
	if len(results) != 1 {
		t.Errorf("last page size = %d, want 1", len(results))
	}

	results, _ = rs.TextSearch("", 1, 2, 99)
	if len(results) != 0 {
		t.Errorf("out-of-range page size = %d, want 0", len(results))
	}
}

func TestDateSearch(t *testing.T) {
	rs := seedRecall(t)

	// Inclusive on both ends.
	results, total, err := rs.DateSearch("2026-08-02", "2026-08-15", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if results[len(results)-1].Timestamp != "2026-08-15" {
		t.Errorf("last timestamp = %q", results[len(results)-1].Timestamp)
	}

	_, total, err = rs.DateSearch("2026-08-03", "2026-08-14", 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}

	if _, _, err := rs.DateSearch("08/02/2026", "2026-08-15", 1, 0, 0); err == nil {
		t.Error("expected error for malformed start date")
	}
}

func TestRecallReload(t *testing.T) {
	dir := t.TempDir()
	rs, err := OpenRecall(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := rs.Insert(NewRecord(KindUser, 1, "hello there")); err != nil {
		t.Fatal(err)
	}

	again, err := OpenRecall(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 1 {
		t.Fatalf("Len = %d, want 1", again.Len())
	}
	_, total := again.TextSearch("hello", 1, 0, 0)
	if total != 1 {
		t.Errorf("total after reload = %d, want 1", total)
	}
}
