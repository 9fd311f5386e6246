package editledger

import (
	"testing"
	"time"

	"snipebot/internal/snapshot"
)

func TestLedgerIngest(t *testing.T) {
	now := time.Date(2025, time.July, 1, 8, 5, 0, 0, time.UTC)
	author := snapshot.Author{ID: "u1", DisplayName: "Alice"}

	tests := []struct {
		name        string
		edits       [][2]string
		wantOK      bool
		wantChanged []bool
		want        Record
	}{
		{
			name:        "records first edit",
			edits:       [][2]string{{"helo", "hello"}},
			wantOK:      true,
			wantChanged: []bool{true},
			want:        Record{MessageID: "m1", Author: author, Before: "helo", After: "hello"},
		},
		{
			name:        "equal texts are ignored",
			edits:       [][2]string{{"same", "same"}},
			wantOK:      false,
			wantChanged: []bool{false},
		},
		{
			name:        "metadata update keeps previous record",
			edits:       [][2]string{{"a", "b"}, {"b", "b"}},
			wantOK:      true,
			wantChanged: []bool{true, false},
			want:        Record{MessageID: "m1", Author: author, Before: "a", After: "b"},
		},
		{
			name:        "latest edit overwrites",
			edits:       [][2]string{{"a", "b"}, {"b", "c"}},
			wantOK:      true,
			wantChanged: []bool{true, true},
			want:        Record{MessageID: "m1", Author: author, Before: "b", After: "c"},
		},
		{
			name:        "text cleared",
			edits:       [][2]string{{"oops", ""}},
			wantOK:      true,
			wantChanged: []bool{true},
			want:        Record{MessageID: "m1", Author: author, Before: "oops", After: ""},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			ledger := New(WithClock(func() time.Time { return now }), WithLocation(time.UTC))
			for idx, edit := range testCase.edits {
				changed := ledger.Ingest("C", "m1", author, edit[0], edit[1])
				if changed != testCase.wantChanged[idx] {
					t.Fatalf("edit %d changed = %v, want %v", idx, changed, testCase.wantChanged[idx])
				}
			}

			got, ok := ledger.Edit("C")
			if ok != testCase.wantOK {
				t.Fatalf("ok = %v, want %v", ok, testCase.wantOK)
			}
			if !ok {
				return
			}
			testCase.want.CapturedAt = now
			if got != testCase.want {
				t.Fatalf("record = %+v, want %+v", got, testCase.want)
			}
		})
	}
}

func TestLedgerChannelsAreIndependent(t *testing.T) {
	t.Parallel()

	ledger := New()
	ledger.Ingest("C", "m1", snapshot.Author{ID: "a"}, "x", "y")

	if _, ok := ledger.Edit("D"); ok {
		t.Fatal("expected no record for untouched channel")
	}
	if ledger.Len() != 1 {
		t.Fatalf("len = %d, want 1", ledger.Len())
	}
}
