package logbuffer

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(LogEntry{Message: msg})
	}

	all := b.GetAll()
	if len(all) != 3 {
		t.Fatalf("len=%d, want 3", len(all))
	}
	if all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("unexpected order: %+v", all)
	}
}

func TestWriterCapturesZerologFields(t *testing.T) {
	b := New(10)
	logger := zerolog.New(NewWriter(b, nil))

	logger.Warn().Str("component", "conveyor").Str("slot", "pool_can_02").Msg("set pose failed")
	logger.Info().Str("component", "conveyor").Msg("tick")

	if b.Len() != 2 {
		t.Fatalf("len=%d, want 2", b.Len())
	}

	got := b.Query(QueryParams{Slot: "pool_can_02"})
	if len(got) != 1 {
		t.Fatalf("slot query returned %d entries, want 1", len(got))
	}
	if got[0].Level != "warn" || got[0].Component != "conveyor" || got[0].Message != "set pose failed" {
		t.Fatalf("unexpected entry: %+v", got[0])
	}
}

func TestQueryLimitAndOrder(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Level: "info", Message: "first"})
	b.Add(LogEntry{Level: "error", Message: "Second failure"})
	b.Add(LogEntry{Level: "info", Message: "third"})

	got := b.Query(QueryParams{Level: "info", Descending: true, Limit: 1})
	if len(got) != 1 || got[0].Message != "third" {
		t.Fatalf("unexpected result: %+v", got)
	}

	got = b.Query(QueryParams{Search: "failure"})
	if len(got) != 1 || got[0].Level != "error" {
		t.Fatalf("search returned %+v", got)
	}
}
