package ring

import (
	"reflect"
	"testing"
)

func TestPushEvictsOldest(t *testing.T) {
	b := New(3)
	b.Push("a")
	b.Push("b")
	b.Push("c")
	b.Push("d")
	got := b.GetAll()
	want := []string{"b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetAll() = %v, want %v", got, want)
	}
	if b.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", b.Count())
	}
}

func TestAppendDataCoalescesPartialLine(t *testing.T) {
	b := New(10)
	b.AppendData([]byte("abc"))
	b.AppendData([]byte("def\n"))
	got := b.GetAll()
	want := []string{"abcdef"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetAll() = %v, want %v", got, want)
	}
}

func TestAppendDataLeadingNewlineStartsFreshLine(t *testing.T) {
	b := New(10)
	b.AppendData([]byte("existing"))
	b.Flush()
	b.AppendData([]byte("\nabc"))
	b.Flush()
	got := b.GetAll()
	want := []string{"existing", "", "abc"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetAll() = %v, want %v", got, want)
	}
}

func TestAppendDataPreservesANSI(t *testing.T) {
	b := New(10)
	ansi := "\x1b[31mred\x1b[0m\n"
	b.AppendData([]byte(ansi))
	got := b.GetAll()
	if len(got) != 1 || got[0] != "\x1b[31mred\x1b[0m" {
		t.Fatalf("ANSI escape sequence was mutated: %q", got)
	}
}

func TestGetLastReturnsArrivalOrder(t *testing.T) {
	b := New(100)
	for i := 0; i < 10; i++ {
		b.Push(string(rune('a' + i)))
	}
	got := b.GetLast(3)
	want := []string{"h", "i", "j"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetLast(3) = %v, want %v", got, want)
	}
}

func TestClearResetsState(t *testing.T) {
	b := New(5)
	b.Push("x")
	b.Push("y")
	b.Clear()
	if b.Count() != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", b.Count())
	}
	if got := b.GetAll(); got != nil {
		t.Fatalf("GetAll() after Clear = %v, want nil", got)
	}
}

func TestIsFreshFalseBeforeAnyWrite(t *testing.T) {
	b := New(5)
	if b.IsFresh(1_000_000) {
		t.Fatal("IsFresh() on never-updated buffer should be false")
	}
}

func TestCapacityOneStillAppendsOnlyLastLine(t *testing.T) {
	b := New(1)
	b.Push("a")
	b.Push("b")
	got := b.GetAll()
	want := []string{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GetAll() = %v, want %v", got, want)
	}
}
