package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWriteAndClose(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "audit.csv")

	l := New(p, 2)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Log(Record{Timestamp: time.Now(), Operation: "bind", DN: "cn=nope", Reason: "unknown dn"})
	l.Log(Record{Timestamp: time.Now(), Operation: "search", DN: "cn=a", Base: "dc=x", Filter: "(uid=bob)", Reason: "not in allow-list"})

	l.Close()

	f, err := os.Open(p)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(lines) < 3 {
		t.Fatalf("expected at least 3 lines, got %d", len(lines))
	}
	if want := "timestamp,operation,dn,base,filter,reason"; !strings.Contains(lines[0], want) {
		t.Fatalf("missing header, got: %q", lines[0])
	}
}

func TestNilLoggerIsNoOp(t *testing.T) {
	var l *Logger
	l.Log(Record{Operation: "bind"})
	l.Close()
}

func TestEmptyPathReturnsNilLogger(t *testing.T) {
	if New("", 10) != nil {
		t.Fatal("expected nil logger for empty path")
	}
}
