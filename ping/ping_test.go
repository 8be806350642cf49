package ping

import "testing"

func TestReplyEchoesMessage(t *testing.T) {
	got := Reply([]byte("hello there"))
	msg, ok := IsPong(got)
	if !ok || msg != "hello there" {
		t.Fatalf("got msg=%q ok=%v", msg, ok)
	}
}

func TestIsPongRejectsNonPong(t *testing.T) {
	if _, ok := IsPong([]byte("hi")); ok {
		t.Fatal("expected IsPong to reject a non-PONG payload")
	}
}
