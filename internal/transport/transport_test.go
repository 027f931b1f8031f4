package transport

import "testing"

func TestKnownType(t *testing.T) {
	tests := []struct {
		typ  string
		want bool
	}{
		{TypeConversation, true},
		{TypeListResponse, true},
		{TypeEdited, true},
		{"senderKeyDistributionMessage", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := KnownType(tt.typ); got != tt.want {
			t.Errorf("KnownType(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestInboundEvent_Text(t *testing.T) {
	ev := InboundEvent{Body: " 2 ", SelectedID: ""}
	if ev.Text() != "2" {
		t.Fatalf("Text() = %q", ev.Text())
	}
	ev.SelectedID = "3"
	if ev.Text() != "3" {
		t.Fatalf("selected Text() = %q", ev.Text())
	}
	if !(&InboundEvent{ChatID: "status@broadcast"}).IsBroadcast() {
		t.Fatal("status@broadcast not detected")
	}
}
