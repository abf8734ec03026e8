package history

import "testing"

func TestConversation_FirstAskIsEarliestUserTurn(t *testing.T) {
	conv := Conversation{Turns: []Turn{
		{ID: 4, Session: "aaaaa", Role: RoleAssistant, Content: "second answer", Kind: KindText},
		{ID: 3, Session: "aaaaa", Role: RoleUser, Content: "second question", Kind: KindText},
		{ID: 2, Session: "aaaaa", Role: RoleAssistant, Content: "first answer", Kind: KindText},
		{ID: 1, Session: "aaaaa", Role: RoleUser, Content: "first question", Kind: KindText},
	}}

	ask := conv.FirstAsk()
	if ask == nil || ask.Content != "first question" {
		t.Fatalf("unexpected first ask: %+v", ask)
	}
	if conv.Key() != "aaaaa" {
		t.Fatalf("unexpected key %q", conv.Key())
	}
}

func TestConversation_FirstAskRequiresUserTurn(t *testing.T) {
	conv := Conversation{Turns: []Turn{
		{ID: 1, Session: "aaaaa", Role: RoleAssistant, Content: "orphan reply", Kind: KindText},
	}}

	if ask := conv.FirstAsk(); ask != nil {
		t.Fatalf("expected nil first ask, got %+v", ask)
	}
	if key := conv.Key(); key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
	if got := (Conversation{}).FirstAsk(); got != nil {
		t.Fatalf("expected nil first ask for empty conversation, got %+v", got)
	}
}
