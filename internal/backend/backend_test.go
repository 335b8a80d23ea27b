package backend

import (
	"errors"
	"testing"
)

func TestSubscriptionMatches(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		ev   Event
		want bool
	}{
		{
			name: "resource and type match",
			sub:  Subscription{Resource: ResourceMessages, Types: []EventType{EventInsert}},
			ev:   Event{Resource: ResourceMessages, Type: EventInsert, ChatID: "c1"},
			want: true,
		},
		{
			name: "wrong resource",
			sub:  Subscription{Resource: ResourceMessages, Types: []EventType{EventInsert}},
			ev:   Event{Resource: ResourceChats, Type: EventInsert},
			want: false,
		},
		{
			name: "wrong type",
			sub:  Subscription{Resource: ResourceMessages, Types: []EventType{EventInsert}},
			ev:   Event{Resource: ResourceMessages, Type: EventDelete},
			want: false,
		},
		{
			name: "any type catches deletes",
			sub:  Subscription{Resource: ResourceChats, Types: []EventType{EventAny}},
			ev:   Event{Resource: ResourceChats, Type: EventDelete, ChatID: "c1"},
			want: true,
		},
		{
			name: "chat filter passes own chat",
			sub:  Subscription{Resource: ResourceMessages, Filter: Filter{ChatID: "c1"}, Types: []EventType{EventInsert}},
			ev:   Event{Resource: ResourceMessages, Type: EventInsert, ChatID: "c1"},
			want: true,
		},
		{
			name: "chat filter rejects other chat",
			sub:  Subscription{Resource: ResourceMessages, Filter: Filter{ChatID: "c1"}, Types: []EventType{EventInsert}},
			ev:   Event{Resource: ResourceMessages, Type: EventInsert, ChatID: "c2"},
			want: false,
		},
		{
			name: "empty type set matches nothing",
			sub:  Subscription{Resource: ResourceMessages},
			ev:   Event{Resource: ResourceMessages, Type: EventInsert},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.ev); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	var err error = &NetworkError{Op: "pg.QueryChats", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("NetworkError does not unwrap to its cause")
	}

	err = &SubscriptionError{Op: "memory.Unsubscribe", Err: ErrNotFound}
	if !errors.Is(err, ErrNotFound) {
		t.Error("SubscriptionError does not unwrap to its cause")
	}

	integ := &DataIntegrityError{Resource: ResourceMessages, RowID: "m1", Ref: "user u9"}
	want := "dangling reference in messages row m1: missing user u9"
	if integ.Error() != want {
		t.Errorf("Error() = %q, want %q", integ.Error(), want)
	}
}
