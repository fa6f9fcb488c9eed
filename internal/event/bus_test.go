package event

import (
	"context"
	"errors"
	"testing"
)

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"reload.css", "reload.css", true},
		{"reload.css", "reload.*", true},
		{"reload.page", "reload.*", true},
		{"reload", "reload.*", false},
		{"reload.css.extra", "reload.*", false},
		{"reload.css.extra", "reload.**", true},
		{"reload", "reload.**", true},
		{"build.done", "reload.*", false},
		{"a.b.c", "**.c", true},
		{"a.b.c", "*.c", false},
	}
	for _, tt := range tests {
		if got := tt.topic.Matches(tt.pattern); got != tt.want {
			t.Errorf("%q.Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
		}
	}
}

func TestTopic_IsValid(t *testing.T) {
	for _, bad := range []Topic{"", ".a", "a.", "a..b"} {
		if bad.IsValid() {
			t.Errorf("%q should be invalid", bad)
		}
	}
	if !TopicReloadCSS.IsValid() {
		t.Error("reload.css should be valid")
	}
}

func TestReloadTopic(t *testing.T) {
	if got := ReloadTopic([]string{"dist/assets/css/style.css"}); got != TopicReloadCSS {
		t.Errorf("css only = %q", got)
	}
	if got := ReloadTopic([]string{"a.css", "b.js"}); got != TopicReloadPage {
		t.Errorf("mixed = %q", got)
	}
	if got := ReloadTopic(nil); got != TopicReloadPage {
		t.Errorf("empty = %q", got)
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	all, err := b.Subscribe(TopicReloadAll, 4)
	if err != nil {
		t.Fatal(err)
	}
	cssOnly, err := b.Subscribe(TopicReloadCSS, 4)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := b.Publish(ctx, New(TopicReloadPage, "js")); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, New(TopicReloadCSS, "scss:compile", "style.css")); err != nil {
		t.Fatal(err)
	}

	if ev := <-all.C(); ev.Task != "js" || ev.ID == "" {
		t.Errorf("first event = %+v", ev)
	}
	if ev := <-all.C(); ev.Topic != TopicReloadCSS {
		t.Errorf("second event = %+v", ev)
	}
	if ev := <-cssOnly.C(); ev.Task != "scss:compile" || len(ev.Paths) != 1 {
		t.Errorf("css event = %+v", ev)
	}
	select {
	case ev := <-cssOnly.C():
		t.Errorf("unexpected event %+v", ev)
	default:
	}

	st := b.Stats()
	if st.Published != 2 || st.Delivered != 3 || st.Subscribers != 2 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestBus_FullBufferDrops(t *testing.T) {
	b := NewBus()
	sub, _ := b.Subscribe(TopicReloadAll, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, New(TopicReloadPage, "html")); err != nil {
			t.Fatal(err)
		}
	}
	if st := b.Stats(); st.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", st.Dropped)
	}
	<-sub.C()
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	sub, _ := b.Subscribe(TopicReloadAll, 1)
	if err := b.Unsubscribe(sub); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if err := b.Unsubscribe(sub); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second Unsubscribe() = %v", err)
	}
}

func TestBus_Close(t *testing.T) {
	b := NewBus()
	sub, _ := b.Subscribe(TopicReloadAll, 1)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if err := b.Publish(context.Background(), New(TopicReloadPage, "x")); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish() = %v", err)
	}
	if _, err := b.Subscribe(TopicReloadAll, 1); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Subscribe() = %v", err)
	}
}

func TestBus_InvalidTopic(t *testing.T) {
	b := NewBus()
	if _, err := b.Subscribe("", 1); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() = %v", err)
	}
	if err := b.Publish(context.Background(), Event{Topic: "a..b"}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() = %v", err)
	}
}
