package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishIsTenantScoped(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe("school-a", 4)
	defer unsubA()
	other, unsubB := b.Subscribe("school-b", 4)
	defer unsubB()
	all, unsubAll := b.Subscribe("", 4)
	defer unsubAll()

	b.Publish(Event{Tenant: "school-a", Name: RingTheBell, Payload: map[string]string{"bellName": "x"}})

	select {
	case e := <-a:
		if e.Name != RingTheBell || e.Tenant != "school-a" || e.Time.IsZero() {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("tenant subscriber got nothing")
	}
	select {
	case <-all:
	case <-time.After(time.Second):
		t.Fatal("wildcard subscriber got nothing")
	}
	select {
	case e := <-other:
		t.Fatalf("other tenant received %+v", e)
	default:
	}
	if got := b.Subscribers("school-a"); got != 1 {
		t.Fatalf("Subscribers = %d, want 1", got)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe("t", 1)
	defer unsub()
	b.Publish(Event{Tenant: "t", Name: "one"})
	b.Publish(Event{Tenant: "t", Name: "two"})
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Dropped())
	}
	if e := <-ch; e.Name != "one" {
		t.Fatalf("kept %q, want first event", e.Name)
	}
}

func TestUnsubscribeIsIdempotentAndCloses(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe("t", 1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if b.Subscribers("t") != 0 {
		t.Fatal("subscriber not removed")
	}
	b.Publish(Event{Tenant: "t", Name: "after"})
}

func TestPublishConcurrentWithUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		_, unsub := b.Subscribe("t", 1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish(Event{Tenant: "t", Name: RingTheBell})
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
	if b.Subscribers("t") != 0 {
		t.Fatalf("Subscribers = %d, want 0", b.Subscribers("t"))
	}
}

func TestSubscribeReplayComesFirst(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe("t", 1, Event{Tenant: "t", Name: PlayAlert})
	defer unsub()
	b.Publish(Event{Tenant: "t", Name: RingTheBell})
	if e := <-ch; e.Name != PlayAlert {
		t.Fatalf("first event = %q, want %q", e.Name, PlayAlert)
	}
}

func TestListenerLeavingMidBroadcast(t *testing.T) {
	t.Parallel()
	b := New()
	stop := make(chan struct{})
	var pubs sync.WaitGroup
	for i := 0; i < 4; i++ {
		pubs.Add(1)
		go func() {
			defer pubs.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(Event{Tenant: "t", Name: RingTheBell})
				}
			}
		}()
	}

	var readers sync.WaitGroup
	for i := 0; i < 100; i++ {
		ch, unsub := b.Subscribe("t", 2)
		readers.Add(1)
		go func() {
			defer readers.Done()
			for range ch {
			}
		}()
		unsub()
	}
	readers.Wait()
	close(stop)
	pubs.Wait()

	if n := b.Subscribers("t"); n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
}
