package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan DeviceErrorEvent, 1)

	unsub := bus.Subscribe(func(e DeviceErrorEvent) {
		received <- e
	})
	defer unsub()

	ev := DeviceErrorEvent{
		Session:   "0x10001",
		RequestID: 17,
		ErrorType: "request",
	}
	bus.Publish(ev)

	got := <-received
	if got.RequestID != ev.RequestID || got.Session != ev.Session {
		t.Errorf("got %+v, want %+v", got, ev)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan FrameEvent, 1)
	received2 := make(chan FrameEvent, 1)

	unsub1 := bus.Subscribe(func(e FrameEvent) { received1 <- e })
	defer unsub1()
	unsub2 := bus.Subscribe(func(e FrameEvent) { received2 <- e })
	defer unsub2()

	bus.Publish(FrameEvent{Kind: "sof", FrameID: 3})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan FlushEvent, 1)

	unsub := bus.Subscribe(func(e FlushEvent) { received <- e })

	bus.Publish(FlushEvent{Kind: "all"})
	<-received

	unsub()

	bus.Publish(FlushEvent{Kind: "cancel_request"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	frameReceived := make(chan bool, 1)
	stateReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameEvent) { frameReceived <- true })
	defer unsub1()
	unsub2 := bus.Subscribe(func(_ SessionStateEvent) { stateReceived <- true })
	defer unsub2()

	bus.Publish(FrameEvent{Kind: "frame_done"})
	<-frameReceived

	select {
	case <-stateReceived:
		t.Fatal("session state subscriber should not receive frame events")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(SessionStateEvent{From: "valid", To: "flush"})
	<-stateReceived

	select {
	case <-frameReceived:
		t.Fatal("frame subscriber should not receive session state events")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DeviceDiscoveryEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(DeviceDiscoveryEvent{
					Action:    "added",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_NilDropsEvents(_ *testing.T) {
	var bus *Bus
	bus.Publish(FrameEvent{Kind: "sof"})
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(_ string) {})
	unsub()
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[DeviceDiscoveryEvent](bus, ch)
	defer unsub()

	bus.Publish(DeviceDiscoveryEvent{Path: "/dev/video3", Action: "added"})

	received := <-ch
	ev, ok := received.(DeviceDiscoveryEvent)
	if !ok {
		t.Fatalf("Expected DeviceDiscoveryEvent, got %T", received)
	}
	if ev.Path != "/dev/video3" {
		t.Errorf("Path = %s, want /dev/video3", ev.Path)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any)

	unsub := SubscribeToChannel[SessionStateEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(SessionStateEvent{To: "valid"})
		done <- true
	}()

	<-done
}
