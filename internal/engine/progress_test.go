package engine_test

import (
	"testing"

	"github.com/seantiz/taskgate/internal/engine"
	"github.com/seantiz/taskgate/internal/model"
)

func TestProgressBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	reports := []model.ProgressInfo{
		{Percentage: 10, Message: "start"},
		{Percentage: 60, Message: "middle"},
		{Percentage: 100, Message: "end"},
	}
	for _, r := range reports {
		b.Publish("r1", r)
	}
	b.Close("r1")

	var got []model.ProgressInfo
	for r := range ch {
		got = append(got, r)
	}

	if len(got) != len(reports) {
		t.Fatalf("got %d reports, want %d", len(got), len(reports))
	}
	for i, r := range got {
		if r != reports[i] {
			t.Errorf("report[%d] = %v, want %v", i, r, reports[i])
		}
	}
}

func TestProgressBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewProgressBroker()
	ch1, unsub1 := b.Subscribe("r1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("r1")
	defer unsub2()

	want := model.ProgressInfo{Percentage: 5, Message: "hello"}
	b.Publish("r1", want)
	b.Close("r1")

	for i, ch := range []<-chan model.ProgressInfo{ch1, ch2} {
		var got []model.ProgressInfo
		for r := range ch {
			got = append(got, r)
		}
		if len(got) != 1 || got[0] != want {
			t.Errorf("subscriber %d got %v, want [%v]", i+1, got, want)
		}
	}
}

func TestProgressBrokerTopicsAreIsolated(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("r1")
	defer unsub()

	b.Publish("r2", model.ProgressInfo{Percentage: 1, Message: "other run"})
	b.Close("r1")

	for r := range ch {
		t.Errorf("unexpected report on r1: %v", r)
	}
}

func TestProgressBrokerLateSubscriberGetsClosedChannel(t *testing.T) {
	b := engine.NewProgressBroker()
	b.Close("r1")

	ch, unsub := b.Subscribe("r1")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel for a finished run")
	}
}

func TestProgressBrokerUnsubscribe(t *testing.T) {
	b := engine.NewProgressBroker()
	ch, unsub := b.Subscribe("r1")
	unsub()

	b.Publish("r1", model.ProgressInfo{Percentage: 1, Message: "dropped"})

	select {
	case r := <-ch:
		t.Errorf("received %v after unsubscribe", r)
	default:
	}
}

func TestProgressBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := engine.NewProgressBroker()
	_, unsub := b.Subscribe("r1")
	defer unsub()

	// Far more than the subscriber buffer; Publish must not block.
	for i := 0; i < 1000; i++ {
		b.Publish("r1", model.ProgressInfo{Percentage: i % 100, Message: "spam"})
	}
	b.Close("r1")
}
