package events

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("deferred writer", func() {
	newEvent := func(kind string) cloudevents.Event {
		e := cloudevents.NewEvent()
		e.SetType(kind)
		return e
	}

	It("drops events until a writer is attached", func() {
		d := &DeferredWriter{}
		Expect(d.Write(context.TODO(), "topic", newEvent(BoardMessageKind))).To(BeNil())

		w := newTestWriter()
		d.Attach(w)
		Expect(d.Write(context.TODO(), "topic", newEvent(StatsMessageKind))).To(BeNil())
		Expect(d.Close(context.TODO())).To(BeNil())

		Expect(w.Len()).To(Equal(1))
		Expect(w.At(0).Type()).To(Equal(StatsMessageKind))
		Expect(w.Closed()).To(BeTrue())
	})

	It("closes cleanly without a writer", func() {
		Expect((&DeferredWriter{}).Close(context.TODO())).To(BeNil())
	})
})
