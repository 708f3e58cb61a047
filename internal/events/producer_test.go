package events

import (
	"bytes"
	"context"
	"errors"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes succsessfully", func() {
			w := newTestWriter()
			kp := NewEventProducer(w)

			err := kp.Write(context.TODO(), BoardMessageKind, bytes.NewReader([]byte("msg1")))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(1))
			Expect(w.At(0).Type()).To(Equal(BoardMessageKind))
			Expect(w.At(0).Source()).To(Equal(eventSource))

			err = kp.Write(context.TODO(), StatsMessageKind, bytes.NewReader([]byte("msg2")))
			Expect(err).To(BeNil())
			Eventually(w.Len).Should(Equal(2))
			Expect(w.At(1).Type()).To(Equal(StatsMessageKind))

			Expect(kp.Close()).To(BeNil())
			Expect(w.Closed()).To(BeTrue())
		})

		It("delivers queued messages in order before closing", func() {
			w := newTestWriter()
			kp := NewEventProducer(w, WithOutputTopic("custom"))

			for _, m := range []string{"a", "b", "c", "d"} {
				Expect(kp.Write(context.TODO(), BoardMessageKind, bytes.NewReader([]byte(m)))).To(BeNil())
			}
			Expect(kp.Close()).To(BeNil())

			Expect(w.Len()).To(Equal(4))
			for i, m := range []string{"a", "b", "c", "d"} {
				Expect(string(w.At(i).Data())).To(Equal(m))
			}
			Expect(w.Topic()).To(Equal("custom"))
		})

		It("keeps going when the writer fails", func() {
			w := newTestWriter()
			w.fail = true
			kp := NewEventProducer(w)

			Expect(kp.Write(context.TODO(), BoardMessageKind, bytes.NewReader([]byte("x")))).To(BeNil())
			Expect(kp.Write(context.TODO(), BoardMessageKind, bytes.NewReader([]byte("y")))).To(BeNil())
			Expect(kp.Close()).To(BeNil())
			Expect(w.Attempts()).To(Equal(2))
		})

		It("can be closed twice", func() {
			kp := NewEventProducer(newTestWriter())
			Expect(kp.Close()).To(BeNil())
			Expect(kp.Close()).To(BeNil())
		})
	})

	Context("multi writer", func() {
		It("fans out to every writer", func() {
			w1, w2 := newTestWriter(), newTestWriter()
			kp := NewEventProducer(MultiWriter{w1, w2})

			Expect(kp.Write(context.TODO(), BoardMessageKind, bytes.NewReader([]byte("{}")))).To(BeNil())
			Expect(kp.Close()).To(BeNil())

			Expect(w1.Len()).To(Equal(1))
			Expect(w2.Len()).To(Equal(1))
			Expect(w1.Closed()).To(BeTrue())
			Expect(w2.Closed()).To(BeTrue())
		})
	})
})

type testwriter struct {
	lock     sync.Mutex
	messages []cloudevents.Event
	topic    string
	attempts int
	closed   bool
	fail     bool
}

func newTestWriter() *testwriter {
	return &testwriter{messages: []cloudevents.Event{}}
}

func (t *testwriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.attempts++
	if t.fail {
		return errors.New("write failed")
	}
	t.topic = topic
	t.messages = append(t.messages, e)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.closed = true
	return nil
}

func (t *testwriter) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.messages)
}

func (t *testwriter) At(i int) cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.messages[i]
}

func (t *testwriter) Topic() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.topic
}

func (t *testwriter) Attempts() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.attempts
}

func (t *testwriter) Closed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.closed
}
