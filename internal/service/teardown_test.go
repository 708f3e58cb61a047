package service_test

import (
	"context"
	"time"

	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("teardown scheduler", func() {
	var (
		gw        *fakeGateway
		scheduler *service.TeardownScheduler
		handle    gateway.ChannelHandle
	)

	BeforeEach(func() {
		gw = newFakeGateway()
		scheduler = service.NewTeardownScheduler(gw)

		var err error
		handle, err = gw.CreatePrivateChannel(context.TODO(), "job-1", []string{"a", "b"})
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		scheduler.Stop()
	})

	It("deletes the channel once after the delay", func() {
		scheduler.Schedule(handle, 20*time.Millisecond)
		Expect(scheduler.Pending()).To(Equal(1))
		Expect(gw.Deleted()).To(BeEmpty())

		Eventually(gw.Deleted).Should(ConsistOf(handle))
		Consistently(gw.Deleted, 100*time.Millisecond).Should(HaveLen(1))
		Expect(scheduler.Pending()).To(Equal(0))
	})

	It("can be cancelled", func() {
		scheduler.Schedule(handle, 50*time.Millisecond)
		Expect(scheduler.Cancel(handle)).To(BeTrue())
		Expect(scheduler.Cancel(handle)).To(BeFalse())

		Consistently(gw.Deleted, 150*time.Millisecond).Should(BeEmpty())
	})

	It("replaces the timer of a handle scheduled again", func() {
		scheduler.Schedule(handle, 30*time.Millisecond)
		scheduler.Schedule(handle, time.Hour)
		Expect(scheduler.Pending()).To(Equal(1))

		Consistently(gw.Deleted, 150*time.Millisecond).Should(BeEmpty())

		scheduler.Schedule(handle, 10*time.Millisecond)
		Eventually(gw.Deleted).Should(ConsistOf(handle))
	})

	It("keeps timers of different handles apart", func() {
		other, err := gw.CreatePrivateChannel(context.TODO(), "job-2", []string{"a", "c"})
		Expect(err).To(BeNil())

		scheduler.Schedule(handle, 10*time.Millisecond)
		scheduler.Schedule(other, time.Hour)

		Eventually(gw.Deleted).Should(ConsistOf(handle))
		Expect(scheduler.Pending()).To(Equal(1))
	})

	It("ignores empty handles and stops everything on Stop", func() {
		scheduler.Schedule("", time.Millisecond)
		Expect(scheduler.Pending()).To(Equal(0))

		scheduler.Schedule(handle, 50*time.Millisecond)
		scheduler.Stop()
		Expect(scheduler.Pending()).To(Equal(0))

		scheduler.Schedule(handle, time.Millisecond)
		Consistently(gw.Deleted, 150*time.Millisecond).Should(BeEmpty())
	})
})
