package service_test

import (
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("authorization policy", func() {
	claimant := "b"
	claimantName := "Bob"
	claimedJob := model.Job{ID: "j1", RequesterID: "a", Status: model.JobStatusClaimed, ClaimantID: &claimant, ClaimantDisplayName: &claimantName}
	openJob := model.Job{ID: "j2", RequesterID: "a", Status: model.JobStatusOpen}

	DescribeTable("completion",
		func(policy service.CompletionPolicy, actor service.Actor, job model.Job, allowed bool) {
			p := newPolicy()
			p.Completion = policy
			Expect(p.CanComplete(actor, job)).To(Equal(allowed))
		},
		Entry("requester policy, requester", service.CompleteByRequester, requesterA, claimedJob, true),
		Entry("requester policy, claimant", service.CompleteByRequester, workerB, claimedJob, false),
		Entry("claimant policy, claimant", service.CompleteByClaimant, workerB, claimedJob, true),
		Entry("claimant policy, requester", service.CompleteByClaimant, requesterA, claimedJob, false),
		Entry("claimant policy, open job", service.CompleteByClaimant, workerB, openJob, false),
		Entry("participant policy, requester", service.CompleteByParticipant, requesterA, claimedJob, true),
		Entry("participant policy, claimant", service.CompleteByParticipant, workerB, claimedJob, true),
		Entry("participant policy, stranger", service.CompleteByParticipant, stranger, claimedJob, false),
		Entry("empty policy behaves like requester", service.CompletionPolicy(""), requesterA, claimedJob, true),
	)

	DescribeTable("cancel",
		func(actor service.Actor, allowed bool) {
			Expect(newPolicy().CanCancel(actor, claimedJob)).To(Equal(allowed))
		},
		Entry("requester", requesterA, true),
		Entry("claimant", workerB, true),
		Entry("super admin bypass", superAdmin, true),
		Entry("other worker", workerC, false),
		Entry("admin", adminActor, false),
	)

	It("gates the remaining actions by role", func() {
		p := newPolicy()

		Expect(p.CanCreate(requesterA)).To(BeTrue())
		Expect(p.CanCreate(adminActor)).To(BeTrue())
		Expect(p.CanCreate(workerB)).To(BeFalse())

		Expect(p.CanClaim(workerB)).To(BeTrue())
		Expect(p.CanClaim(requesterA)).To(BeFalse())

		Expect(p.CanAdminister(adminActor)).To(BeTrue())
		Expect(p.CanAdminister(superAdmin)).To(BeTrue())
		Expect(p.CanAdminister(workerB)).To(BeFalse())

		Expect(p.CanForceClose(superAdmin)).To(BeTrue())
		Expect(p.CanForceClose(adminActor)).To(BeFalse())

		Expect(p.CanTakePermanent(workerB)).To(BeTrue())
		Expect(p.CanTakePermanent(service.NewActor("w", "Worker admin", "worker", "admin"))).To(BeFalse())

		Expect(p.CanClosePermanent(workerB, true)).To(BeTrue())
		Expect(p.CanClosePermanent(workerB, false)).To(BeFalse())
		Expect(p.CanClosePermanent(adminActor, false)).To(BeTrue())
	})

	It("lets everybody create without member roles and nobody force close without a super admin", func() {
		p := &service.AuthorizationPolicy{}
		Expect(p.CanCreate(stranger)).To(BeTrue())
		Expect(p.CanClaim(workerB)).To(BeFalse())
		Expect(p.CanForceClose(service.NewActor("", ""))).To(BeFalse())
	})
})
