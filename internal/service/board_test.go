package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pusherbot/pusherbot/internal/config"
	"github.com/pusherbot/pusherbot/internal/events"
	"github.com/pusherbot/pusherbot/internal/gateway"
	"github.com/pusherbot/pusherbot/internal/service"
	"github.com/pusherbot/pusherbot/internal/store"
	"github.com/pusherbot/pusherbot/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

const (
	insertCompletionStm  = "INSERT INTO completed_jobs (job_id, sequence_number, title, description, requester_id, requester_display_name, claimant_id, claimant_display_name, completer_id, reward_points, created_at, completed_at) VALUES ('%s', %d, 'title', 'desc', 'a', 'A', '%s', '%s', 'a', %d, CURRENT_TIMESTAMP, '%s');"
	insertWorkerStatsStm = "INSERT INTO worker_stats (worker_id, display_name, total_completed, total_points, updated_at) VALUES ('%s', '%s', %d, %d, CURRENT_TIMESTAMP);"
)

var (
	requesterA = service.NewActor("a", "Alice", "member")
	workerB    = service.NewActor("b", "Bob", "worker")
	workerC    = service.NewActor("c", "Carol", "worker")
	adminActor = service.NewActor("adm", "Admin", "admin")
	superAdmin = service.NewActor("root", "Root")
	stranger   = service.NewActor("x", "Stranger")
)

func newPolicy() *service.AuthorizationPolicy {
	return &service.AuthorizationPolicy{
		MemberRoleIDs: []string{"member"},
		AdminRoleIDs:  []string{"admin"},
		WorkerRoleID:  "worker",
		SuperAdminID:  "root",
		Completion:    service.CompleteByRequester,
	}
}

func fastBoardConfig() service.BoardConfig {
	return service.BoardConfig{
		CancelTeardownDelay:   10 * time.Millisecond,
		CompleteTeardownDelay: 10 * time.Millisecond,
		ForceCloseDelay:       10 * time.Millisecond,
	}
}

func jobForm(requester service.Actor, title string) service.JobForm {
	return service.JobForm{
		RequesterID:   requester.ID,
		RequesterName: requester.DisplayName,
		Title:         title,
		Description:   "some work to do",
		Reward:        "none",
	}
}

func cleanTables(gormdb *gorm.DB) {
	for _, table := range []string{"jobs", "completed_jobs", "worker_stats", "settings", "permanent_jobs"} {
		Expect(gormdb.Exec("DELETE FROM " + table).Error).To(BeNil())
	}
}

var _ = Describe("job board", Ordered, func() {
	var (
		s        store.Store
		gormdb   *gorm.DB
		gw       *fakeGateway
		notifier *testNotifier
		teardown *service.TeardownScheduler
		board    *service.JobBoard
		ctx      context.Context
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		ctx = context.TODO()
		Expect(s.Seed(ctx)).To(BeNil())

		gw = newFakeGateway()
		notifier = &testNotifier{}
		teardown = service.NewTeardownScheduler(gw)
		board = service.NewJobBoard(s, gw, newPolicy(), teardown, notifier, fastBoardConfig())
	})

	AfterEach(func() {
		teardown.Stop()
		cleanTables(gormdb)
	})

	Context("create", func() {
		It("allocates increasing numbers", func() {
			for i := 1; i <= 3; i++ {
				job, err := board.CreateJob(ctx, jobForm(requesterA, fmt.Sprintf("job %d", i)))
				Expect(err).To(BeNil())
				Expect(job.SequenceNumber).To(BeNumerically("==", i))
				Expect(job.Status).To(Equal(model.JobStatusOpen))
				Expect(job.ClaimantID).To(BeNil())
			}

			jobs, err := board.ListActiveJobs(ctx)
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(3))
			Expect(jobs[0].SequenceNumber).To(BeNumerically("<", jobs[1].SequenceNumber))
			Expect(jobs[1].SequenceNumber).To(BeNumerically("<", jobs[2].SequenceNumber))
			Expect(notifier.Kinds()).To(HaveLen(3))
			Expect(notifier.Kinds()).To(HaveEach(events.BoardMessageKind))
		})

		It("never hands out the same number to concurrent calls", func() {
			const callers = 20

			var (
				wg      sync.WaitGroup
				lock    sync.Mutex
				numbers []int64
			)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					job, err := board.CreateJob(ctx, jobForm(requesterA, fmt.Sprintf("job %d", i)))
					Expect(err).To(BeNil())
					lock.Lock()
					numbers = append(numbers, job.SequenceNumber)
					lock.Unlock()
				}(i)
			}
			wg.Wait()

			sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
			Expect(numbers).To(HaveLen(callers))
			for i := 1; i < len(numbers); i++ {
				Expect(numbers[i]).To(BeNumerically(">", numbers[i-1]))
			}
		})

		It("rejects an invalid form", func() {
			_, err := board.CreateJob(ctx, jobForm(requesterA, "   "))
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))

			form := jobForm(requesterA, "ok")
			form.Description = string(make([]byte, 501))
			_, err = board.CreateJob(ctx, form)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))

			jobs, err := board.ListActiveJobs(ctx)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())
		})
	})

	Context("claim", func() {
		It("claims an open job and provisions the channel", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "Fix fence"))
			Expect(err).To(BeNil())

			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())
			Expect(handle.IsZero()).To(BeFalse())
			Expect(gw.Participants(handle)).To(ConsistOf("a", "b"))
			Expect(gw.Name(handle)).To(Equal(fmt.Sprintf("job-%d-alice", job.SequenceNumber)))

			claimed, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(claimed.Status).To(Equal(model.JobStatusClaimed))
			id, name := claimed.Claimant()
			Expect(id).To(Equal("b"))
			Expect(name).To(Equal("Bob"))
			Expect(claimed.Channel()).To(Equal(string(handle)))
			Expect(claimed.ClaimedAt).NotTo(BeNil())
		})

		It("lets exactly one of many concurrent claims win", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "contested"))
			Expect(err).To(BeNil())

			const claimants = 10
			var (
				wg        sync.WaitGroup
				lock      sync.Mutex
				successes int
				rejected  int
			)
			for i := 0; i < claimants; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := board.ClaimJob(ctx, job.ID, fmt.Sprintf("worker-%d", i), fmt.Sprintf("Worker %d", i))
					lock.Lock()
					defer lock.Unlock()
					if err == nil {
						successes++
						return
					}
					var stateErr *service.ErrInvalidState
					Expect(errors.As(err, &stateErr)).To(BeTrue())
					Expect(stateErr.Reason).To(Equal(service.ReasonAlreadyClaimed))
					rejected++
				}(i)
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			Expect(rejected).To(Equal(claimants - 1))
		})

		It("keeps the first claimant when a second worker tries", func() {
			_, err := board.CreateJob(ctx, jobForm(requesterA, "first"))
			Expect(err).To(BeNil())
			job2, err := board.CreateJob(ctx, jobForm(requesterA, "second"))
			Expect(err).To(BeNil())

			_, err = board.ClaimJob(ctx, job2.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			_, err = board.ClaimJob(ctx, job2.ID, workerC.ID, workerC.DisplayName)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidState{}))

			got, err := board.GetJob(ctx, service.JobByNumber(job2.SequenceNumber))
			Expect(err).To(BeNil())
			id, _ := got.Claimant()
			Expect(id).To(Equal("b"))
		})

		It("allows the requester to claim their own job", func() {
			job, err := board.CreateJob(ctx, jobForm(workerB, "self service"))
			Expect(err).To(BeNil())

			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())
			Expect(gw.Participants(handle)).To(ConsistOf("b"))
		})

		It("reports a missing job", func() {
			_, err := board.ClaimJob(ctx, uuid.NewString(), workerB.ID, workerB.DisplayName)
			var notFound *service.ErrJobNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Completed).To(BeFalse())
		})

		It("reports a completed job as completed", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "done already"))
			Expect(err).To(BeNil())
			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())
			_, err = board.CompleteJob(ctx, job.ID, requesterA, 0)
			Expect(err).To(BeNil())

			_, err = board.ClaimJob(ctx, job.ID, workerC.ID, workerC.DisplayName)
			var notFound *service.ErrJobNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Completed).To(BeTrue())
		})

		It("gives the claim back when the channel cannot be created", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "no channel"))
			Expect(err).To(BeNil())

			gw.SetCreateError(errors.New("discord is down"))
			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrGateway{}))

			got, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusOpen))
			Expect(got.ClaimantID).To(BeNil())

			gw.SetCreateError(nil)
			_, err = board.ClaimJob(ctx, job.ID, workerC.ID, workerC.DisplayName)
			Expect(err).To(BeNil())
		})
	})

	Context("cancel", func() {
		It("reopens the job and lets another worker claim it", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "flaky"))
			Expect(err).To(BeNil())
			first, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			Expect(board.CancelJob(ctx, job.ID, workerB)).To(BeNil())

			reopened, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(reopened.Status).To(Equal(model.JobStatusOpen))
			Expect(reopened.ClaimantID).To(BeNil())
			Expect(reopened.ClaimantDisplayName).To(BeNil())
			Expect(reopened.PrivateChannelID).To(BeNil())

			second, err := board.ClaimJob(ctx, job.ID, workerC.ID, workerC.DisplayName)
			Expect(err).To(BeNil())
			Expect(second).NotTo(Equal(first))

			reclaimed, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			id, name := reclaimed.Claimant()
			Expect(id).To(Equal("c"))
			Expect(name).To(Equal("Carol"))

			Expect(gw.Messages(first)).To(ConsistOf(ContainSubstring("Bob cancelled job **#%d**", job.SequenceNumber)))
			Expect(gw.Messages(second)).To(BeEmpty())

			// only the channel of the cancelled claim goes away
			Eventually(gw.Deleted).Should(ConsistOf(first))
			Consistently(gw.Deleted, 100*time.Millisecond).ShouldNot(ContainElement(second))
		})

		It("lets the requester cancel", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "requester cancels"))
			Expect(err).To(BeNil())
			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			Expect(board.CancelJob(ctx, job.ID, requesterA)).To(BeNil())
		})

		It("still cancels when the notice cannot be posted", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "quiet"))
			Expect(err).To(BeNil())
			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			gw.SetSendError(errors.New("missing access"))
			Expect(board.CancelJob(ctx, job.ID, workerB)).To(BeNil())

			got, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusOpen))
			Expect(gw.Messages(handle)).To(BeEmpty())
			Eventually(gw.Deleted).Should(ConsistOf(handle))
		})

		It("rejects strangers, open jobs and missing jobs", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "guarded"))
			Expect(err).To(BeNil())

			err = board.CancelJob(ctx, job.ID, requesterA)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidState{}))

			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			err = board.CancelJob(ctx, job.ID, stranger)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))

			err = board.CancelJob(ctx, uuid.NewString(), requesterA)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))

			got, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusClaimed))
		})
	})

	Context("complete", func() {
		It("moves the job to the ledger and credits the claimant", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "Fix fence"))
			Expect(err).To(BeNil())
			Expect(job.SequenceNumber).To(BeNumerically("==", 1))
			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			record, err := board.CompleteJob(ctx, job.ID, requesterA, 5)
			Expect(err).To(BeNil())
			Expect(record.RewardPoints).To(BeNumerically("==", 5))
			Expect(record.ClaimantID).To(Equal("b"))
			Expect(record.CompleterID).To(Equal("a"))
			Expect(record.RewardDescription).To(Equal("none"))

			records, err := s.Ledger().List(ctx, store.NewCompletionQueryFilter().ByJobID(job.ID), nil)
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(1))
			Expect(records[0].SequenceNumber).To(BeNumerically("==", 1))

			stats, err := s.WorkerStats().Get(ctx, "b")
			Expect(err).To(BeNil())
			Expect(stats.TotalPoints).To(BeNumerically("==", 5))
			Expect(stats.TotalCompleted).To(BeNumerically("==", 1))

			jobs, err := board.ListActiveJobs(ctx)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())

			Expect(notifier.Kinds()).To(ContainElement(events.StatsMessageKind))
			Expect(gw.Messages(handle)).To(ConsistOf(And(
				ContainSubstring("Job **#1** was completed by Alice"),
				ContainSubstring("5 points to Bob"),
			)))
			Eventually(gw.Deleted).Should(ContainElement(handle))
		})

		It("accumulates the stats of a worker", func() {
			for i := 0; i < 3; i++ {
				job, err := board.CreateJob(ctx, jobForm(requesterA, fmt.Sprintf("job %d", i)))
				Expect(err).To(BeNil())
				_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
				Expect(err).To(BeNil())
				_, err = board.CompleteJob(ctx, job.ID, requesterA, int64(i+1))
				Expect(err).To(BeNil())
			}

			stats, err := s.WorkerStats().Get(ctx, "b")
			Expect(err).To(BeNil())
			Expect(stats.TotalCompleted).To(BeNumerically("==", 3))
			Expect(stats.TotalPoints).To(BeNumerically("==", 6))
		})

		It("rejects a negative reward and an unauthorized completer", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "picky"))
			Expect(err).To(BeNil())

			_, err = board.CompleteJob(ctx, job.ID, requesterA, 1)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidState{}))

			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			_, err = board.CompleteJob(ctx, job.ID, requesterA, -1)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))

			_, err = board.CompleteJob(ctx, job.ID, workerB, 1)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))

			_, err = board.CompleteJob(ctx, uuid.NewString(), requesterA, 1)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))

			count, err := s.Ledger().Count(ctx, nil)
			Expect(err).To(BeNil())
			Expect(count).To(BeNumerically("==", 0))
		})

		It("follows the claimant completion policy", func() {
			policy := newPolicy()
			policy.Completion = service.CompleteByClaimant
			claimantBoard := service.NewJobBoard(s, gw, policy, teardown, notifier, fastBoardConfig())

			job, err := claimantBoard.CreateJob(ctx, jobForm(requesterA, "claimant completes"))
			Expect(err).To(BeNil())
			_, err = claimantBoard.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			_, err = claimantBoard.CompleteJob(ctx, job.ID, requesterA, 0)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))

			_, err = claimantBoard.CompleteJob(ctx, job.ID, workerB, 0)
			Expect(err).To(BeNil())
		})

		It("changes nothing when the ledger write fails", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "doomed"))
			Expect(err).To(BeNil())
			_, err = board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			// a ledger row for the same job makes the append fail
			tx := gormdb.Exec(fmt.Sprintf(insertCompletionStm, job.ID, job.SequenceNumber, "b", "Bob", 0, time.Now().UTC().Format(time.RFC3339)))
			Expect(tx.Error).To(BeNil())

			_, err = board.CompleteJob(ctx, job.ID, requesterA, 7)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrStorage{}))
			Expect(errors.Is(err, store.ErrDuplicateKey)).To(BeTrue())

			got, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusClaimed))

			_, err = s.WorkerStats().Get(ctx, "b")
			Expect(errors.Is(err, store.ErrRecordNotFound)).To(BeTrue())

			count, err := s.Ledger().Count(ctx, nil)
			Expect(err).To(BeNil())
			Expect(count).To(BeNumerically("==", 1))
		})
	})

	Context("force close", func() {
		It("releases the job and tears down the channel", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "stuck"))
			Expect(err).To(BeNil())
			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			err = board.ForceClose(ctx, job.ID, handle, adminActor)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))

			Expect(board.ForceClose(ctx, job.ID, handle, superAdmin)).To(BeNil())

			got, err := board.GetJob(ctx, service.JobByID(job.ID))
			Expect(err).To(BeNil())
			Expect(got.Status).To(Equal(model.JobStatusOpen))
			Expect(gw.Messages(handle)).To(ConsistOf(ContainSubstring("force closed")))
			Eventually(gw.Deleted).Should(ConsistOf(handle))
		})

		It("still closes the channel of a job that is gone", func() {
			channel, err := gw.CreatePrivateChannel(ctx, "orphan", []string{"a", "b"})
			Expect(err).To(BeNil())

			Expect(board.ForceClose(ctx, uuid.NewString(), channel, superAdmin)).To(BeNil())
			Eventually(gw.Deleted).Should(ConsistOf(channel))

			err = board.ForceClose(ctx, uuid.NewString(), "", superAdmin)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))
		})
	})

	Context("delete", func() {
		It("hard deletes a claimed job and returns its channel", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "unwanted"))
			Expect(err).To(BeNil())
			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())

			_, err = board.DeleteJob(ctx, service.JobByNumber(job.SequenceNumber), workerB)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))

			deleted, err := board.DeleteJob(ctx, service.JobByNumber(job.SequenceNumber), adminActor)
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(handle))

			jobs, err := board.ListActiveJobs(ctx)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())

			count, err := s.Ledger().Count(ctx, nil)
			Expect(err).To(BeNil())
			Expect(count).To(BeNumerically("==", 0))

			Eventually(gw.Deleted).Should(ConsistOf(handle))
		})

		It("deletes an open job by id and reports unknown numbers", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "open one"))
			Expect(err).To(BeNil())

			handle, err := board.DeleteJob(ctx, service.JobByID(job.ID), superAdmin)
			Expect(err).To(BeNil())
			Expect(handle.IsZero()).To(BeTrue())

			_, err = board.DeleteJob(ctx, service.JobByNumber(999), adminActor)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrJobNotFound{}))

			_, err = board.DeleteJob(ctx, service.JobRef{}, adminActor)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrInvalidInput{}))
		})
	})

	Context("rankings", func() {
		It("only ranks eligible workers", func() {
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "b", "Bob", 1, 5)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "c", "Carol", 4, 3)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "d", "Dave", 9, 10)).Error).To(BeNil())

			rankings, err := board.WorkerRankings(ctx, []string{"b", "c", "b"}, service.ScoreByPoints)
			Expect(err).To(BeNil())
			Expect(rankings).To(HaveLen(2))
			Expect(rankings[0].WorkerID).To(Equal("b"))
			Expect(rankings[0].Score).To(BeNumerically("==", 5))
			Expect(rankings[1].WorkerID).To(Equal("c"))

			rankings, err = board.WorkerRankings(ctx, []string{"b", "c"}, service.ScoreByCount)
			Expect(err).To(BeNil())
			Expect(rankings[0].WorkerID).To(Equal("c"))

			rankings, err = board.WorkerRankings(ctx, nil, service.ScoreByPoints)
			Expect(err).To(BeNil())
			Expect(rankings).To(BeEmpty())
		})

		It("breaks ties by name", func() {
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "z", "Zed", 2, 2)).Error).To(BeNil())
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "y", "amy", 2, 2)).Error).To(BeNil())

			rankings, err := board.WorkerRankings(ctx, []string{"z", "y"}, service.ScoreByPoints)
			Expect(err).To(BeNil())
			Expect(rankings[0].DisplayName).To(Equal("amy"))
			Expect(rankings[1].DisplayName).To(Equal("Zed"))
		})

		It("lists the latest completions of current workers", func() {
			now := time.Now().UTC()
			for i, claimant := range []string{"b", "c", "b"} {
				at := now.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
				Expect(gormdb.Exec(fmt.Sprintf(insertCompletionStm, uuid.NewString(), i+1, claimant, claimant, 1, at)).Error).To(BeNil())
			}

			records, err := board.RecentCompletions(ctx, nil, 2)
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(2))
			Expect(records[0].SequenceNumber).To(BeNumerically("==", 3))

			records, err = board.RecentCompletions(ctx, []string{"c"}, 5)
			Expect(err).To(BeNil())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ClaimantID).To(Equal("c"))
		})

		It("syncs the current workers into the stats", func() {
			Expect(gormdb.Exec(fmt.Sprintf(insertWorkerStatsStm, "b", "Old Bob", 2, 7)).Error).To(BeNil())

			err := board.SyncWorkers(ctx, []gateway.Member{{ID: "b", DisplayName: "Bob"}, {ID: "c", DisplayName: "Carol"}, {ID: "c", DisplayName: "Carol"}})
			Expect(err).To(BeNil())

			stats, err := s.WorkerStats().List(ctx, nil)
			Expect(err).To(BeNil())
			Expect(stats).To(HaveLen(2))

			bob, err := s.WorkerStats().Get(ctx, "b")
			Expect(err).To(BeNil())
			Expect(bob.DisplayName).To(Equal("Bob"))
			Expect(bob.TotalPoints).To(BeNumerically("==", 7))

			carol, err := s.WorkerStats().Get(ctx, "c")
			Expect(err).To(BeNil())
			Expect(carol.TotalCompleted).To(BeNumerically("==", 0))
		})
	})

	Context("reset", func() {
		It("wipes the board but keeps counting job numbers", func() {
			job, err := board.CreateJob(ctx, jobForm(requesterA, "before reset"))
			Expect(err).To(BeNil())
			handle, err := board.ClaimJob(ctx, job.ID, workerB.ID, workerB.DisplayName)
			Expect(err).To(BeNil())
			done, err := board.CreateJob(ctx, jobForm(requesterA, "completed before reset"))
			Expect(err).To(BeNil())
			_, err = board.ClaimJob(ctx, done.ID, workerC.ID, workerC.DisplayName)
			Expect(err).To(BeNil())
			_, err = board.CompleteJob(ctx, done.ID, requesterA, 3)
			Expect(err).To(BeNil())

			Expect(board.Reset(ctx, workerB)).To(BeAssignableToTypeOf(&service.ErrNotAuthorized{}))
			Expect(board.Reset(ctx, adminActor)).To(BeNil())

			jobs, err := board.ListActiveJobs(ctx)
			Expect(err).To(BeNil())
			Expect(jobs).To(BeEmpty())
			count, err := s.Ledger().Count(ctx, nil)
			Expect(err).To(BeNil())
			Expect(count).To(BeNumerically("==", 0))
			stats, err := s.WorkerStats().List(ctx, nil)
			Expect(err).To(BeNil())
			Expect(stats).To(BeEmpty())
			Eventually(gw.Deleted).Should(ContainElement(handle))

			next, err := board.CreateJob(ctx, jobForm(requesterA, "after reset"))
			Expect(err).To(BeNil())
			Expect(next.SequenceNumber).To(BeNumerically(">", done.SequenceNumber))
		})
	})

	Context("stats refresher", func() {
		It("syncs the worker role into the stats", func() {
			gw.SetRoleMembers("worker", gateway.Member{ID: "b", DisplayName: "Bob"}, gateway.Member{ID: "c", DisplayName: "Carol"})
			refresher := service.NewStatsRefresher(board, gw, "worker", time.Hour)

			refresher.Refresh(ctx)

			stats, err := s.WorkerStats().List(ctx, nil)
			Expect(err).To(BeNil())
			Expect(stats).To(HaveLen(2))
			Expect(notifier.Kinds()).To(ConsistOf(events.StatsMessageKind))
		})

		It("remembers who held the worker role at the last refresh", func() {
			gw.SetRoleMembers("worker", gateway.Member{ID: "b", DisplayName: "Bob"})
			refresher := service.NewStatsRefresher(board, gw, "worker", time.Hour)
			Expect(refresher.KnowsWorker("b")).To(BeFalse())

			refresher.Refresh(ctx)
			Expect(refresher.KnowsWorker("b")).To(BeTrue())
			Expect(refresher.KnowsWorker("c")).To(BeFalse())

			gw.SetRoleMembers("worker", gateway.Member{ID: "c", DisplayName: "Carol"})
			refresher.Refresh(ctx)
			Expect(refresher.KnowsWorker("b")).To(BeFalse())
			Expect(refresher.KnowsWorker("c")).To(BeTrue())
		})

		It("refreshes until the context is done", func() {
			refresher := service.NewStatsRefresher(board, gw, "", time.Hour)
			runCtx, cancel := context.WithCancel(ctx)

			done := make(chan struct{})
			go func() {
				defer close(done)
				refresher.Run(runCtx)
			}()

			Eventually(notifier.Kinds).Should(ContainElement(events.StatsMessageKind))
			cancel()
			Eventually(done).Should(BeClosed())
		})
	})
})
