package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/binsight/core/pkg/domain"
	"github.com/binsight/core/pkg/ratelimit/policy"
	"github.com/binsight/core/pkg/storage/structured"
)

func TestJobs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job Manager Suite")
}

var _ = Describe("Manager", func() {
	var (
		store   structured.Store
		manager *Manager
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		store, err = structured.NewSQLiteStore(":memory:")
		Expect(err).NotTo(HaveOccurred())
		Expect(structured.ApplySQLiteSchema(store)).To(Succeed())
		manager = New(store, 30*time.Second, 3, logr.Discard())
		ctx = context.Background()
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Submit", func() {
		It("creates a new queued job", func() {
			job, err := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1", Priority: 5})

			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(domain.JobQueued))
			Expect(job.Owner).To(Equal("acme"))
		})

		It("rejects a spec missing required fields", func() {
			_, err := manager.Submit(ctx, domain.JobSpec{})

			Expect(err).To(HaveOccurred())
		})

		It("returns the existing job for a repeated idempotency key", func() {
			spec := domain.JobSpec{Owner: "acme", FileRef: "sha-1", IdempotencyKey: "dup-key"}
			first, err := manager.Submit(ctx, spec)
			Expect(err).NotTo(HaveOccurred())

			second, err := manager.Submit(ctx, spec)

			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
		})

		It("rejects submission when the admission policy denies an unsupported format", func() {
			eval, err := policy.NewDefault(ctx)
			Expect(err).NotTo(HaveOccurred())
			policyManager := New(store, 30*time.Second, 3, logr.Discard(), WithAdmissionPolicy(eval))

			_, err = policyManager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1", Format: "dex"})

			Expect(err).To(HaveOccurred())
		})

		It("rejects submission once a tier's pending-job cap is reached", func() {
			eval, err := policy.NewDefault(ctx)
			Expect(err).NotTo(HaveOccurred())
			policyManager := New(store, 30*time.Second, 3, logr.Discard(), WithAdmissionPolicy(eval))

			for i := 0; i < 2; i++ {
				_, err := policyManager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1", Tier: "free", Format: "elf"})
				Expect(err).NotTo(HaveOccurred())
			}

			_, err = policyManager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1", Tier: "free", Format: "elf"})

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Claim", func() {
		It("assigns the oldest queued job to the worker", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})

			claimed, err := manager.Claim(ctx, "worker-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).NotTo(BeNil())
			Expect(claimed.ID).To(Equal(job.ID))
			Expect(claimed.Status).To(Equal(domain.JobRunning))
			Expect(claimed.WorkerID).To(Equal("worker-1"))
		})

		It("returns nil when no job is claimable", func() {
			claimed, err := manager.Claim(ctx, "worker-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeNil())
		})

		It("prefers higher priority jobs", func() {
			manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "low", Priority: 1})
			high, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "high", Priority: 9})

			claimed, err := manager.Claim(ctx, "worker-1")

			Expect(err).NotTo(HaveOccurred())
			Expect(claimed.ID).To(Equal(high.ID))
		})
	})

	Describe("Heartbeat and Complete", func() {
		It("extends the lease and then completes the job", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")

			Expect(manager.Heartbeat(ctx, job.ID, "worker-1", 0.5)).To(Succeed())
			Expect(manager.Complete(ctx, job.ID, "worker-1", "decomp-key", "transl-key")).To(Succeed())

			final, err := manager.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Status).To(Equal(domain.JobCompleted))
			Expect(final.ResultPresent).To(BeTrue())
		})

		It("is idempotent for a repeated completion with the same keys", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")
			Expect(manager.Complete(ctx, job.ID, "worker-1", "decomp-key", "transl-key")).To(Succeed())

			Expect(manager.Complete(ctx, job.ID, "worker-1", "decomp-key", "transl-key")).To(Succeed())
		})

		It("rejects a repeated completion with a different key", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")
			Expect(manager.Complete(ctx, job.ID, "worker-1", "decomp-key", "transl-key")).To(Succeed())

			err := manager.Complete(ctx, job.ID, "worker-1", "decomp-key", "different-key")

			Expect(err).To(HaveOccurred())
		})

		It("rejects completion from a worker that never held the lease", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")

			err := manager.Complete(ctx, job.ID, "worker-2", "decomp-key", "transl-key")

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Fail", func() {
		It("requeues a retryable failure under max attempts", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")

			Expect(manager.Fail(ctx, job.ID, "worker-1", &domain.JobError{Code: "engine_timeout"}, true)).To(Succeed())

			reloaded, err := manager.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(domain.JobQueued))
		})

		It("terminally fails a non-retryable error", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")

			Expect(manager.Fail(ctx, job.ID, "worker-1", &domain.JobError{Code: "validation"}, false)).To(Succeed())

			reloaded, err := manager.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(domain.JobFailed))
			Expect(reloaded.Error.Code).To(Equal("validation"))
		})

		It("rejects a fail call from a worker that never held the lease", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")

			err := manager.Fail(ctx, job.ID, "worker-2", &domain.JobError{Code: "validation"}, false)

			Expect(err).To(HaveOccurred())

			reloaded, getErr := manager.Get(ctx, job.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(domain.JobRunning))
		})
	})

	Describe("Cancel", func() {
		It("cancels a queued job", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})

			Expect(manager.Cancel(ctx, job.ID, "acme")).To(Succeed())

			reloaded, err := manager.Get(ctx, job.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(domain.JobCancelled))
		})

		It("rejects cancelling an already-completed job", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})
			manager.Claim(ctx, "worker-1")
			manager.Complete(ctx, job.ID, "worker-1", "d", "t")

			err := manager.Cancel(ctx, job.ID, "acme")

			Expect(err).To(HaveOccurred())
		})

		It("rejects cancelling a job owned by a different owner", func() {
			job, _ := manager.Submit(ctx, domain.JobSpec{Owner: "acme", FileRef: "sha-1"})

			err := manager.Cancel(ctx, job.ID, "other-owner")

			Expect(err).To(HaveOccurred())

			reloaded, getErr := manager.Get(ctx, job.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(domain.JobQueued))
		})
	})
})
