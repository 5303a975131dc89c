package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/email-verifier/internal/dnsx"
	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/infra"
	"github.com/ignite/email-verifier/internal/queue"
	"github.com/ignite/email-verifier/internal/reputation"
	"github.com/ignite/email-verifier/internal/smtpprobe"
	"github.com/ignite/email-verifier/internal/worker"
)

type fakeResolver struct {
	mu     sync.Mutex
	calls  int
	lookup func(domain string) ([]dnsx.MXRecord, error)
}

func (f *fakeResolver) LookupMX(_ context.Context, dom string) ([]dnsx.MXRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.lookup == nil {
		return []dnsx.MXRecord{{Host: "mx." + dom, Pref: 10}}, nil
	}
	return f.lookup(dom)
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeInfra struct {
	signals infra.Signals
}

func (f *fakeInfra) Probe(_ context.Context, host string) infra.Signals {
	s := f.signals
	s.Domain = host
	return s
}

type fakeFingerprint struct {
	web *domain.WebSignal
}

func (f *fakeFingerprint) Fingerprint(context.Context, string) *domain.WebSignal {
	return f.web
}

type fakeSMTP struct {
	mu     sync.Mutex
	calls  int
	result smtpprobe.Result
	err    error
}

func (f *fakeSMTP) Submit(_ context.Context, _, email, mxHost string) (smtpprobe.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return smtpprobe.Result{}, f.err
	}
	r := f.result
	r.Email = email
	r.MXHost = mxHost
	return r, nil
}

func (f *fakeSMTP) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memSink struct {
	mu       sync.Mutex
	recorded []*domain.Verification
	err      error
}

func (s *memSink) RecordResult(_ context.Context, v *domain.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, v)
	return s.err
}

func (s *memSink) last(t *testing.T) *domain.Verification {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.recorded)
	return s.recorded[len(s.recorded)-1]
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recorded)
}

type memReputation struct {
	mu       sync.Mutex
	recorded map[string][]domain.Category
	existing map[string]reputation.Reputation
}

func newMemReputation() *memReputation {
	return &memReputation{
		recorded: make(map[string][]domain.Category),
		existing: make(map[string]reputation.Reputation),
	}
}

func (m *memReputation) Record(_ context.Context, dom string, status domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded[dom] = append(m.recorded[dom], status)
	return nil
}

func (m *memReputation) Get(_ context.Context, dom string) (reputation.Reputation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep := m.existing[dom]
	rep.Domain = dom
	return rep, nil
}

type memRetries struct {
	mu        sync.Mutex
	scheduled []queue.Envelope
	err       error
}

func (m *memRetries) ScheduleRetry(_ context.Context, env queue.Envelope, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.scheduled = append(m.scheduled, env)
	return nil
}

type pipelineDeps struct {
	resolver    *fakeResolver
	infra       *fakeInfra
	fingerprint *fakeFingerprint
	smtp        *fakeSMTP
	sink        *memSink
	rep         *memReputation
	retries     *memRetries
}

func newPipeline(t *testing.T, cfg worker.PipelineConfig, mutate func(*pipelineDeps)) (*worker.Pipeline, *pipelineDeps) {
	t.Helper()
	deps := &pipelineDeps{
		resolver:    &fakeResolver{},
		infra:       &fakeInfra{signals: infra.Signals{SPF: true, DMARC: true, WebStatus: infra.WebNone}},
		fingerprint: &fakeFingerprint{},
		smtp:        &fakeSMTP{result: smtpprobe.Result{Status: smtpprobe.StatusDeliverable, Code: 250, Port: 25}},
		sink:        &memSink{},
		rep:         newMemReputation(),
		retries:     &memRetries{},
	}
	if mutate != nil {
		mutate(deps)
	}
	p := worker.NewPipeline(
		deps.resolver, deps.infra, deps.fingerprint, deps.smtp,
		deps.sink, deps.rep, deps.retries, cfg,
	)
	return p, deps
}

func TestPipelineDeliverableBusinessAddress(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, nil)

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "jane.doe@acme.io")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryDeliverable, out.Status)
	assert.False(t, out.Deferred)

	v := deps.sink.last(t)
	assert.Equal(t, "job-1", v.JobID)
	assert.Equal(t, "jane.doe@acme.io", v.Email)
	assert.Equal(t, "acme.io", v.Domain)
	assert.Equal(t, 95, v.Score)
	assert.Equal(t, "SMTP mailbox exists", v.Reason)
	assert.True(t, v.SyntaxOK)
	require.NotNil(t, v.DNS)
	assert.Equal(t, "mx.acme.io", v.DNS.Records[0].Host)
	require.NotNil(t, v.SMTP)
	assert.Equal(t, 250, v.SMTP.Code)
	require.NotNil(t, v.Infra)
	assert.True(t, v.Infra.SPF)

	assert.Equal(t, []domain.Category{domain.CategoryDeliverable}, deps.rep.recorded["acme.io"])
}

func TestPipelineInvalidSyntaxSkipsNetwork(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, nil)

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "not-an-email")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryUndeliverable, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, "Invalid syntax", v.Reason)
	assert.False(t, v.SyntaxOK)
	assert.Equal(t, 0, deps.resolver.callCount())
	assert.Equal(t, 0, deps.smtp.callCount())
	assert.Empty(t, deps.rep.recorded)
}

func TestPipelineFreeProviderHeuristic(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, nil)

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "jane.doe@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryDeliverable, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 95, v.Score)
	assert.Equal(t, "Free provider heuristic deliverable", v.Reason)
	// Free providers never reach DNS or SMTP.
	assert.Equal(t, 0, deps.resolver.callCount())
	assert.Equal(t, 0, deps.smtp.callCount())
}

func TestPipelineDisposableDomain(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, nil)

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "x@mailinator.com")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryRisky, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 40, v.Score)
	assert.Equal(t, "Disposable domain", v.Reason)
	assert.Equal(t, 0, deps.resolver.callCount())
}

func TestPipelineNoMXRecords(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, func(d *pipelineDeps) {
		d.resolver.lookup = func(string) ([]dnsx.MXRecord, error) {
			return []dnsx.MXRecord{}, nil
		}
	})

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "sales@ghost-domain.io")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryRisky, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 20, v.Score)
	assert.Equal(t, "Domain has no MX records", v.Reason)
	assert.Equal(t, 0, deps.smtp.callCount())
}

func TestPipelineMXTimeout(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, func(d *pipelineDeps) {
		d.resolver.lookup = func(dom string) ([]dnsx.MXRecord, error) {
			return nil, &dnsx.MXLookupError{Domain: dom, Timeout: true}
		}
	})

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "a@slow-dns.io")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryUnknown, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 25, v.Score)
	assert.Equal(t, "MX lookup timeout", v.Reason)
	assert.Equal(t, 0, deps.smtp.callCount())
}

func TestPipelineGreylistSchedulesRetry(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{GreylistRetries: 2}, func(d *pipelineDeps) {
		d.smtp.result = smtpprobe.Result{
			Status: smtpprobe.StatusUnknown, Code: 450, Port: 25, Greylisted: true,
		}
	})

	env := queue.Envelope{JobID: "job-1", OwnerID: "owner-1", Emails: []string{"a@grey.io", "b@grey.io"}}
	out, err := p.Verify(context.Background(), env, "a@grey.io")
	require.NoError(t, err)
	assert.True(t, out.Deferred)

	// Nothing recorded yet; the retry envelope carries only this address.
	assert.Equal(t, 0, deps.sink.count())
	require.Len(t, deps.retries.scheduled, 1)
	retry := deps.retries.scheduled[0]
	assert.Equal(t, "job-1", retry.JobID)
	assert.Equal(t, []string{"a@grey.io"}, retry.Emails)
	assert.Equal(t, 1, retry.Attempt)
}

func TestPipelineGreylistExhaustedRecordsResult(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{GreylistRetries: 2}, func(d *pipelineDeps) {
		d.smtp.result = smtpprobe.Result{
			Status: smtpprobe.StatusUnknown, Code: 450, Port: 25, Greylisted: true,
		}
	})

	env := queue.Envelope{JobID: "job-1", Emails: []string{"a@grey.io"}, Attempt: 2}
	out, err := p.Verify(context.Background(), env, "a@grey.io")
	require.NoError(t, err)
	assert.False(t, out.Deferred)
	assert.Equal(t, domain.CategoryUnknown, out.Status)

	assert.Empty(t, deps.retries.scheduled)
	v := deps.sink.last(t)
	require.NotNil(t, v.SMTP)
	assert.True(t, v.SMTP.Greylisted)
}

func TestPipelineTimeoutWithWebsitePromotes(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, func(d *pipelineDeps) {
		d.smtp.result = smtpprobe.Result{Status: smtpprobe.StatusUnknown, TimedOut: true}
		d.fingerprint.web = &domain.WebSignal{
			HasWebsite: true, HTTPS: true, Title: "Acme Corp",
			MetaDescription: "We make things", HasFavicon: true,
		}
		d.infra.signals = infra.Signals{SPF: true, DMARC: true, WebStatus: infra.WebActive, HTTPS: true}
	})

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "jdoe@filtered-corp.io")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryDeliverable, out.Status)

	v := deps.sink.last(t)
	assert.Equal(t, 90, v.Score)
	assert.Equal(t, "High probability of delivery", v.Reason)
}

func TestPipelineAttachesReputationSnapshot(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, func(d *pipelineDeps) {
		d.rep.existing["acme.io"] = reputation.Reputation{
			Total: 12, Score: 33, Trust: domain.TrustHigh,
		}
	})

	_, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "jane@acme.io")
	require.NoError(t, err)

	v := deps.sink.last(t)
	require.NotNil(t, v.Reputation)
	assert.Equal(t, 33, v.Reputation.Score)
	assert.Equal(t, domain.TrustHigh, v.Reputation.Trust)
	assert.EqualValues(t, 12, v.Reputation.Total)
}

func TestPipelinePersistFailureStillReturnsVerdict(t *testing.T) {
	p, deps := newPipeline(t, worker.PipelineConfig{}, func(d *pipelineDeps) {
		d.sink.err = errors.New("db down")
	})

	out, err := p.Verify(context.Background(), queue.Envelope{JobID: "job-1"}, "jane@acme.io")
	assert.Error(t, err)
	assert.Equal(t, domain.CategoryDeliverable, out.Status)
	assert.Equal(t, 1, deps.sink.count())
}
