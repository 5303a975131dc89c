package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ignite/email-verifier/internal/decision"
	"github.com/ignite/email-verifier/internal/dnsx"
	"github.com/ignite/email-verifier/internal/domain"
	"github.com/ignite/email-verifier/internal/infra"
	"github.com/ignite/email-verifier/internal/pkg/logger"
	"github.com/ignite/email-verifier/internal/queue"
	"github.com/ignite/email-verifier/internal/reputation"
	"github.com/ignite/email-verifier/internal/smtpprobe"
	"github.com/ignite/email-verifier/internal/verify"
)

// MXResolver resolves a domain's mail exchangers.
type MXResolver interface {
	LookupMX(ctx context.Context, domain string) ([]dnsx.MXRecord, error)
}

// InfraProber collects domain infrastructure signals.
type InfraProber interface {
	Probe(ctx context.Context, host string) infra.Signals
}

// WebFingerprinter fetches the website fingerprint for a domain.
type WebFingerprinter interface {
	Fingerprint(ctx context.Context, host string) *domain.WebSignal
}

// SMTPSubmitter hands one address to the shared SMTP dispatcher and waits
// for its probe result.
type SMTPSubmitter interface {
	Submit(ctx context.Context, dom, email, mxHost string) (smtpprobe.Result, error)
}

// ResultSink persists a finished verification and advances job progress.
type ResultSink interface {
	RecordResult(ctx context.Context, v *domain.Verification) error
}

// ReputationRecorder tracks per-domain outcome counters.
type ReputationRecorder interface {
	Record(ctx context.Context, dom string, status domain.Category) error
	Get(ctx context.Context, dom string) (reputation.Reputation, error)
}

// RetryScheduler parks a greylisted address for a later attempt.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, env queue.Envelope, at time.Time) error
}

// PipelineConfig tunes the per-address pipeline. Zero values take defaults.
type PipelineConfig struct {
	GreylistRetries int           // max retry attempts per address
	GreylistDelay   time.Duration // delay between greylist attempts
	AddressBudget   time.Duration // hard deadline per address
	SoftBudget      time.Duration // log-only threshold
}

func (c *PipelineConfig) withDefaults() {
	if c.GreylistRetries <= 0 {
		c.GreylistRetries = 2
	}
	if c.GreylistDelay <= 0 {
		c.GreylistDelay = 5 * time.Minute
	}
	if c.AddressBudget <= 0 {
		c.AddressBudget = 240 * time.Second
	}
	if c.SoftBudget <= 0 {
		c.SoftBudget = 300 * time.Second
	}
}

// Outcome summarises one pipeline run for the pool's counters. A deferred
// outcome means the address was parked for a greylist retry and nothing was
// recorded yet.
type Outcome struct {
	Status   domain.Category
	Deferred bool
}

// Pipeline runs one address through every verification stage: syntax,
// classification, MX resolution, then the infrastructure probe and the SMTP
// probe in parallel, and finally the decision ladder and persistence.
type Pipeline struct {
	resolver    MXResolver
	infra       InfraProber
	fingerprint WebFingerprinter
	smtp        SMTPSubmitter
	sink        ResultSink
	reputation  ReputationRecorder
	retries     RetryScheduler
	cfg         PipelineConfig
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(
	resolver MXResolver,
	infraProber InfraProber,
	fingerprint WebFingerprinter,
	smtp SMTPSubmitter,
	sink ResultSink,
	rep ReputationRecorder,
	retries RetryScheduler,
	cfg PipelineConfig,
) *Pipeline {
	cfg.withDefaults()
	return &Pipeline{
		resolver:    resolver,
		infra:       infraProber,
		fingerprint: fingerprint,
		smtp:        smtp,
		sink:        sink,
		reputation:  rep,
		retries:     retries,
		cfg:         cfg,
	}
}

// Verify runs the full pipeline for one address of one job envelope.
func (p *Pipeline) Verify(ctx context.Context, env queue.Envelope, email string) (Outcome, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AddressBudget)
	defer cancel()
	defer func() {
		if elapsed := time.Since(start); elapsed > p.cfg.SoftBudget {
			logger.Warn("address over soft budget",
				"email", email, "job_id", env.JobID, "elapsed", elapsed.Round(time.Second))
		}
	}()

	syn := verify.CheckSyntax(email)
	v := &domain.Verification{
		JobID:    env.JobID,
		Email:    syn.Email,
		Domain:   syn.Domain,
		SyntaxOK: syn.Valid,
	}
	in := decision.Input{SyntaxValid: syn.Valid}

	if syn.Valid {
		lp := verify.ClassifyLocalPart(syn.Local)
		di := verify.ClassifyDomain(syn.Domain)
		in.Classification = domain.Classification{
			Local:          syn.Local,
			Provider:       di.Provider,
			DomainType:     string(di.Type),
			LocalClass:     string(lp.Class),
			Strength:       string(lp.Strength),
			IsRole:         lp.IsRole,
			HasAlias:       lp.HasAlias,
			SMTPVerifiable: di.SMTPVerifiable,
			Disposable:     di.IsDisposable,
			FreeProvider:   di.IsFreeProvider,
			PrivateRelay:   di.IsPrivateRelay,
		}
		v.Classification = in.Classification

		// Free providers, disposable hosts and private relays have known
		// infrastructure; only real domains are worth network stages.
		if !di.IsDisposable && !di.IsFreeProvider && !di.IsPrivateRelay {
			deferred, err := p.networkStages(ctx, env, syn, &in, v)
			if err != nil {
				return Outcome{}, err
			}
			if deferred {
				return Outcome{Deferred: true}, nil
			}
		}
	}

	verdict := decision.Decide(in)
	v.Status = verdict.Status
	v.Score = verdict.Score
	v.Reason = verdict.Reason
	v.Quality = verdict.Quality
	v.Action = verdict.Action

	if syn.Valid {
		if rep, err := p.reputation.Get(ctx, syn.Domain); err != nil {
			log.Printf("[Pipeline] reputation read for %s: %v", syn.Domain, err)
		} else if rep.Total > 0 {
			v.Reputation = rep.Snapshot()
		}
	}

	v.CheckedAt = time.Now()
	v.DurationMS = time.Since(start).Milliseconds()

	recordErr := p.sink.RecordResult(ctx, v)
	if recordErr != nil {
		log.Printf("[Pipeline] record result for %s: %v", logger.RedactEmail(v.Email), recordErr)
	}

	if syn.Valid {
		if err := p.reputation.Record(ctx, syn.Domain, verdict.Status); err != nil {
			log.Printf("[Pipeline] reputation record for %s: %v", syn.Domain, err)
		}
	}
	return Outcome{Status: verdict.Status}, recordErr
}

// networkStages runs MX resolution and, when the domain resolved, the
// infrastructure and SMTP probes in parallel. Returns deferred=true when the
// address was parked for a greylist retry.
func (p *Pipeline) networkStages(ctx context.Context, env queue.Envelope, syn verify.Syntax, in *decision.Input, v *domain.Verification) (bool, error) {
	dnsSig := p.resolveMX(ctx, syn.Domain)
	in.DNS = dnsSig
	v.DNS = dnsSig
	if dnsSig.Timeout || dnsSig.Parked || !dnsSig.HasMX() {
		return false, nil
	}
	mxHost := dnsSig.Records[0].Host

	probeSMTP := in.Classification.SMTPVerifiable && !verify.PrivacyProtected(syn.Domain)

	var wg sync.WaitGroup
	var infraSig *domain.InfraSignal
	var smtpSig *domain.SMTPSignal
	var greylisted bool

	wg.Add(1)
	go func() {
		defer wg.Done()
		sigs := p.infra.Probe(ctx, syn.Domain)
		score, reasons := infra.Score(sigs)
		infraSig = &domain.InfraSignal{
			Score:     score,
			Reasons:   reasons,
			AgeDays:   sigs.AgeDays,
			SPF:       sigs.SPF,
			DMARC:     sigs.DMARC,
			WebStatus: string(sigs.WebStatus),
			HTTPS:     sigs.HTTPS,
			Web:       p.fingerprint.Fingerprint(ctx, syn.Domain),
		}
	}()

	if probeSMTP {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.smtp.Submit(ctx, syn.Domain, syn.Email, mxHost)
			if err != nil {
				smtpSig = &domain.SMTPSignal{
					Checked:  true,
					Status:   string(smtpprobe.StatusUnknown),
					Message:  err.Error(),
					TimedOut: errors.Is(err, context.DeadlineExceeded),
				}
				return
			}
			smtpSig = signalFromProbe(res)
			greylisted = res.Greylisted
		}()
	}
	wg.Wait()

	if greylisted && env.Attempt < p.cfg.GreylistRetries {
		retry := queue.Envelope{
			JobID:   env.JobID,
			OwnerID: env.OwnerID,
			Emails:  []string{syn.Email},
			Meta:    env.Meta,
			Attempt: env.Attempt + 1,
		}
		if err := p.retries.ScheduleRetry(ctx, retry, time.Now().Add(p.cfg.GreylistDelay)); err != nil {
			// Retry slot lost; fall through and record the inconclusive
			// result instead of losing the address entirely.
			log.Printf("[Pipeline] schedule greylist retry for %s: %v", logger.RedactEmail(syn.Email), err)
		} else {
			return true, nil
		}
	}

	in.SMTP = smtpSig
	v.SMTP = smtpSig
	in.Infra = infraSig
	v.Infra = infraSig
	return false, nil
}

func (p *Pipeline) resolveMX(ctx context.Context, dom string) *domain.DNSSignal {
	sig := &domain.DNSSignal{}
	records, err := p.resolver.LookupMX(ctx, dom)
	if err != nil {
		var mxErr *dnsx.MXLookupError
		if errors.As(err, &mxErr) {
			sig.Timeout = mxErr.Timeout
			sig.Parked = mxErr.Parked
		}
		return sig
	}
	for _, rec := range records {
		sig.Records = append(sig.Records, domain.MXHost{Host: rec.Host, Pref: rec.Pref})
	}
	sig.FallbackA = len(records) == 1 && records[0].Pref == 0 && records[0].Host == dom
	return sig
}

func signalFromProbe(r smtpprobe.Result) *domain.SMTPSignal {
	return &domain.SMTPSignal{
		Checked:    !r.Skipped,
		Status:     string(r.Status),
		CatchAll:   r.CatchAll,
		Greylisted: r.Greylisted,
		AntiSpam:   r.AntiSpam,
		TimedOut:   r.TimedOut,
		Tarpit:     r.Tarpit,
		Host:       r.MXHost,
		Port:       r.Port,
		Code:       r.Code,
		Message:    r.Message,
		ElapsedMS:  r.DurationMS,
	}
}
