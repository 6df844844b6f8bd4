// Package botgate drives a freshly loaded event page past loading screens,
// challenges, block pages and consent banners until it shows real content or
// gives up.
package botgate

import (
	"context"
	"fmt"
	"strings"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/components/telemetry"
	"ticketwatch/internal/models"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/botgate")

type State string

const (
	Loading          State = "loading"
	CaptchaChallenge State = "captcha_challenge"
	Blocked          State = "blocked"
	ConsentModal     State = "consent_modal"
	Validate         State = "validate"
	RecoverReload    State = "recover_reload"
	RecoverCaptcha   State = "recover_captcha"
	Ready            State = "ready"
	Failed           State = "failed"
)

func (s State) Terminal() bool {
	return s == Ready || s == Failed
}

// Markers describe how each adversarial state shows up in the document.
type Markers struct {
	// Loading matches the loading indicator.
	Loading string
	// Captcha matches the checkbox style challenge control.
	Captcha string
	// BlockText is the text shown on the block page.
	BlockText string
	// Consent matches the accept button of the consent banner.
	Consent string
	// BotPhrases are texts that only show up on bot verification pages.
	BotPhrases []string
}

func DefaultMarkers() Markers {
	return Markers{
		Loading:   `#loading, .loading-spinner, [data-testid="loading"]`,
		Captcha:   `#px-captcha, .cf-turnstile input[type="checkbox"], iframe[title*="challenge"]`,
		BlockText: "Access to this page has been denied",
		Consent:   `#onetrust-accept-btn-handler`,
		BotPhrases: []string{
			"verify you are a human",
			"press & hold",
			"are you a robot",
			"checking your browser",
		},
	}
}

type Options struct {
	// MaxAttempts caps the loading / challenge / block cycle.
	MaxAttempts int
	// LoadingTimeout bounds the wait for the loading indicator to go away.
	LoadingTimeout time.Duration
	// HumanPause is the pause after the page stops loading.
	HumanPause time.Duration
	// ActionPause is the pause after a click or a reload.
	ActionPause time.Duration
	// ProbeTimeout bounds the wait for the challenge control to show up.
	ProbeTimeout time.Duration
	// ConsentTimeout bounds the wait for the consent banner.
	ConsentTimeout time.Duration
	// ClickTimeout bounds a single click.
	ClickTimeout time.Duration
	Markers      Markers
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    3,
		LoadingTimeout: 30 * time.Second,
		HumanPause:     2 * time.Second,
		ActionPause:    3 * time.Second,
		ProbeTimeout:   2 * time.Second,
		ConsentTimeout: 5 * time.Second,
		ClickTimeout:   10 * time.Second,
		Markers:        DefaultMarkers(),
	}
}

// Outcome is where a gate run ended.
type Outcome struct {
	State State
	// Attempts is the number of loading / challenge / block iterations.
	Attempts int
	// Reason and Kind are only set when State is Failed.
	Reason string
	Kind   models.FailureKind
}

func (o Outcome) Passed() bool {
	return o.State == Ready
}

// run is the mutable state of one pass through the gate.
type run struct {
	page    browser.Page
	eventID string
	capt    browser.Capturer

	attempts         int
	reloadRecovered  bool
	captchaRecovered bool
	reason           string
	kind             models.FailureKind
}

func (r *run) fail(kind models.FailureKind, reason string) State {
	r.kind = kind
	r.reason = reason
	return Failed
}

type step func(ctx context.Context, r *run) (State, error)

// Sequencer is the gate state machine. Every non terminal state has exactly
// one step in the transition table, a step performs the remediation for its
// state and names the next one.
type Sequencer struct {
	opts  Options
	tel   telemetry.API
	table map[State]step
}

func NewSequencer(opts Options, tel telemetry.API) *Sequencer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	s := &Sequencer{
		opts: opts,
		tel:  telemetry.NewScopedAPI("botgate", tel),
	}
	s.table = map[State]step{
		Loading:          s.loading,
		CaptchaChallenge: s.captcha,
		Blocked:          s.blocked,
		ConsentModal:     s.consent,
		Validate:         s.validate,
		RecoverReload:    s.recoverReload,
		RecoverCaptcha:   s.recoverCaptcha,
	}
	return s
}

// maxSteps bounds a run even if the table were to contain a cycle. Each
// gate iteration takes two steps, the rest of the states run at most once.
func (s *Sequencer) maxSteps() int {
	return 2*s.opts.MaxAttempts + len(s.table) + 2
}

// Run drives page until it is Ready or Failed. A Failed outcome is not an
// error, err is only set when ctx ends first.
func (s *Sequencer) Run(ctx context.Context, page browser.Page, eventID string, capt browser.Capturer) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.String("event_id", eventID))

	r := &run{page: page, eventID: eventID, capt: capt}
	state := Loading
	for i := 0; !state.Terminal(); i++ {
		if i >= s.maxSteps() {
			state = r.fail(models.FailureBotGate, "gate did not settle")
			break
		}

		next, err := s.table[state](ctx, r)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "gate interrupted")
			return Outcome{State: state, Attempts: r.attempts}, err
		}
		s.tel.ReportDebug("transition", "event_id", eventID, "from", state, "to", next)
		state = next
	}

	out := Outcome{State: state, Attempts: r.attempts}
	if state == Failed {
		out.Reason = r.reason
		out.Kind = r.kind
		span.SetStatus(codes.Error, r.reason)
		s.tel.ReportWarning("sequencer.run", eventID, r.reason)
	}
	span.SetAttributes(
		attribute.String("state", string(state)),
		attribute.Int("attempts", r.attempts),
	)
	return out, nil
}

// settle waits for the loading indicator to disappear.
func (s *Sequencer) settle(ctx context.Context, r *run) error {
	err := r.page.WaitGone(ctx, s.opts.Markers.Loading, s.opts.LoadingTimeout)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		s.tel.ReportWarning("sequencer.settle", err)
	}
	return nil
}

func (s *Sequencer) present(ctx context.Context, r *run, selector string, timeout time.Duration) (bool, error) {
	if selector == "" {
		return false, nil
	}
	found, err := r.page.Exists(ctx, selector, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.tel.ReportWarning("sequencer.present", err, selector)
		return false, nil
	}
	return found, nil
}

func (s *Sequencer) click(ctx context.Context, r *run, selector string) error {
	clickCtx, cancel := context.WithTimeout(ctx, s.opts.ClickTimeout)
	err := r.page.Click(clickCtx, selector)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.tel.ReportWarning("sequencer.click", err, selector)
	}
	return chrono.Sleep(ctx, s.opts.ActionPause)
}

func (s *Sequencer) reload(ctx context.Context, r *run) error {
	err := r.page.Reload(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.tel.ReportWarning("sequencer.reload", err)
	}
	return chrono.Sleep(ctx, s.opts.ActionPause)
}

func (s *Sequencer) text(ctx context.Context, r *run) (string, error) {
	text, err := r.page.Text(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.tel.ReportWarning("sequencer.text", err)
		return "", nil
	}
	return text, nil
}

func (s *Sequencer) loading(ctx context.Context, r *run) (State, error) {
	if r.attempts >= s.opts.MaxAttempts {
		return r.fail(
			models.FailureBotGate,
			fmt.Sprintf("challenge or block persisted after %d attempts", r.attempts),
		), nil
	}
	r.attempts++

	err := s.settle(ctx, r)
	if err != nil {
		return Loading, err
	}
	err = chrono.Sleep(ctx, s.opts.HumanPause)
	if err != nil {
		return Loading, err
	}
	r.capt.Capture(ctx, r.page, fmt.Sprintf("gate-attempt-%d", r.attempts))

	captcha, err := s.present(ctx, r, s.opts.Markers.Captcha, s.opts.ProbeTimeout)
	if err != nil {
		return Loading, err
	}
	if captcha {
		return CaptchaChallenge, nil
	}

	text, err := s.text(ctx, r)
	if err != nil {
		return Loading, err
	}
	if s.opts.Markers.BlockText != "" && containsFold(text, s.opts.Markers.BlockText) {
		return Blocked, nil
	}
	return ConsentModal, nil
}

func (s *Sequencer) captcha(ctx context.Context, r *run) (State, error) {
	err := s.click(ctx, r, s.opts.Markers.Captcha)
	if err != nil {
		return CaptchaChallenge, err
	}
	return Loading, nil
}

func (s *Sequencer) blocked(ctx context.Context, r *run) (State, error) {
	err := s.reload(ctx, r)
	if err != nil {
		return Blocked, err
	}
	return Loading, nil
}

func (s *Sequencer) consent(ctx context.Context, r *run) (State, error) {
	found, err := s.present(ctx, r, s.opts.Markers.Consent, s.opts.ConsentTimeout)
	if err != nil {
		return ConsentModal, err
	}
	if found {
		err = s.click(ctx, r, s.opts.Markers.Consent)
		if err != nil {
			return ConsentModal, err
		}
		err = s.settle(ctx, r)
		if err != nil {
			return ConsentModal, err
		}
	}
	return Validate, nil
}

// check reports why the page is not showing the event, or "" if it is.
func (s *Sequencer) check(ctx context.Context, r *run) (string, error) {
	loc, err := r.page.Location(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("could not read page location: %v", err), nil
	}
	if !strings.Contains(loc, r.eventID) {
		return fmt.Sprintf("page left the event, now at %s", loc), nil
	}

	text, err := s.text(ctx, r)
	if err != nil {
		return "", err
	}
	for _, phrase := range s.opts.Markers.BotPhrases {
		if containsFold(text, phrase) {
			return fmt.Sprintf("bot verification page detected (%q)", phrase), nil
		}
	}
	return "", nil
}

func (s *Sequencer) validate(ctx context.Context, r *run) (State, error) {
	reason, err := s.check(ctx, r)
	if err != nil {
		return Validate, err
	}
	if reason == "" {
		return Ready, nil
	}

	r.capt.Capture(ctx, r.page, "gate-validation-failed")
	switch {
	case !r.reloadRecovered:
		return RecoverReload, nil
	case !r.captchaRecovered:
		return RecoverCaptcha, nil
	default:
		return r.fail(models.FailureValidation, reason), nil
	}
}

func (s *Sequencer) recoverReload(ctx context.Context, r *run) (State, error) {
	r.reloadRecovered = true
	err := s.reload(ctx, r)
	if err != nil {
		return RecoverReload, err
	}
	err = s.settle(ctx, r)
	if err != nil {
		return RecoverReload, err
	}
	return Validate, nil
}

func (s *Sequencer) recoverCaptcha(ctx context.Context, r *run) (State, error) {
	r.captchaRecovered = true
	found, err := s.present(ctx, r, s.opts.Markers.Captcha, s.opts.ProbeTimeout)
	if err != nil {
		return RecoverCaptcha, err
	}
	if !found {
		return Validate, nil
	}

	err = s.click(ctx, r, s.opts.Markers.Captcha)
	if err != nil {
		return RecoverCaptcha, err
	}
	err = s.settle(ctx, r)
	if err != nil {
		return RecoverCaptcha, err
	}
	return Validate, nil
}

func containsFold(text, substr string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(substr))
}
