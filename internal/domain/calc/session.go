package calc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/ehr/mmecalc/internal/domain/mme"
	"github.com/ehr/mmecalc/internal/domain/patient"
	"github.com/ehr/mmecalc/internal/platform/telemetry"
)

var (
	ErrBatchClosed = errors.New("batch already committed or discarded")
	ErrDoseIndex   = errors.New("dose index out of range")
)

// Pass triggers, recorded on every published snapshot.
const (
	TriggerInit     = "init"
	TriggerDoses    = "doses"
	TriggerPatient  = "patient"
	TriggerSettings = "settings"
	TriggerBatch    = "batch"
)

// Listener receives each published snapshot. Listeners run on the writer's
// goroutine while the session write lock is held, so they must not call back
// into the session's setters.
type Listener func(*Snapshot)

// Recorder receives per-pass metrics. *telemetry.Provider satisfies it.
type Recorder interface {
	RecordPass(telemetry.Pass)
	SetListeners(n int)
}

// Session owns the current State and republishes a Snapshot on every change.
// Writers are serialized; readers call Snapshot and never block.
type Session struct {
	calc    *Calculator
	metrics Recorder
	logger  zerolog.Logger

	mu        sync.Mutex
	state     State
	revision  uint64
	listeners []Listener

	current atomic.Pointer[Snapshot]
}

// NewSession creates a session and runs the initial pass. metrics may be nil.
func NewSession(c *Calculator, initial State, metrics Recorder, logger zerolog.Logger) *Session {
	s := &Session{
		calc:    c,
		metrics: metrics,
		logger:  logger.With().Str("component", "calc-session").Logger(),
		state:   initial.clone(),
	}
	s.mu.Lock()
	s.recalculate(TriggerInit)
	s.mu.Unlock()
	return s
}

// Snapshot returns the last published pass.
func (s *Session) Snapshot() *Snapshot {
	return s.current.Load()
}

// State returns a copy of the current inputs.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// OnChange registers l for every subsequent snapshot.
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	if s.metrics != nil {
		s.metrics.SetListeners(len(s.listeners))
	}
}

// -- Single-field setters: each one runs exactly one pass --

// SetDoses replaces the dose list.
func (s *Session) SetDoses(doses []mme.DoseInput) *Snapshot {
	return s.apply(TriggerDoses, func(st *State) { st.Doses = append([]mme.DoseInput(nil), doses...) })
}

// SetDose replaces one dose row.
func (s *Session) SetDose(i int, in mme.DoseInput) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.state.Doses) {
		return nil, ErrDoseIndex
	}
	s.state.Doses[i] = in
	return s.recalculate(TriggerDoses), nil
}

// SetPatient replaces the patient context.
func (s *Session) SetPatient(p patient.Context) *Snapshot {
	return s.apply(TriggerPatient, func(st *State) { st.Patient = p })
}

// UpdatePatient edits the patient context in place, e.g. a single field.
func (s *Session) UpdatePatient(fn func(*patient.Context)) *Snapshot {
	return s.apply(TriggerPatient, func(st *State) { fn(&st.Patient) })
}

// SetSettings replaces the clinician settings.
func (s *Session) SetSettings(set Settings) *Snapshot {
	return s.apply(TriggerSettings, func(st *State) { st.Settings = set })
}

func (s *Session) apply(trigger string, mutate func(*State)) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.state)
	return s.recalculate(trigger)
}

// recalculate runs a pass over the current state and publishes it. Callers
// hold s.mu.
func (s *Session) recalculate(trigger string) *Snapshot {
	snap := s.calc.Calculate(s.state)
	s.revision++
	snap.Revision = s.revision
	s.current.Store(snap)

	if s.metrics != nil {
		s.metrics.RecordPass(telemetry.Pass{
			Trigger:      trigger,
			Revision:     snap.Revision,
			Duration:     snap.Elapsed,
			Exclusions:   snap.MME.Exclusions,
			LookupMisses: snap.MME.LookupMisses,
			Undetermined: snap.MME.Undetermined,
		})
	}
	s.logger.Debug().
		Str("trigger", trigger).
		Uint64("revision", snap.Revision).
		Str("pass_id", snap.PassID.String()).
		Msg("snapshot published")

	for _, l := range s.listeners {
		l(snap)
	}
	return snap
}

// -- Batch scope --

// Batch stages several mutations and applies them with a single pass on
// Commit. A batch is single-use.
type Batch struct {
	session *Session
	ops     []func(*State)
	closed  bool
}

// Begin opens a batch. Nothing is recalculated until Commit.
func (s *Session) Begin() *Batch {
	return &Batch{session: s}
}

// SetDoses stages a dose list replacement.
func (b *Batch) SetDoses(doses []mme.DoseInput) *Batch {
	doses = append([]mme.DoseInput(nil), doses...)
	return b.stage(func(st *State) { st.Doses = doses })
}

// AddDose stages an appended dose row.
func (b *Batch) AddDose(in mme.DoseInput) *Batch {
	return b.stage(func(st *State) { st.Doses = append(st.Doses, in) })
}

// SetPatient stages a patient context replacement.
func (b *Batch) SetPatient(p patient.Context) *Batch {
	return b.stage(func(st *State) { st.Patient = p })
}

// UpdatePatient stages an in-place patient edit.
func (b *Batch) UpdatePatient(fn func(*patient.Context)) *Batch {
	return b.stage(func(st *State) { fn(&st.Patient) })
}

// SetSettings stages a settings replacement.
func (b *Batch) SetSettings(set Settings) *Batch {
	return b.stage(func(st *State) { st.Settings = set })
}

func (b *Batch) stage(op func(*State)) *Batch {
	if !b.closed {
		b.ops = append(b.ops, op)
	}
	return b
}

// Commit applies the staged mutations to a private copy of the session state,
// swaps it in, and runs exactly one pass. An empty batch still publishes.
func (b *Batch) Commit() (*Snapshot, error) {
	if b.closed {
		return nil, ErrBatchClosed
	}
	b.closed = true

	s := b.session
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	for _, op := range b.ops {
		op(&next)
	}
	s.state = next
	return s.recalculate(TriggerBatch), nil
}

// Discard drops the staged mutations.
func (b *Batch) Discard() {
	b.closed = true
	b.ops = nil
}
