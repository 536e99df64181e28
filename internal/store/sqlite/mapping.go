package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/store/model"

	"gorm.io/datatypes"
)

func toSignalModel(sig signal.Signal, now time.Time) (*model.SignalModel, error) {
	entries, err := json.Marshal(sig.Entries)
	if err != nil {
		return nil, err
	}
	tps, err := json.Marshal(sig.TakeProfits)
	if err != nil {
		return nil, err
	}
	return &model.SignalModel{
		ID:              sig.ID,
		Symbol:          sig.Symbol,
		Timeframe:       sig.Timeframe,
		SignalType:      string(sig.Type),
		Confidence:      sig.Confidence,
		EntriesJSON:     datatypes.JSON(entries),
		TakeProfitsJSON: datatypes.JSON(tps),
		StopLoss:        sig.StopLoss,
		GeneratedAt:     sig.GeneratedAt.UnixMilli(),
		ExpiresAt:       millisPtr(sig.ExpiresAt),
		OwnerID:         sig.OwnerID,
		PlanID:          sig.PlanID,
		Note:            sig.Note,
		CreatedAtUnix:   now.Unix(),
	}, nil
}

func fromSignalModel(m model.SignalModel) (signal.Signal, error) {
	sig := signal.Signal{
		ID:          m.ID,
		Symbol:      m.Symbol,
		Timeframe:   m.Timeframe,
		Type:        signal.Type(m.SignalType),
		Confidence:  m.Confidence,
		StopLoss:    m.StopLoss,
		GeneratedAt: time.UnixMilli(m.GeneratedAt).UTC(),
		ExpiresAt:   timePtr(m.ExpiresAt),
		OwnerID:     m.OwnerID,
		PlanID:      m.PlanID,
		Note:        m.Note,
	}
	if err := unmarshalJSON(m.EntriesJSON, &sig.Entries); err != nil {
		return signal.Signal{}, fmt.Errorf("signal %s entries: %w", m.ID, err)
	}
	if err := unmarshalJSON(m.TakeProfitsJSON, &sig.TakeProfits); err != nil {
		return signal.Signal{}, fmt.Errorf("signal %s take_profits: %w", m.ID, err)
	}
	return sig, nil
}

func toOutcomeModel(out outcome.Outcome, now time.Time) (*model.OutcomeModel, error) {
	filled := out.FilledEntries
	if filled == nil {
		filled = []int{}
	}
	raw, err := json.Marshal(filled)
	if err != nil {
		return nil, err
	}
	var pinned datatypes.JSON
	if out.Policy != nil {
		if pinned, err = json.Marshal(out.Policy); err != nil {
			return nil, err
		}
	}
	return &model.OutcomeModel{
		SignalID:          out.SignalID,
		State:             string(out.State),
		FilledWeight:      out.FilledWeight,
		FilledEntriesJSON: datatypes.JSON(raw),
		TargetsHit:        out.TargetsHit,
		RealizedReturn:    out.RealizedReturn,
		ExitPrice:         out.ExitPrice,
		ResolvedAt:        millisPtr(out.ResolvedAt),
		LastEvaluatedAt:   millisPtr(out.LastEvaluatedAt),
		LastClose:         out.LastClose,
		PolicyJSON:        pinned,
		Version:           out.Version,
		UpdatedAtUnix:     now.Unix(),
	}, nil
}

func fromOutcomeModel(m model.OutcomeModel) (outcome.Outcome, error) {
	state, err := outcome.ParseState(m.State)
	if err != nil {
		return outcome.Outcome{}, err
	}
	out := outcome.Outcome{
		SignalID:        m.SignalID,
		State:           state,
		FilledWeight:    m.FilledWeight,
		TargetsHit:      m.TargetsHit,
		RealizedReturn:  m.RealizedReturn,
		ExitPrice:       m.ExitPrice,
		ResolvedAt:      timePtr(m.ResolvedAt),
		LastEvaluatedAt: timePtr(m.LastEvaluatedAt),
		LastClose:       m.LastClose,
		Version:         m.Version,
	}
	if err := unmarshalJSON(m.FilledEntriesJSON, &out.FilledEntries); err != nil {
		return outcome.Outcome{}, fmt.Errorf("outcome %s filled_entries: %w", m.SignalID, err)
	}
	if len(out.FilledEntries) == 0 {
		out.FilledEntries = nil
	}
	if err := unmarshalJSON(m.PolicyJSON, &out.Policy); err != nil {
		return outcome.Outcome{}, fmt.Errorf("outcome %s policy: %w", m.SignalID, err)
	}
	return out, nil
}

func toTransitionModel(tr outcome.Transition, now time.Time) *model.TransitionModel {
	return &model.TransitionModel{
		SignalID:     tr.SignalID,
		FromState:    string(tr.From),
		ToState:      string(tr.To),
		At:           tr.At.UnixMilli(),
		Reason:       string(tr.Reason),
		FilledWeight: tr.FilledWeight,
		Price:        tr.Price,
		RecordedAt:   now.UnixMilli(),
	}
}

func fromTransitionModel(m model.TransitionModel) outcome.Transition {
	return outcome.Transition{
		SignalID:     m.SignalID,
		Seq:          m.Seq,
		From:         outcome.State(m.FromState),
		To:           outcome.State(m.ToState),
		At:           time.UnixMilli(m.At).UTC(),
		Reason:       outcome.Reason(m.Reason),
		FilledWeight: m.FilledWeight,
		Price:        m.Price,
		RecordedAt:   time.UnixMilli(m.RecordedAt).UTC(),
	}
}

func unmarshalJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func millisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
