package outcome

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"

	"github.com/BaSui01/casegate/casestore"
	"github.com/BaSui01/casegate/session"
)

// RemedialMarker appears in the note of every outcome that triggers protective action.
const RemedialMarker = "protective measures initiated"

// Entry describes what a resolution does to the record and what the subject is told.
// Message and DegradedMessage are text/template sources rendered over View.
type Entry struct {
	Status          casestore.Status
	Note            string
	Message         string
	DegradedMessage string
}

// Remedial reports whether the entry's note carries the remedial marker.
func (e Entry) Remedial() bool {
	return strings.Contains(e.Note, RemedialMarker)
}

// View is the data visible to outcome templates.
type View struct {
	Identity string
	Fields   map[string]string
}

type compiled struct {
	entry    Entry
	message  *template.Template
	degraded *template.Template
}

// Table maps a resolution to its entry. It is immutable after construction.
type Table struct {
	entries map[session.Resolution]compiled
}

// DefaultEntries returns the suspicious-transaction outcomes.
func DefaultEntries() map[session.Resolution]Entry {
	return map[session.Resolution]Entry{
		session.ResolutionConfirmed: {
			Status:          casestore.StatusResolvedSafe,
			Note:            "subject confirmed the action as legitimate",
			Message:         "Perfect! I've updated your account to show this transaction is legitimate. No further action is needed. Thank you for your time.",
			DegradedMessage: "I've noted that you confirmed the transaction, though there was a technical issue updating our records. Your account is safe.",
		},
		session.ResolutionDenied: {
			Status:          casestore.StatusResolvedAdverse,
			Note:            "subject denied the action; " + RemedialMarker,
			Message:         "I understand this transaction is fraudulent. I've immediately blocked your card ending in {{.Fields.card_ending}} and initiated a dispute. You'll receive a new card within 3-5 business days. Is there anything else I can help you with regarding this matter?",
			DegradedMessage: "I've noted this as a fraudulent transaction. Your card will be blocked shortly and a dispute will be initiated.",
		},
	}
}

// DefaultTable returns the table built from DefaultEntries.
func DefaultTable() *Table {
	t, err := NewTable(DefaultEntries())
	if err != nil {
		panic(fmt.Sprintf("outcome: default table is invalid: %v", err))
	}
	return t
}

// NewTable validates and compiles entries. Every entry must map to a terminal status.
func NewTable(entries map[session.Resolution]Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("outcome table is empty")
	}
	t := &Table{entries: make(map[session.Resolution]compiled, len(entries))}
	for r, e := range entries {
		if r == session.ResolutionUnset {
			return nil, fmt.Errorf("outcome table: unset resolution cannot have an entry")
		}
		if !e.Status.IsTerminal() {
			return nil, fmt.Errorf("outcome %q: status %q is not terminal", r, e.Status)
		}
		msg, err := parse(string(r), e.Message)
		if err != nil {
			return nil, err
		}
		deg, err := parse(string(r)+"_degraded", e.DegradedMessage)
		if err != nil {
			return nil, err
		}
		t.entries[r] = compiled{entry: e, message: msg, degraded: deg}
	}
	return t, nil
}

func parse(name, src string) (*template.Template, error) {
	tpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("outcome %q: parse message: %w", name, err)
	}
	return tpl, nil
}

// Lookup returns the entry for r.
func (t *Table) Lookup(r session.Resolution) (Entry, bool) {
	c, ok := t.entries[r]
	return c.entry, ok
}

// Resolutions lists the resolutions the table knows, sorted.
func (t *Table) Resolutions() []session.Resolution {
	return slices.Sorted(maps.Keys(t.entries))
}

// Render produces the subject-facing message for r over rec.
// degraded selects the message used when the status could not be persisted.
func (t *Table) Render(r session.Resolution, rec *casestore.Record, degraded bool) (string, error) {
	c, ok := t.entries[r]
	if !ok {
		return "", fmt.Errorf("no outcome for resolution %q", r)
	}
	tpl := c.message
	if degraded {
		tpl = c.degraded
	}

	view := View{Fields: map[string]string{}}
	if rec != nil {
		view.Identity = rec.IdentityKey
		if rec.Fields != nil {
			view.Fields = rec.Fields
		}
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render outcome %q: %w", r, err)
	}
	return buf.String(), nil
}
