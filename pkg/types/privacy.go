package types

import (
	"errors"
	"strings"
	"time"
)

// NoteVersionV3 marks notes that must age before they may be spent
const NoteVersionV3 = "v3"

var (
	ErrPayloadIncomplete = errors.New("privacy payload incomplete")
	ErrPayloadDummy      = errors.New("privacy payload is dummy")
)

// PrivacyPayload is a zero-knowledge transfer proof used by hide-balance trades
type PrivacyPayload struct {
	Verifier        string   `json:"verifier"`
	NoteVersion     string   `json:"note_version,omitempty"`
	Root            string   `json:"root,omitempty"`
	Nullifier       string   `json:"nullifier"`
	Commitment      string   `json:"commitment"`
	Recipient       string   `json:"recipient,omitempty"`
	NoteCommitment  string   `json:"note_commitment,omitempty"`
	DenomID         string   `json:"denom_id,omitempty"`
	SpendableAtUnix *int64   `json:"spendable_at_unix,omitempty"`
	Proof           []string `json:"proof"`
	PublicInputs    []string `json:"public_inputs"`
}

// IsDummy reports whether the payload is the reserved ["0x1"]/["0x1"] sentinel
func (p *PrivacyPayload) IsDummy() bool {
	if p == nil {
		return false
	}
	return isDummyList(p.Proof) && isDummyList(p.PublicInputs)
}

func isDummyList(items []string) bool {
	return len(items) == 1 && strings.EqualFold(strings.TrimSpace(items[0]), "0x1")
}

// Usable returns nil when the payload may back a private trade
func (p *PrivacyPayload) Usable() error {
	if p == nil {
		return ErrPayloadIncomplete
	}
	if p.IsDummy() {
		return ErrPayloadDummy
	}
	if len(nonEmpty(p.Proof)) == 0 || len(nonEmpty(p.PublicInputs)) == 0 {
		return ErrPayloadIncomplete
	}
	if strings.TrimSpace(p.Nullifier) == "" || strings.TrimSpace(p.Commitment) == "" {
		return ErrPayloadIncomplete
	}
	return nil
}

// RequiresAging reports whether the note format enforces a mixing window
func (p *PrivacyPayload) RequiresAging() bool {
	return p != nil && strings.EqualFold(strings.TrimSpace(p.NoteVersion), NoteVersionV3)
}

// SpendableIn returns how long until the note may be spent; zero when it already can be
func (p *PrivacyPayload) SpendableIn(now time.Time) time.Duration {
	if !p.RequiresAging() || p.SpendableAtUnix == nil {
		return 0
	}
	at := time.Unix(*p.SpendableAtUnix, 0)
	if !now.Before(at) {
		return 0
	}
	return at.Sub(now)
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item) != "" {
			out = append(out, item)
		}
	}
	return out
}
