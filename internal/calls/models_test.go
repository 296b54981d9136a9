package calls

import (
	"errors"
	"testing"
	"time"
)

func TestOutcomeValuesAreValid(t *testing.T) {
	for _, o := range Outcomes {
		if !o.Valid() {
			t.Fatalf("expected %q to be valid", o)
		}
	}
	if Outcome("maybe").Valid() {
		t.Fatalf("expected unknown outcome to be invalid")
	}
}

func TestCallOutcome_CallbackDateIffCallback(t *testing.T) {
	at := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		in   CallOutcome
		want error
	}{
		{"lead without date", CallOutcome{CallID: "c1", Outcome: OutcomeLead}, nil},
		{"callback with date", CallOutcome{CallID: "c1", Outcome: OutcomeCallback, CallbackDate: &at}, nil},
		{"callback without date", CallOutcome{CallID: "c1", Outcome: OutcomeCallback}, ErrCallbackDateRequired},
		{"busy with date", CallOutcome{CallID: "c1", Outcome: OutcomeBusy, CallbackDate: &at}, ErrUnexpectedCallback},
		{"missing call id", CallOutcome{Outcome: OutcomeLead}, ErrMissingCallID},
		{"unknown outcome", CallOutcome{CallID: "c1", Outcome: "maybe"}, ErrUnknownOutcome},
		{"negative duration", CallOutcome{CallID: "c1", Outcome: OutcomeLead, CallDurationSeconds: -1}, ErrNegativeDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestContact_HasPhone(t *testing.T) {
	if (Contact{}).HasPhone() {
		t.Fatalf("expected no phone")
	}
	if !(Contact{Phone: "+420123456789"}).HasPhone() {
		t.Fatalf("expected phone")
	}
}
