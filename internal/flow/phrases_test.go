package flow

import "testing"

func TestIsAffirmative(t *testing.T) {
	for _, msg := range []string{"yes", "Yes", "yes please", "YEP", "ok", "okay", "sure", "go ahead", "that's fine", "confirmed", "yes."} {
		if !IsAffirmative(msg) {
			t.Errorf("IsAffirmative(%q) = false, want true", msg)
		}
	}
	for _, msg := range []string{"no", "maybe", "what does yes mean", "yesterday i felt ill", ""} {
		if IsAffirmative(msg) {
			t.Errorf("IsAffirmative(%q) = true, want false", msg)
		}
	}
}

func TestIsNegative(t *testing.T) {
	for _, msg := range []string{"no", "No thanks", "nope", "not now", "i'd rather not", "no thank you"} {
		if !IsNegative(msg) {
			t.Errorf("IsNegative(%q) = false, want true", msg)
		}
	}
	for _, msg := range []string{"yes", "normal", "i know", ""} {
		if IsNegative(msg) {
			t.Errorf("IsNegative(%q) = true, want false", msg)
		}
	}
}

// "no thanks" must classify as a decline before any affirmative keyword check.
func TestDeclineBeatsAffirmativeWording(t *testing.T) {
	msg := "no thanks"
	if !IsNegative(msg) {
		t.Fatalf("IsNegative(%q) = false", msg)
	}
	if IsAffirmative(msg) {
		t.Fatalf("IsAffirmative(%q) = true, decline must not read as consent", msg)
	}
}

func TestIsCancellation(t *testing.T) {
	for _, msg := range []string{"cancel", "STOP", "never mind", "forget it", "quit"} {
		if !IsCancellation(msg) {
			t.Errorf("IsCancellation(%q) = false, want true", msg)
		}
	}
	// Single-word phrases must match the whole message, not a substring.
	for _, msg := range []string{"can't stop coughing", "i want to cancel my gym membership advice", "yes"} {
		if IsCancellation(msg) {
			t.Errorf("IsCancellation(%q) = true, want false", msg)
		}
	}
}

func TestIsEditRequest(t *testing.T) {
	for _, msg := range []string{"change", "edit", "wrong", "update"} {
		if !IsEditRequest(msg) {
			t.Errorf("IsEditRequest(%q) = false, want true", msg)
		}
	}
	if IsEditRequest("yes") {
		t.Error("IsEditRequest(\"yes\") = true, want false")
	}
}
