package moderation

import "testing"

func TestListRejectReasonsCoversTemplates(t *testing.T) {
	items := ListRejectReasons()

	if len(items) != len(rejectReasonTemplates) {
		t.Fatalf("unexpected reject reasons count: got=%d want=%d", len(items), len(rejectReasonTemplates))
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, exists := seen[item.ReasonCode]; exists {
			t.Fatalf("duplicate reason code: %s", item.ReasonCode)
		}
		seen[item.ReasonCode] = struct{}{}
		if item.Label == "" || item.ReasonText == "" {
			t.Fatalf("empty template for reason code: %s", item.ReasonCode)
		}
	}
}

func TestRejectReasonTextFallsBackToOther(t *testing.T) {
	code, text := RejectReasonText(" spam ")
	if code != "SPAM" || text != rejectReasonTemplates["SPAM"].ReasonText {
		t.Fatalf("unexpected spam reason: %s %q", code, text)
	}

	code, text = RejectReasonText("made-up")
	if code != RejectReasonOther || text != rejectReasonTemplates[RejectReasonOther].ReasonText {
		t.Fatalf("unexpected fallback: %s %q", code, text)
	}
}
