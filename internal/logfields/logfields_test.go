package logfields

import (
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Channel", KeyChannel, "stable", Channel("stable")},
		{"AppState", KeyAppState, "LOADED", AppState("LOADED")},
		{"InitState", KeyInitState, "FINISH", InitState("FINISH")},
		{"Status", KeyStatus, "OPEN", Status("OPEN")},
		{"Resource", KeyResource, "server", Resource("server")},
		{"Version", KeyVersion, "0.1.0", Version("0.1.0")},
		{"LeaseID", KeyLeaseID, "abc", LeaseID("abc")},
		{"URL", KeyURL, "http://127.0.0.1:1", URL("http://127.0.0.1:1")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Task", KeyTask, "init", Task("init")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Attempt(3); v.Key != KeyAttempt || v.Value.Int64() != 3 { t.Fatalf("Attempt mismatch: %v", v) }
	if v := PID(42); v.Key != KeyPID { t.Fatalf("PID key mismatch: %s", v.Key) }
	if v := Duration(1500 * time.Microsecond); v.Key != KeyDurationMS || v.Value.Float64() != 1.5 { t.Fatalf("Duration mismatch: %v", v) }
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError { t.Fatalf("Error key mismatch: %s", attr.Key) }
	if attr.Value.String() != "" { t.Fatalf("Expected empty error string, got %s", attr.Value.String()) }
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" { t.Fatalf("Expected 'err-test', got %s", attr.Value.String()) }
}

type errTest struct{}
func (e errTest) Error() string { return "err-test" }
