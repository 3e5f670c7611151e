package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUserRef_AcceptsLegacyShapes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `9`, want: "9"},
		{in: `"9"`, want: "9"},
		{in: `" 01HZX "`, want: "01HZX"},
		{in: `{"id": 9, "username": "x"}`, want: "9"},
		{in: `{"id": "abc"}`, want: "abc"},
		{in: `null`, want: ""},
		{in: `9.5`, wantErr: true},
		{in: `{"id": {"id": 1}}`, wantErr: true},
		{in: `[1]`, wantErr: true},
	}

	for _, tc := range cases {
		var u UserRef
		err := json.Unmarshal([]byte(tc.in), &u)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("UserRef(%s): expected error, got %q", tc.in, u)
			}
			continue
		}
		if err != nil {
			t.Fatalf("UserRef(%s): %v", tc.in, err)
		}
		if u.String() != tc.want {
			t.Fatalf("UserRef(%s)=%q want=%q", tc.in, u, tc.want)
		}
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeRegisterUser, TS: time.Now(), Payload: json.RawMessage(`{}`)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	bad := []Envelope{
		{Type: TypeRegisterUser},
		{V: "v0", Type: TypeRegisterUser},
		{V: Version},
		{V: Version, Type: TypeRegisterUserConfirmed},
		{V: Version, Type: "message.send"},
	}
	for _, e := range bad {
		if err := e.Validate(); err == nil {
			t.Fatalf("expected error for %+v", e)
		}
	}
}

func TestNotificationType(t *testing.T) {
	t.Parallel()

	if got := NotificationType("7"); got != "notification:7" {
		t.Fatalf("NotificationType=%q", got)
	}
}
