package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueFormat(t *testing.T) {
	now := time.Unix(1735689600, 0)
	tok := Issue(now)
	if tok.Value != "qr_1735689600" {
		t.Fatalf("unexpected token value %q", tok.Value)
	}
	if !tok.IssuedAt.Equal(now) {
		t.Fatalf("issued at %v, want %v", tok.IssuedAt, now)
	}
}

func TestValidateFreshnessBoundary(t *testing.T) {
	now := time.Unix(2000, 0)
	window := 20 * time.Second

	cases := []struct {
		name    string
		issued  int64
		wantOK  bool
		wantAge time.Duration
	}{
		{"fresh", 1995, true, 5 * time.Second},
		{"exactly window", 1980, true, 20 * time.Second},
		{"window plus one", 1979, false, 21 * time.Second},
		{"well expired", 1975, false, 25 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok := Issue(time.Unix(tc.issued, 0))
			age, err := ValidateFreshness(tok.Value, now, window)
			if age != tc.wantAge {
				t.Fatalf("age = %v, want %v", age, tc.wantAge)
			}
			if tc.wantOK && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.wantOK {
				var expired *ExpiredError
				if !errors.As(err, &expired) {
					t.Fatalf("expected ExpiredError, got %v", err)
				}
				if expired.Age != tc.wantAge {
					t.Fatalf("error age = %v, want %v", expired.Age, tc.wantAge)
				}
			}
		})
	}
}

func TestValidateFreshnessMalformed(t *testing.T) {
	for _, value := range []string{"", "1735689600", "qr_", "qr_abc", "token_1735689600"} {
		if _, err := ValidateFreshness(value, time.Now(), time.Minute); !errors.Is(err, ErrMalformed) {
			t.Fatalf("value %q: expected ErrMalformed, got %v", value, err)
		}
	}
}

func TestCheckinURL(t *testing.T) {
	tok := Issue(time.Unix(1700000000, 0))
	u := CheckinURL("https://attend.example.com/checkin", tok, "acme corp", true)
	if !strings.Contains(u, "access=qr_1700000000") {
		t.Fatalf("missing access token in %q", u)
	}
	if !strings.Contains(u, "company=acme+corp") {
		t.Fatalf("missing encoded scope in %q", u)
	}
	if !strings.Contains(u, "loc=1") {
		t.Fatalf("missing loc flag in %q", u)
	}

	u = CheckinURL("https://attend.example.com/checkin", tok, "", false)
	if strings.Contains(u, "company=") {
		t.Fatalf("empty scope should be omitted: %q", u)
	}
	if !strings.Contains(u, "loc=0") {
		t.Fatalf("loc flag should be explicit: %q", u)
	}
}

func TestQRPNG(t *testing.T) {
	png, err := QRPNG("https://attend.example.com/checkin?access=qr_1700000000", 256)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(png) == 0 {
		t.Fatal("empty png")
	}
	// PNG magic header.
	if string(png[1:4]) != "PNG" {
		t.Fatalf("not a png: % x", png[:8])
	}
}
