package sessioncode

import (
	"errors"
	"testing"
)

func TestGenerate_RoundTrip(t *testing.T) {
	for i := 0; i < 500; i++ {
		c, err := Generate()
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if Normalize(c) != c {
			t.Fatalf("Normalize(%q) = %q, want unchanged", c, Normalize(c))
		}
		if !IsValidFormat(Normalize(c)) {
			t.Fatalf("IsValidFormat(%q) = false", c)
		}
	}
}

func TestAlphabet_ExcludesLookalikes(t *testing.T) {
	for _, r := range "0O1I" {
		for _, a := range Alphabet {
			if a == r {
				t.Errorf("alphabet contains confusable %q", r)
			}
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ab3x9k", "AB3X9K"},
		{" AB3-X9K ", "AB3X9K"},
		{"ab 3x\t9k", "AB3X9K"},
		{"--", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsValidFormat(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"AB3X9K", true},
		{"ab3x9k", false},
		{"AB3X9", false},
		{"AB3X9KK", false},
		{"AB0X9K", false},
		{"ABIX9K", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidFormat(tt.code); got != tt.want {
			t.Errorf("IsValidFormat(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

var errTaken = errors.New("taken")

func TestAllocate_RetriesOnCollision(t *testing.T) {
	calls := 0
	code, err := Allocate(5, func(string) error {
		calls++
		if calls < 3 {
			return errTaken
		}
		return nil
	}, func(err error) bool { return errors.Is(err, errTaken) })
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if calls != 3 {
		t.Errorf("claim called %d times, want 3", calls)
	}
	if !IsValidFormat(code) {
		t.Errorf("allocated code %q has invalid format", code)
	}
}

func TestAllocate_FailsClosed(t *testing.T) {
	calls := 0
	_, err := Allocate(4, func(string) error {
		calls++
		return errTaken
	}, func(err error) bool { return errors.Is(err, errTaken) })
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if calls != 4 {
		t.Errorf("claim called %d times, want 4", calls)
	}
}

func TestAllocate_StopsOnOtherError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Allocate(5, func(string) error {
		calls++
		return boom
	}, func(err error) bool { return errors.Is(err, errTaken) })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("claim called %d times, want 1", calls)
	}
}
