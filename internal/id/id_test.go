package id

import "testing"

func TestDefault(t *testing.T) {
	var zero Identifier
	if !zero.IsDefault() {
		t.Error("zero value should be default")
	}
	if !zero.IsSiteDefault() || !zero.IsEntityDefault() {
		t.Error("zero value should have default site and entity")
	}
}

func TestNewNotDefault(t *testing.T) {
	i := New(1, 10)
	if i.IsDefault() || i.IsSiteDefault() || i.IsEntityDefault() {
		t.Error("New(1, 10) should not be default in any component")
	}
}

func TestEqual(t *testing.T) {
	a := New(1, 10)
	b := New(1, 10)
	c := New(1, 11)
	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestOrder(t *testing.T) {
	cases := []struct {
		a, b Identifier
		want int
	}{
		{New(1, 10), New(1, 10), 0},
		{New(1, 10), New(1, 11), -1},
		{New(1, 11), New(1, 10), 1},
		{New(1, 99), New(2, 1), -1},
		{New(2, 1), New(1, 99), 1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if tc.want < 0 && !tc.a.Less(tc.b) {
			t.Errorf("%v should be Less than %v", tc.a, tc.b)
		}
	}
}

func TestString(t *testing.T) {
	if got := New(1, 10).String(); got != "#1-10" {
		t.Errorf("String() = %q, want #1-10", got)
	}
	if got := New(0, 10).String(); got != "#10" {
		t.Errorf("String() with default site = %q, want #10", got)
	}
}

func TestMapKey(t *testing.T) {
	m := make(map[Identifier]string)
	m[New(1, 10)] = "rock"
	if m[New(1, 10)] != "rock" {
		t.Error("Identifier should work directly as a map key")
	}
}
