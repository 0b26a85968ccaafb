package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	cases := []struct {
		name     string
		key      string
		envValue string
		fallback string
		want     string
		setEnv   bool
	}{
		{
			name:     "trimmed env value wins",
			key:      "MEMCLOAD_TEST_ENV",
			envValue: "  value  ",
			fallback: "fallback",
			want:     "value",
			setEnv:   true,
		},
		{
			name:     "fallback when missing",
			key:      "MEMCLOAD_TEST_ENV_MISSING",
			fallback: "fallback",
			want:     "fallback",
			setEnv:   false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if tc.setEnv {
				t.Setenv(tc.key, tc.envValue)
			}
			if got := GetEnv(tc.key, tc.fallback); got != tc.want {
				t.Fatalf("unexpected value: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestTypedEnv(t *testing.T) {
	cases := []struct {
		name  string
		value string
		check func(t *testing.T)
	}{
		{
			name:  "int parses",
			value: "8",
			check: func(t *testing.T) {
				if got := GetIntEnv("MEMCLOAD_TEST_TYPED", 4); got != 8 {
					t.Fatalf("got %d want 8", got)
				}
			},
		},
		{
			name:  "invalid int falls back",
			value: "eight",
			check: func(t *testing.T) {
				if got := GetIntEnv("MEMCLOAD_TEST_TYPED", 4); got != 4 {
					t.Fatalf("got %d want 4", got)
				}
			},
		},
		{
			name:  "duration parses",
			value: "250ms",
			check: func(t *testing.T) {
				if got := GetDurationEnv("MEMCLOAD_TEST_TYPED", time.Second); got != 250*time.Millisecond {
					t.Fatalf("got %v want 250ms", got)
				}
			},
		},
		{
			name:  "bool parses",
			value: "true",
			check: func(t *testing.T) {
				if !GetBoolEnv("MEMCLOAD_TEST_TYPED", false) {
					t.Fatal("expected true")
				}
			},
		},
		{
			name:  "invalid bool falls back",
			value: "maybe",
			check: func(t *testing.T) {
				if GetBoolEnv("MEMCLOAD_TEST_TYPED", false) {
					t.Fatal("expected fallback false")
				}
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("MEMCLOAD_TEST_TYPED", tc.value)
			tc.check(t)
		})
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a:9092, ,b:9092 ,")
	want := []string{"a:9092", "b:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected list: got=%v want=%v", got, want)
	}
}
