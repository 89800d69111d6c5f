package resilience

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestGroup(cfg FallbackConfig) *FallbackGroup[string] {
	if cfg.CircuitBreaker.MaxFailures == 0 {
		cfg.CircuitBreaker.MaxFailures = 3
	}
	fg := NewFallbackGroup("speechify", "speechify", cfg)
	fg.AddFallback("elevenlabs", "elevenlabs")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})

	var called []string
	name, err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "speechify" {
		t.Errorf("served by %q, want speechify", name)
	}
	if !reflect.DeepEqual(called, []string{"speechify"}) {
		t.Errorf("called = %v, want only the primary", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	var fallbacks [][2]string
	fg := newTestGroup(FallbackConfig{
		OnFallback: func(from, to string) { fallbacks = append(fallbacks, [2]string{from, to}) },
	})

	name, err := fg.Execute(context.Background(), func(v string) error {
		if v == "speechify" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "elevenlabs" {
		t.Errorf("served by %q, want elevenlabs", name)
	}
	if want := [][2]string{{"speechify", "elevenlabs"}}; !reflect.DeepEqual(fallbacks, want) {
		t.Errorf("OnFallback calls = %v, want %v", fallbacks, want)
	}
	if fg.Primary() != "speechify" {
		t.Errorf("Primary() = %q; Execute must not reorder", fg.Primary())
	}
}

func TestFallbackGroup_AllFailReportsEveryAttempt(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})
	errSpeechify := errors.New("quota exceeded")
	errEleven := errors.New("bad voice")

	_, err := fg.Execute(context.Background(), func(v string) error {
		if v == "speechify" {
			return errSpeechify
		}
		return errEleven
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errSpeechify) || !errors.Is(err, errEleven) {
		t.Errorf("err = %v, want both attempt errors in the chain", err)
	}
	var afe *AllFailedError
	if !errors.As(err, &afe) {
		t.Fatalf("err is %T, want *AllFailedError", err)
	}
	if len(afe.Attempts) != 2 || afe.Attempts[0].Name != "speechify" || afe.Attempts[1].Name != "elevenlabs" {
		t.Errorf("attempts = %+v", afe.Attempts)
	}
	msg := err.Error()
	for _, want := range []string{"speechify: quota exceeded", "elevenlabs: bad voice"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestFallbackGroup_CircuitBreakerSkipsOpenProvider(t *testing.T) {
	fg := newTestGroup(FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		_, _ = fg.Execute(context.Background(), func(v string) error {
			if v == "speechify" {
				return errTest
			}
			return nil
		})
	}
	if got := fg.Breaker("speechify").State(); got != StateOpen {
		t.Fatalf("primary breaker = %v, want open", got)
	}

	var called []string
	name, err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "elevenlabs" || !reflect.DeepEqual(called, []string{"elevenlabs"}) {
		t.Errorf("name = %q, called = %v; want the open primary skipped", name, called)
	}
}

func TestFallbackGroup_Promote(t *testing.T) {
	fg := NewFallbackGroup("a", "a", FallbackConfig{})
	fg.AddFallback("b", "b")
	fg.AddFallback("c", "c")

	if !fg.Promote("c") {
		t.Fatal("Promote(c) = false")
	}
	if got, want := fg.Names(), []string{"c", "a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if fg.Promote("missing") {
		t.Error("Promote(missing) = true")
	}
	if !fg.Promote("c") {
		t.Error("promoting the primary must succeed")
	}
	if fg.Primary() != "c" {
		t.Errorf("Primary() = %q, want c", fg.Primary())
	}

	name, _ := fg.Execute(context.Background(), func(string) error { return nil })
	if name != "c" {
		t.Errorf("served by %q, want promoted entry c", name)
	}
}

func TestFallbackGroup_Get(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})
	v, ok := fg.Get("elevenlabs")
	if !ok || v != "elevenlabs" {
		t.Errorf("Get(elevenlabs) = %q, %v", v, ok)
	}
	if _, ok := fg.Get("nope"); ok {
		t.Error("Get(nope) reported ok")
	}
	if fg.Breaker("nope") != nil {
		t.Error("Breaker(nope) != nil")
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})

	got, name, err := ExecuteWithResult(context.Background(), fg, func(v string) (int, error) {
		if v == "speechify" {
			return 0, errTest
		}
		return len(v), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != len("elevenlabs") || name != "elevenlabs" {
		t.Errorf("got %d from %q", got, name)
	}
}

func TestExecuteWithResult_EmptyGroup(t *testing.T) {
	fg := &FallbackGroup[string]{}
	_, _, err := ExecuteWithResult(context.Background(), fg, func(string) (int, error) { return 1, nil })
	if !errors.Is(err, ErrEmptyGroup) {
		t.Fatalf("err = %v, want ErrEmptyGroup", err)
	}
	if fg.Primary() != "" {
		t.Errorf("Primary() = %q, want empty", fg.Primary())
	}
}

func TestExecuteWithResult_CallerCancellation(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})

	for i := range 10 {
		ctx, cancel := context.WithCancel(context.Background())
		var tried []string
		_, _, err := ExecuteWithResult(ctx, fg, func(v string) (int, error) {
			tried = append(tried, v)
			cancel()
			return 0, ctx.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: err = %v, want context.Canceled", i, err)
		}
		if errors.Is(err, ErrAllFailed) {
			t.Fatalf("call %d: cancellation reported as provider failure: %v", i, err)
		}
		if !reflect.DeepEqual(tried, []string{"speechify"}) {
			t.Fatalf("call %d: tried %v, want only the primary", i, tried)
		}
	}

	for _, name := range fg.Names() {
		if st := fg.Breaker(name).State(); st != StateClosed {
			t.Errorf("breaker %s = %v after cancelled calls, want closed", name, st)
		}
	}
	got, name, err := ExecuteWithResult(context.Background(), fg, func(v string) (int, error) {
		return len(v), nil
	})
	if err != nil || name != "speechify" || got != len("speechify") {
		t.Fatalf("after cancellations: got %d from %q, err %v", got, name, err)
	}
}

func TestExecuteWithResult_DoneContextTriesNothing(t *testing.T) {
	fg := newTestGroup(FallbackConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	called := false
	_, _, err := ExecuteWithResult(ctx, fg, func(string) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if called {
		t.Error("fn called with a done context")
	}
}
