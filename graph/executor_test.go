package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recorder struct {
	ran []string
}

func (r *recorder) action(name string, err error) Action {
	return func(ctx context.Context) error {
		r.ran = append(r.ran, name)
		return err
	}
}

func TestExecutor_RunsInOrder(t *testing.T) {
	rec := &recorder{}
	p := NewProject()
	chain(p, "build").Action = rec.action("build", nil)
	chain(p, "test", "build").Action = rec.action("test", nil)

	pl, err := p.Plan("test")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := (&Executor{}).Run(context.Background(), pl)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(rec.ran, []string{"build", "test"}) {
		t.Errorf("ran = %v", rec.ran)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}
	if report.State("test") != StateSucceeded {
		t.Errorf("test state = %s", report.State("test"))
	}
}

func TestExecutor_FinalizerRunsOnFailure(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("tests failed")
	p := NewProject()
	chain(p, "up").Action = rec.action("up", nil)
	chain(p, "down").Action = rec.action("down", nil)
	test := chain(p, "test", "up")
	test.Action = rec.action("test", boom)
	test.FinalizedBy("down")
	chain(p, "tag", "test").Action = rec.action("tag", nil)

	pl, err := p.Plan("tag")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := (&Executor{}).Run(context.Background(), pl)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	var ue *UnitError
	if !errors.As(err, &ue) || ue.Unit != "test" {
		t.Errorf("error does not name the test unit: %v", err)
	}
	if !reflect.DeepEqual(rec.ran, []string{"up", "test", "down"}) {
		t.Errorf("ran = %v", rec.ran)
	}
	if s := report.State("tag"); s != StateCancelled && s != StateBlocked {
		t.Errorf("tag state = %s", s)
	}
}

func TestExecutor_FinalizerNotRequired(t *testing.T) {
	rec := &recorder{}
	p := NewProject()
	chain(p, "build").Action = rec.action("build", errors.New("no docker"))
	chain(p, "down").Action = rec.action("down", nil)
	chain(p, "test", "build").FinalizedBy("down")
	chain(p, "test").Action = rec.action("test", nil)

	pl, err := p.Plan("test")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, _ := (&Executor{}).Run(context.Background(), pl)
	if report.State("down") != StateNotRequired {
		t.Errorf("down state = %s, want %s", report.State("down"), StateNotRequired)
	}
	if !reflect.DeepEqual(rec.ran, []string{"build"}) {
		t.Errorf("ran = %v", rec.ran)
	}
}

func TestExecutor_SkippedSatisfiesDependents(t *testing.T) {
	rec := &recorder{}
	p := NewProject()
	tag := chain(p, "tag")
	tag.Action = rec.action("tag", nil)
	tag.OnlyIf(func() bool { return false })
	chain(p, "lifecycle", "tag").Action = rec.action("lifecycle", nil)

	pl, err := p.Plan("lifecycle")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	report, err := (&Executor{}).Run(context.Background(), pl)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State("tag") != StateSkipped {
		t.Errorf("tag state = %s", report.State("tag"))
	}
	if !reflect.DeepEqual(rec.ran, []string{"lifecycle"}) {
		t.Errorf("ran = %v", rec.ran)
	}
}

func TestExecutor_PredicateEvaluatedLazily(t *testing.T) {
	gate := false
	p := NewProject()
	chain(p, "first").Action = func(context.Context) error { gate = true; return nil }
	second := chain(p, "second", "first")
	second.OnlyIf(func() bool { return gate })

	pl, _ := p.Plan("second")
	report, err := (&Executor{}).Run(context.Background(), pl)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.State("second") != StateSucceeded {
		t.Errorf("second state = %s, want predicate read at execution time", report.State("second"))
	}
}

func TestExecutor_CompletionHookSeesError(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	called := 0
	p := NewProject()
	u := chain(p, "test")
	u.Action = func(context.Context) error { return boom }
	u.DoFinally(func(_ context.Context, err error) { called++; seen = err })

	pl, _ := p.Plan("test")
	_, _ = (&Executor{}).Run(context.Background(), pl)
	if called != 1 || !errors.Is(seen, boom) {
		t.Errorf("hook called %d times with %v", called, seen)
	}
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	rec := &recorder{}
	p := NewProject()
	u := chain(p, "test")
	u.Action = func(context.Context) error { panic("kaboom") }
	u.FinalizedBy("down")
	chain(p, "down").Action = rec.action("down", nil)

	pl, _ := p.Plan("test")
	report, err := (&Executor{}).Run(context.Background(), pl)
	if err == nil || !IsUnitFailure(err) {
		t.Fatalf("Run error = %v, want unit failure", err)
	}
	if report.State("down") != StateSucceeded {
		t.Errorf("finalizer state = %s", report.State("down"))
	}
}

func TestExecutor_CancelledContextStillFinalizes(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProject()
	u := chain(p, "up")
	u.Action = func(context.Context) error { cancel(); return nil }
	u.FinalizedBy("down")
	chain(p, "down").Action = func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec.ran = append(rec.ran, "down")
		return nil
	}
	chain(p, "test", "up").Action = rec.action("test", nil)

	pl, _ := p.Plan("test")
	report, err := (&Executor{}).Run(ctx, pl)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if report.State("test") != StateCancelled {
		t.Errorf("test state = %s", report.State("test"))
	}
	if !reflect.DeepEqual(rec.ran, []string{"down"}) {
		t.Errorf("ran = %v", rec.ran)
	}
}
