package outputs

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fbs/pkg/logger"
)

type fakeTask struct {
	id string
	Lifecycle
}

func (f *fakeTask) ID() string { return f.id }

type warning struct {
	msg     string
	keyvals []any
}

type recordingLogger struct {
	mu       sync.Mutex
	warnings []warning
}

func (r *recordingLogger) Debug(string, ...any) {}
func (r *recordingLogger) Info(string, ...any)  {}
func (r *recordingLogger) Error(string, ...any) {}
func (r *recordingLogger) With(...any) logger.Logger {
	return r
}

func (r *recordingLogger) Warn(msg string, keyvals ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, warning{msg: msg, keyvals: keyvals})
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

type staticRecord struct {
	files OutputSet
}

func (s staticRecord) OutputFiles() OutputSet { return s.files }

type pointerRecord struct {
	files OutputSet
}

func (p *pointerRecord) OutputFiles() OutputSet { return p.files }

type stubComparator struct {
	unchanged bool
	err       error
	calls     int
}

func (s *stubComparator) OutputsUnchanged(Task, OutputSet, HistoryRecord) (bool, error) {
	s.calls++
	return s.unchanged, s.err
}

func newTestOutputs(t *testing.T, opts ...Option) (*TaskOutputs, *fakeTask, *recordingLogger) {
	t.Helper()
	task := &fakeTask{id: "app:compile"}
	rec := &recordingLogger{}
	base := []Option{WithLogger(rec), WithResolver(NewFileResolver("/work"))}
	return New(task, append(base, opts...)...), task, rec
}

func alwaysTrue(Task) bool  { return true }
func alwaysFalse(Task) bool { return false }

func TestTaskOutputs_HasOutput(t *testing.T) {
	t.Run("Should be false without outputs and predicates", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		assert.False(t, o.HasOutput())
	})

	t.Run("Should be true with a declared output", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/app"))

		assert.True(t, o.HasOutput())
	})

	t.Run("Should be true with only a predicate", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)
		require.NoError(t, o.UpToDateWhen(alwaysTrue))

		assert.True(t, o.HasOutput())
	})
}

func TestTaskOutputs_Declare(t *testing.T) {
	t.Run("Should collect single and multiple declarations", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		require.NoError(t, o.DeclareSingle("a.txt"))
		require.NoError(t, o.Declare("b.txt", "c.txt"))

		assert.True(t, o.Snapshot().Equal(NewOutputSet("/work/a.txt", "/work/b.txt", "/work/c.txt")))
		assert.Equal(t, []string{"/work/a.txt", "/work/b.txt", "/work/c.txt"}, o.Snapshot().Paths())
	})

	t.Run("Should flatten slices and ignore duplicates", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		require.NoError(t, o.Declare([]string{"a.txt", "b.txt"}, []any{"a.txt", []any{"c.txt"}}))

		assert.Equal(t, 3, o.Snapshot().Len())
	})

	t.Run("Should keep absolute paths and clean them", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		require.NoError(t, o.Declare("/tmp/x/../y"))

		assert.True(t, o.Snapshot().Contains(filepath.Clean("/tmp/y")))
	})

	t.Run("Should add nothing when one path fails to resolve", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		err := o.Declare("ok.txt", 42)

		require.ErrorIs(t, err, ErrUnresolvablePath)
		assert.True(t, o.Snapshot().IsEmpty())
	})

	t.Run("Should pass resolver errors through unmodified", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)
		boom := errors.New("boom")

		err := o.DeclareSingle(func() (string, error) { return "", boom })

		assert.Same(t, boom, err)
	})

	t.Run("Should return a snapshot that does not alias the registry", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("a.txt"))

		snap := o.Snapshot()
		require.NoError(t, o.DeclareSingle("b.txt"))

		assert.Equal(t, 1, snap.Len())
		assert.Equal(t, 2, o.Snapshot().Len())
	})

	t.Run("Should return an empty snapshot initially", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		assert.NotNil(t, o.Snapshot().Paths())
		assert.True(t, o.Snapshot().IsEmpty())
	})
}

func TestTaskOutputs_Guard(t *testing.T) {
	t.Run("Should not warn while configurable", func(t *testing.T) {
		o, _, rec := newTestOutputs(t)

		require.NoError(t, o.DeclareSingle("a.txt"))
		require.NoError(t, o.Declare("b.txt"))
		require.NoError(t, o.DeclareDirectory("out"))
		require.NoError(t, o.UpToDateWhen(alwaysTrue))

		assert.Zero(t, rec.count())
	})

	t.Run("Should warn exactly once for DeclareSingle after start", func(t *testing.T) {
		o, task, rec := newTestOutputs(t)
		task.Start()

		require.NoError(t, o.DeclareSingle("a.txt"))

		require.Equal(t, 1, rec.count())
		assert.Contains(t, rec.warnings[0].msg, "TaskOutputs.DeclareSingle")
		assert.Contains(t, rec.warnings[0].keyvals, "app:compile")
		assert.True(t, o.Snapshot().Contains("/work/a.txt"), "mutation must still be applied")
	})

	t.Run("Should not warn for DeclareDirectory after start", func(t *testing.T) {
		o, task, rec := newTestOutputs(t)
		task.Start()

		require.NoError(t, o.DeclareDirectory("out"))

		assert.Zero(t, rec.count())
		assert.True(t, o.Snapshot().Contains("/work/out"))
	})

	t.Run("Should warn again after a suppressed directory declaration", func(t *testing.T) {
		o, task, rec := newTestOutputs(t)
		task.Start()

		require.NoError(t, o.DeclareDirectory("out"))
		require.NoError(t, o.Declare("a.txt"))

		assert.Equal(t, 1, rec.count())
	})

	t.Run("Should restore warnings when the directory declaration fails", func(t *testing.T) {
		o, task, rec := newTestOutputs(t)
		task.Start()

		require.Error(t, o.DeclareDirectory(3.14))
		require.NoError(t, o.AddPredicate(PredicateFunc(alwaysTrue)))

		assert.Equal(t, 1, rec.count())
	})

	t.Run("Should restore warnings when the body panics", func(t *testing.T) {
		o, task, rec := newTestOutputs(t)
		task.Start()

		assert.Panics(t, func() {
			_ = o.guard.withWarningsSuppressed(func() error { panic("boom") })
		})
		require.NoError(t, o.UpToDateWhen(alwaysTrue))

		assert.Equal(t, 1, rec.count())
	})

	t.Run("Should reject mutations after start in strict mode", func(t *testing.T) {
		o, task, rec := newTestOutputs(t, WithStrictMode(true))
		task.Start()

		err := o.DeclareDirectory("out")

		var mutErr *ErrMutationAfterStart
		require.ErrorAs(t, err, &mutErr)
		assert.Equal(t, "app:compile", mutErr.TaskID)
		assert.Equal(t, "TaskOutputs.DeclareDirectory", mutErr.Action)
		assert.ErrorIs(t, err, ErrTaskStarted)
		assert.ErrorIs(t, o.UpToDateWhen(alwaysTrue), ErrTaskStarted)
		assert.False(t, o.HasOutput())
		assert.Zero(t, rec.count())
	})
}

func TestShouldWarn(t *testing.T) {
	assert.False(t, shouldWarn(PhaseConfigurable, true))
	assert.False(t, shouldWarn(PhaseConfigurable, false))
	assert.True(t, shouldWarn(PhaseExecuting, true))
	assert.False(t, shouldWarn(PhaseExecuting, false))
}

func TestTaskOutputs_Predicates(t *testing.T) {
	cases := []struct {
		name  string
		preds []func(Task) bool
		want  bool
	}{
		{"Should be true for all true predicates", []func(Task) bool{alwaysTrue, alwaysTrue, alwaysTrue}, true},
		{"Should be false when one predicate is false", []func(Task) bool{alwaysTrue, alwaysFalse, alwaysTrue}, false},
		{"Should be vacuously true without predicates", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, task, _ := newTestOutputs(t)
			for _, p := range tc.preds {
				require.NoError(t, o.UpToDateWhen(p))
			}

			assert.Equal(t, tc.want, o.IsUpToDateAccordingToPredicates(task))
			assert.Equal(t, len(tc.preds), o.PredicateCount())
		})
	}

	t.Run("Should evaluate every predicate exactly once in order", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		var order []int
		counting := func(i int, result bool) func(Task) bool {
			return func(Task) bool {
				order = append(order, i)
				return result
			}
		}
		require.NoError(t, o.UpToDateWhen(counting(0, false)))
		require.NoError(t, o.UpToDateWhen(counting(1, true)))
		require.NoError(t, o.AddPredicate(PredicateFunc(counting(2, false))))

		assert.False(t, o.IsUpToDateAccordingToPredicates(task))
		assert.Equal(t, []int{0, 1, 2}, order)
	})

	t.Run("Should reject nil predicates", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		assert.ErrorIs(t, o.AddPredicate(nil), ErrNilPredicate)
		assert.ErrorIs(t, o.UpToDateWhen(nil), ErrNilPredicate)
		assert.False(t, o.HasOutput())
	})

	t.Run("Should not modify the receiver when combining", func(t *testing.T) {
		var base AndPredicate
		next := base.And(PredicateFunc(alwaysFalse))

		assert.Equal(t, 0, base.Len())
		assert.Equal(t, 1, next.Len())
	})
}

func TestTaskOutputs_History(t *testing.T) {
	t.Run("Should fail before history is bound", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		_, err := o.PreviousOutputs()

		assert.ErrorIs(t, err, ErrHistoryUnavailable)
		assert.False(t, o.HasHistory())
	})

	t.Run("Should return the bound record outputs", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)
		record := staticRecord{files: NewOutputSet("/work/out/build.bin")}

		o.BindHistory(record)
		prev, err := o.PreviousOutputs()

		require.NoError(t, err)
		assert.True(t, prev.Equal(record.files))
	})

	t.Run("Should distinguish empty history from missing history", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		o.BindHistory(staticRecord{})
		prev, err := o.PreviousOutputs()

		require.NoError(t, err)
		assert.True(t, prev.IsEmpty())
	})

	t.Run("Should treat a typed nil record as unbound", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.Declare("out/a"))
		o.BindHistory(staticRecord{files: NewOutputSet("/work/out/a")})

		var record *pointerRecord
		o.BindHistory(record)

		assert.False(t, o.HasHistory())
		_, err := o.PreviousOutputs()
		assert.ErrorIs(t, err, ErrHistoryUnavailable)
		cmp := &stubComparator{unchanged: true}
		upToDate, err := o.IsUpToDate(task, cmp)
		require.NoError(t, err)
		assert.False(t, upToDate)
		assert.Zero(t, cmp.calls)
	})

	t.Run("Should bind a non-nil pointer record", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		o.BindHistory(&pointerRecord{files: NewOutputSet("/a")})
		prev, err := o.PreviousOutputs()

		require.NoError(t, err)
		assert.Equal(t, []string{"/a"}, prev.Paths())
	})

	t.Run("Should let the last binding win", func(t *testing.T) {
		o, _, _ := newTestOutputs(t)

		o.BindHistory(staticRecord{files: NewOutputSet("/a")})
		o.BindHistory(staticRecord{files: NewOutputSet("/b")})
		prev, err := o.PreviousOutputs()

		require.NoError(t, err)
		assert.Equal(t, []string{"/b"}, prev.Paths())
	})
}

func TestTaskOutputs_IsUpToDate(t *testing.T) {
	t.Run("Should be up to date when predicates pass and contents match", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/build.bin"))
		require.NoError(t, o.UpToDateWhen(alwaysTrue))
		o.BindHistory(staticRecord{files: NewOutputSet("/work/out/build.bin")})
		cmp := &stubComparator{unchanged: true}

		upToDate, err := o.IsUpToDate(task, cmp)

		require.NoError(t, err)
		assert.True(t, upToDate)
		assert.Equal(t, 1, cmp.calls)
	})

	t.Run("Should not be up to date when contents changed", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/build.bin"))
		o.BindHistory(staticRecord{files: NewOutputSet("/work/out/build.bin")})

		upToDate, err := o.IsUpToDate(task, &stubComparator{unchanged: false})

		require.NoError(t, err)
		assert.False(t, upToDate)
	})

	t.Run("Should skip comparison when a predicate fails", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/build.bin"))
		require.NoError(t, o.UpToDateWhen(alwaysFalse))
		o.BindHistory(staticRecord{files: NewOutputSet("/work/out/build.bin")})
		cmp := &stubComparator{unchanged: true}

		upToDate, err := o.IsUpToDate(task, cmp)

		require.NoError(t, err)
		assert.False(t, upToDate)
		assert.Zero(t, cmp.calls)
	})

	t.Run("Should not be up to date without history", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/build.bin"))

		upToDate, err := o.IsUpToDate(task, &stubComparator{unchanged: true})

		require.NoError(t, err)
		assert.False(t, upToDate)
	})

	t.Run("Should not be up to date without declared state", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		o.BindHistory(staticRecord{})

		upToDate, err := o.IsUpToDate(task, &stubComparator{unchanged: true})

		require.NoError(t, err)
		assert.False(t, upToDate)
	})

	t.Run("Should wrap comparator errors", func(t *testing.T) {
		o, task, _ := newTestOutputs(t)
		require.NoError(t, o.DeclareSingle("out/build.bin"))
		o.BindHistory(staticRecord{})
		boom := errors.New("disk on fire")

		_, err := o.IsUpToDate(task, &stubComparator{err: boom})

		assert.ErrorIs(t, err, boom)
	})
}

func TestLifecycle(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, PhaseConfigurable, l.Phase())

	l.Start()
	l.Start()

	assert.Equal(t, PhaseExecuting, l.Phase())
	assert.Equal(t, "executing", l.Phase().String())
}
