package outputs

import "reflect"

// HistoryRecord is a previous execution as recorded by the history store
type HistoryRecord interface {
	OutputFiles() OutputSet
}

// BindHistory links the task to its previous execution. A later call replaces the
// earlier binding; binding nil, including a typed nil pointer, clears it.
func (o *TaskOutputs) BindHistory(record HistoryRecord) {
	if isNilRecord(record) {
		o.history = nil
		return
	}
	o.history = record
}

func isNilRecord(record HistoryRecord) bool {
	if record == nil {
		return true
	}
	v := reflect.ValueOf(record)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// HasHistory reports whether a history record is bound
func (o *TaskOutputs) HasHistory() bool {
	return o.history != nil
}

// History returns the bound record, if any
func (o *TaskOutputs) History() (HistoryRecord, bool) {
	return o.history, o.history != nil
}

// PreviousOutputs returns the outputs recorded by the previous execution.
// It fails with ErrHistoryUnavailable until BindHistory has been called.
func (o *TaskOutputs) PreviousOutputs() (OutputSet, error) {
	if o.history == nil {
		return OutputSet{}, ErrHistoryUnavailable
	}
	return o.history.OutputFiles().clone(), nil
}
