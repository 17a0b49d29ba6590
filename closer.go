package kqueue

// closerFunc adapts a plain func() error to the closer interface so
// filters can build ad hoc teardown steps without a named type per
// resource kind.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }
