package async

// Liveness reports whether an object is still valid to operate on.
type Liveness interface {
	IsAlive() bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func() bool

// IsAlive implements Liveness.
func (fn LivenessFunc) IsAlive() bool {
	return fn()
}

// Guard derives a future from f that is suppressed if owner is no longer
// alive when f resolves. Rejections pass through untouched. Guards compose:
// Guard(Guard(f, a), b) suppresses if a is dead, otherwise if b is dead.
func Guard[T any](f *Future[T], owner Liveness) *Future[T] {
	if owner == nil {
		return f
	}

	out := newFuture[T]()
	go func() {
		var zero T
		<-f.done

		switch {
		case f.suppressed:
			out.settle(zero, nil, true)
		case f.err != nil:
			out.settle(zero, f.err, false)
		case !owner.IsAlive():
			out.settle(zero, nil, true)
		default:
			out.settle(f.value, nil, false)
		}
	}()
	return out
}
