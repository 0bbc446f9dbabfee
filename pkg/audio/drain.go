package audio

// Drain consumes and discards everything remaining on ch until it closes.
// Used to unblock producers after the consumer side has given up.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
