//go:build !mediadevices

package rtc

// DefaultCapturer sends silence; build with -tags mediadevices for a microphone.
func DefaultCapturer() (Capturer, error) {
	return SilenceCapturer{}, nil
}
