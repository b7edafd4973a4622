package relay

import (
	"fmt"
	"strings"

	"castrelay/internal/config"
)

// composeDestinationURL builds the publish URL a relay child pushes to,
// following the per-scheme composition rules: a plain rtmp:// target gets
// the stream key appended as a new path segment, while rtmps:// targets
// (which commonly front an explicit "/app" application path) are composed
// to preserve that convention.
func composeDestinationURL(dest config.Destination) (string, error) {
	u := strings.TrimSpace(dest.URL)
	switch {
	case strings.HasPrefix(u, "rtmp://"):
		return strings.TrimSuffix(u, "/") + "/" + dest.StreamKey, nil
	case strings.HasPrefix(u, "rtmps://"):
		switch {
		case strings.HasSuffix(u, "/app"):
			return u + "/" + dest.StreamKey, nil
		case strings.HasSuffix(u, "/app/"):
			return u + dest.StreamKey, nil
		default:
			return strings.TrimSuffix(u, "/") + "/app/" + dest.StreamKey, nil
		}
	default:
		return "", fmt.Errorf("relay: destination url %q must start with rtmp:// or rtmps://", u)
	}
}

func isRTMPS(dest config.Destination) bool {
	return strings.HasPrefix(strings.TrimSpace(dest.URL), "rtmps://")
}

// buildArgs constructs the ffmpeg argv for a stream-copy, FLV-muxed relay
// of inputURL to outputURL.
func buildArgs(inputURL, outputURL string, rtmps bool) []string {
	args := []string{
		"-y",
		"-i", inputURL,
		"-c:v", "copy",
		"-c:a", "copy",
		"-threads", "2",
		"-loglevel", "info",
	}
	if rtmps {
		args = append(args,
			"-protocol_whitelist", "rtmp,rtmps,file,http,https,tcp,tls",
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-bufsize", "384k",
		)
	}
	args = append(args, "-f", "flv", outputURL)
	return args
}
