// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcoder

import (
	"fmt"
	"strconv"
)

// AudioSpec selects the audio variant encoding.
type AudioSpec struct {
	Format     string // mp3|aac|ogg|m4a
	Bitrate    string // e.g. "128k"
	SampleRate int    // 0 = keep source rate
	Threads    int    // 0 = tool default
}

// VideoSpec selects the video variant encoding. Output is always an mp4
// with an AAC track; podcast apps stream it, hence faststart.
type VideoSpec struct {
	Codec        string // h264|hevc
	Quality      int    // CRF 0-51
	AudioBitrate string
	Threads      int
}

// audioCodecs maps the configured format to the encoder ffmpeg needs.
// The container follows from the output extension.
var audioCodecs = map[string]string{
	"mp3": "libmp3lame",
	"aac": "aac",
	"ogg": "libvorbis",
	"m4a": "aac",
}

// buildAudioArgs constructs the argument list for an audio-only extract.
func buildAudioArgs(input, output string, spec AudioSpec) ([]string, error) {
	if input == "" || output == "" {
		return nil, fmt.Errorf("missing input or output path")
	}
	codec, ok := audioCodecs[spec.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported audio format %q", spec.Format)
	}

	args := baseArgs(input, spec.Threads)
	args = append(args,
		"-vn",
		"-c:a", codec,
	)
	if spec.Bitrate != "" {
		args = append(args, "-b:a", spec.Bitrate)
	}
	if spec.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(spec.SampleRate))
	}
	if spec.Format == "m4a" {
		// mp4-family container: front-load the moov atom for streaming.
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, output)
	return args, nil
}

// buildVideoArgs constructs the argument list for the mp4 video variant.
func buildVideoArgs(input, output string, spec VideoSpec) ([]string, error) {
	if input == "" || output == "" {
		return nil, fmt.Errorf("missing input or output path")
	}

	// The ffmpeg encoder names are accepted alongside the short forms, so
	// a config saying libx264 means the same as h264.
	videoCodec := "libx264"
	switch spec.Codec {
	case "", "h264", "libx264":
	case "hevc", "libx265":
		videoCodec = "libx265"
	default:
		return nil, fmt.Errorf("unsupported video codec %q", spec.Codec)
	}

	crf := spec.Quality
	if crf <= 0 {
		crf = 23
	}

	args := baseArgs(input, spec.Threads)
	args = append(args,
		"-c:v", videoCodec,
		"-crf", strconv.Itoa(crf),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
	)
	if spec.AudioBitrate != "" {
		args = append(args, "-b:a", spec.AudioBitrate)
	}
	if videoCodec == "libx265" {
		args = append(args, "-tag:v", "hvc1")
	}
	args = append(args,
		"-movflags", "+faststart",
		output,
	)
	return args, nil
}

func baseArgs(input string, threads int) []string {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-y",
		"-i", input,
	}
	if threads > 0 {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	return args
}
