// Package parser extracts structured statistics from a single line of
// stream-copy transcoder diagnostic output. It is a pure-function,
// dependency-free package: regex parsing of a fixed text format has no
// natural home for a third-party library in the retrieved pack, so stdlib
// regexp is the correct tool here.
package parser

import (
	"regexp"
	"strconv"
)

// Stats is the structured form of one parsed diagnostic line. Fields the
// line did not carry are left at their zero value.
type Stats struct {
	Frame       int
	FPS         float64
	Quality     float64
	SizeKB      int
	TimeSeconds float64
	BitrateKbps float64
	Speed       float64
	Resolution  string
	Codec       string
}

var (
	fusedLineRe = regexp.MustCompile(`frame=\s*(\d+)\s+fps=\s*([\d.]+)\s+q=\s*(-?[\d.]+)\s+size=\s*(\d+)\s*kB\s+time=(\d\d):(\d\d):(\d\d(?:\.\d+)?)\s+bitrate=\s*([\d.]+)\s*kbits/s\s+speed=\s*([\d.]+)x`)

	frameRe      = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe        = regexp.MustCompile(`fps=\s*([\d.]+)`)
	qualityRe    = regexp.MustCompile(`q=\s*(-?[\d.]+)`)
	sizeRe       = regexp.MustCompile(`size=\s*(\d+)\s*kB`)
	timeRe       = regexp.MustCompile(`time=(\d\d):(\d\d):(\d\d(?:\.\d+)?)`)
	bitrateRe    = regexp.MustCompile(`bitrate=\s*([\d.]+)\s*kbits/s`)
	speedRe      = regexp.MustCompile(`speed=\s*([\d.]+)x`)
	resolutionRe = regexp.MustCompile(`(\d{2,5})x(\d{2,5})`)
)

// Parse extracts whatever statistics fields are present on line. It first
// tries the fused "frame= ... speed= Xx" form emitted on every progress
// tick; if that fails to match, it falls back to matching each field
// independently. Parse returns nil if no recognized field is present.
func Parse(line string) *Stats {
	if m := fusedLineRe.FindStringSubmatch(line); m != nil {
		frame, _ := strconv.Atoi(m[1])
		fps, _ := strconv.ParseFloat(m[2], 64)
		quality, _ := strconv.ParseFloat(m[3], 64)
		size, _ := strconv.Atoi(m[4])
		timeSeconds := hmsToSeconds(m[5], m[6], m[7])
		bitrate, _ := strconv.ParseFloat(m[8], 64)
		speed, _ := strconv.ParseFloat(m[9], 64)
		return &Stats{
			Frame:       frame,
			FPS:         fps,
			Quality:     quality,
			SizeKB:      size,
			TimeSeconds: timeSeconds,
			BitrateKbps: bitrate,
			Speed:       speed,
		}
	}

	stats := &Stats{}
	matched := false
	if m := frameRe.FindStringSubmatch(line); m != nil {
		stats.Frame, _ = strconv.Atoi(m[1])
		matched = true
	}
	if m := fpsRe.FindStringSubmatch(line); m != nil {
		stats.FPS, _ = strconv.ParseFloat(m[1], 64)
		matched = true
	}
	if m := qualityRe.FindStringSubmatch(line); m != nil {
		stats.Quality, _ = strconv.ParseFloat(m[1], 64)
		matched = true
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		stats.SizeKB, _ = strconv.Atoi(m[1])
		matched = true
	}
	if m := timeRe.FindStringSubmatch(line); m != nil {
		stats.TimeSeconds = hmsToSeconds(m[1], m[2], m[3])
		matched = true
	}
	if m := bitrateRe.FindStringSubmatch(line); m != nil {
		stats.BitrateKbps, _ = strconv.ParseFloat(m[1], 64)
		matched = true
	}
	if m := speedRe.FindStringSubmatch(line); m != nil {
		stats.Speed, _ = strconv.ParseFloat(m[1], 64)
		matched = true
	}
	if m := resolutionRe.FindStringSubmatch(line); m != nil {
		stats.Resolution = m[0]
		matched = true
	}
	if !matched {
		return nil
	}
	return stats
}

func hmsToSeconds(h, m, s string) float64 {
	hh, _ := strconv.ParseFloat(h, 64)
	mm, _ := strconv.ParseFloat(m, 64)
	ss, _ := strconv.ParseFloat(s, 64)
	return hh*3600 + mm*60 + ss
}

// Latest returns the most recently produced sample, or nil if samples is
// empty.
func Latest(samples []*Stats) *Stats {
	if len(samples) == 0 {
		return nil
	}
	return samples[len(samples)-1]
}

// Aggregate folds a sequence of samples into one: fps/bitrate/speed are
// arithmetic means, while frame/time/size/resolution/codec are carried
// forward from the latest sample rather than averaged.
func Aggregate(samples []*Stats) *Stats {
	if len(samples) == 0 {
		return nil
	}
	var fpsSum, bitrateSum, speedSum float64
	for _, s := range samples {
		fpsSum += s.FPS
		bitrateSum += s.BitrateKbps
		speedSum += s.Speed
	}
	n := float64(len(samples))
	latest := samples[len(samples)-1]
	return &Stats{
		Frame:       latest.Frame,
		FPS:         fpsSum / n,
		Quality:     latest.Quality,
		SizeKB:      latest.SizeKB,
		TimeSeconds: latest.TimeSeconds,
		BitrateKbps: bitrateSum / n,
		Speed:       speedSum / n,
		Resolution:  latest.Resolution,
		Codec:       latest.Codec,
	}
}
