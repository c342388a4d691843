package capability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// FFmpeg implements pipeline.MediaProcessor by running the ffmpeg binary.
type FFmpeg struct {
	bin       string
	threshold float64
	logger    *slog.Logger
}

// NewFFmpeg creates a media processor. threshold is the scene change score
// (0..1) above which a frame starts a new scene.
func NewFFmpeg(bin string, threshold float64, logger *slog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{bin: bin, threshold: threshold, logger: logger.With("component", "ffmpeg")}
}

// Check verifies the binary can be executed.
func (f *FFmpeg) Check(ctx context.Context) error {
	if _, err := f.run(ctx, "-hide_banner", "-version"); err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}
	return nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, inputPath, outDir string) (string, error) {
	out := filepath.Join(outDir, "audio.wav")
	if _, err := f.run(ctx, extractAudioArgs(inputPath, out)...); err != nil {
		return "", fmt.Errorf("extract audio: %w", err)
	}
	return out, nil
}

func (f *FFmpeg) DetectScenes(ctx context.Context, videoPath string) ([]pipeline.Scene, error) {
	stderr, err := f.run(ctx, sceneArgs(videoPath, f.threshold)...)
	if err != nil {
		return nil, fmt.Errorf("detect scenes: %w", err)
	}
	scenes := scenesFromTimes(parseSceneTimes(stderr), parseDuration(stderr))
	f.logger.Debug("detected scenes", "path", videoPath, "scenes", len(scenes))
	return scenes, nil
}

func (f *FFmpeg) ExtractKeyframes(ctx context.Context, videoPath string, scenes []pipeline.Scene, outDir string) ([]pipeline.Scene, error) {
	var out []pipeline.Scene
	var lastErr error
	for _, s := range scenes {
		frame := filepath.Join(outDir, fmt.Sprintf("frame_%d.jpg", s.Index))
		if _, err := f.run(ctx, keyframeArgs(videoPath, keyframeTime(s), frame)...); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			f.logger.Warn("keyframe extraction failed", "scene", s.Index, "error", err)
			continue
		}
		s.KeyframePath = frame
		out = append(out, s)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("extract keyframes: %w", lastErr)
	}
	return out, nil
}

// run executes ffmpeg and returns its stderr, where progress and filter
// output are written.
func (f *FFmpeg) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, lastLines(stderr.String(), 3))
	}
	return stderr.String(), nil
}

func extractAudioArgs(in, out string) []string {
	return []string{"-hide_banner", "-y", "-i", in, "-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", out}
}

func sceneArgs(in string, threshold float64) []string {
	filter := fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(threshold, 'f', -1, 64))
	return []string{"-hide_banner", "-i", in, "-filter:v", filter, "-an", "-f", "null", "-"}
}

func keyframeArgs(in string, at float64, out string) []string {
	return []string{"-hide_banner", "-y", "-ss", strconv.FormatFloat(at, 'f', 3, 64), "-i", in, "-frames:v", "1", "-q:v", "2", out}
}

// keyframeTime picks a frame just after the cut so transitions are skipped.
func keyframeTime(s pipeline.Scene) float64 {
	if s.End > s.Start {
		return s.Start + min(1, (s.End-s.Start)/2)
	}
	return s.Start
}

var (
	ptsTime      = regexp.MustCompile(`pts_time:\s*([0-9]+(?:\.[0-9]+)?)`)
	durationLine = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// parseSceneTimes reads the cut times printed by the showinfo filter.
func parseSceneTimes(stderr string) []float64 {
	var times []float64
	for _, m := range ptsTime.FindAllStringSubmatch(stderr, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			times = append(times, v)
		}
	}
	sort.Float64s(times)
	return times
}

// parseDuration reads the input duration in seconds, or 0 when absent.
func parseDuration(stderr string) float64 {
	m := durationLine.FindStringSubmatch(stderr)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + secs
}

// scenesFromTimes turns cut times into scenes. The opening scene always
// starts at 0 and each scene ends where the next begins.
func scenesFromTimes(cuts []float64, total float64) []pipeline.Scene {
	starts := []float64{0}
	for _, c := range cuts {
		if c-starts[len(starts)-1] >= 0.5 {
			starts = append(starts, c)
		}
	}

	scenes := make([]pipeline.Scene, len(starts))
	for i, s := range starts {
		end := total
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		scenes[i] = pipeline.Scene{Index: i, Start: s, End: end}
	}
	return scenes
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
