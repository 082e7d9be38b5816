// Package decode drives ffmpeg/ffprobe as subprocesses to read back an
// already-recorded event video for offline re-analysis, independent of the
// shared-memory live path.
package decode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aidect/zmsidecar/internal/imaging"
)

// VideoProperties is the subset of ffprobe's stream description this
// package needs to drive ffmpeg's raw output.
type VideoProperties struct {
	CodecName    string `json:"codec_name"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

type probeOutput struct {
	Streams []VideoProperties `json:"streams"`
}

// FPS parses the "num/den" avg_frame_rate ffprobe reports into a float.
func (p VideoProperties) FPS() (float64, error) {
	num, den, ok := strings.Cut(p.AvgFrameRate, "/")
	if !ok {
		return 0, fmt.Errorf("decode: malformed avg_frame_rate %q", p.AvgFrameRate)
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("decode: parse avg_frame_rate numerator: %w", err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("decode: parse avg_frame_rate denominator: %w", err)
	}
	if d == 0 {
		return 0, fmt.Errorf("decode: avg_frame_rate denominator is zero")
	}
	return n / d, nil
}

func (p VideoProperties) String() string {
	fps, _ := p.FPS()
	return fmt.Sprintf("%dx%d %.1f fps (%s)", p.Width, p.Height, fps, p.CodecName)
}

// execCommandContext builds the ffprobe and ffmpeg subprocesses; it is a
// variable holding exec.CommandContext so tests can substitute it.
var execCommandContext = exec.CommandContext

// Properties runs ffprobe against path and returns its first video
// stream's properties.
func Properties(ctx context.Context, path string) (VideoProperties, error) {
	cmd := execCommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return VideoProperties{}, fmt.Errorf("decode: ffprobe failed: %w: %s", err, stderr.String())
	}

	var parsed probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return VideoProperties{}, fmt.Errorf("decode: parse ffprobe output: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return VideoProperties{}, fmt.Errorf("decode: ffprobe reported no video streams for %s", path)
	}
	return parsed.Streams[0], nil
}

// FrameStream reads successive rgb24 frames from an ffmpeg subprocess
// transcoding a recorded event video at a fixed size and rate.
type FrameStream struct {
	width, height int
	cmd           *exec.Cmd
	stdout        io.ReadCloser
}

// StreamFile spawns ffmpeg to decode path into raw rgb24 frames at the
// given size and rate, matching the host's recorded resolution so the
// detector sees the same geometry as the live path.
func StreamFile(ctx context.Context, path string, width, height int, frameRate float64) (*FrameStream, error) {
	videoSize := fmt.Sprintf("%dx%d", width, height)
	cmd := execCommandContext(ctx, "ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s:v", videoSize,
		"-sws_flags", "neighbor",
		"-r", strconv.FormatFloat(frameRate, 'f', -1, 64),
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("decode: attach ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("decode: start ffmpeg: %w", err)
	}

	return &FrameStream{width: width, height: height, cmd: cmd, stdout: stdout}, nil
}

// Next reads exactly one rgb24 frame. It returns io.EOF once ffmpeg's
// output is exhausted.
func (f *FrameStream) Next() (imaging.Image, error) {
	frameSize := f.width * f.height * 3
	buf := make([]byte, frameSize)
	if _, err := io.ReadFull(f.stdout, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return imaging.Image{}, err
	}
	return imaging.Image{Width: f.width, Height: f.height, Format: imaging.RGB, Pixels: buf}, nil
}

// Close waits for the ffmpeg subprocess to exit.
func (f *FrameStream) Close() error {
	_ = f.stdout.Close()
	return f.cmd.Wait()
}
