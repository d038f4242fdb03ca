package resolver

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/kkdai/youtube/v2"

	"github.com/MrWong99/cadenza/pkg/audio"
)

// PCM output contract shared with the transport layer.
const (
	pcmSampleRate = 48000
	pcmChannels   = 2
)

// youtubeSource is a lazy [audio.Source] for a YouTube watch URL. Nothing is
// fetched until Open is called; Open downloads the best audio format and
// transcodes it to signed 16-bit little-endian PCM through an ffmpeg child
// process.
type youtubeSource struct {
	url    string
	client *youtube.Client
}

func newYouTubeSource(url string) *youtubeSource {
	return &youtubeSource{url: url, client: &youtube.Client{}}
}

// Open starts the download and transcode pipeline and returns the PCM stream.
// The returned reader must be closed to reap the ffmpeg process.
func (s *youtubeSource) Open(ctx context.Context) (io.ReadCloser, error) {
	video, err := s.client.GetVideoContext(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetch video %q: %w", s.url, err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, fmt.Errorf("resolver: video %q has no audio formats", s.url)
	}
	formats.Sort()

	stream, _, err := s.client.GetStreamContext(ctx, video, &formats[0])
	if err != nil {
		return nil, fmt.Errorf("resolver: open stream for %q: %w", s.url, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(pcmSampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"pipe:1",
	)
	cmd.Stdin = stream
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("resolver: ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("resolver: start ffmpeg: %w", err)
	}

	return &pcmStream{out: stdout, upstream: stream, cmd: cmd}, nil
}

var _ audio.Source = (*youtubeSource)(nil)

// pcmStream reads transcoded PCM from the ffmpeg child process and tears the
// whole pipeline down on Close.
type pcmStream struct {
	out      io.ReadCloser
	upstream io.ReadCloser
	cmd      *exec.Cmd
}

func (p *pcmStream) Read(buf []byte) (int, error) {
	return p.out.Read(buf)
}

// Close stops the transcode, closes the upstream download and reaps the child
// process. Safe to call while a Read is blocked.
func (p *pcmStream) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.upstream.Close()
	err := p.out.Close()
	_ = p.cmd.Wait()
	return err
}
