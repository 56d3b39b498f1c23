package realtime

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// SampleRate 上行音频采样率（16bit 单声道 PCM）。
const SampleRate = 24000

// AudioStream 一路已经打开的音频输入。Read 返回实时的 PCM16 数据，
// 设备被拔出或权限被收回时返回错误。
type AudioStream interface {
	io.Reader
	// Release 停止采集并释放底层资源。可以在任意 goroutine 调用，幂等。
	Release()
}

// Capture 获取音频输入设备。
type Capture interface {
	Acquire(ctx context.Context) (AudioStream, error)
}

// DeviceCapture 通过外部录音工具采集麦克风，输出单声道 24kHz PCM16 裸流。
// 依次尝试 sox、arecord、ffmpeg。
type DeviceCapture struct {
	// Command 非空时强制使用指定工具（sox/arecord/ffmpeg），用于部署环境固定工具链。
	Command string
}

// NewDeviceCapture 创建系统麦克风采集器。
func NewDeviceCapture() *DeviceCapture {
	return &DeviceCapture{}
}

// Acquire 启动录音进程并返回它的输出流。没有可用工具或启动失败时
// 返回 ErrDeviceUnavailable。
func (d *DeviceCapture) Acquire(ctx context.Context) (AudioStream, error) {
	cmd, err := d.buildCommand(ctx)
	if err != nil {
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, cmd.Path, err)
	}

	return &processStream{cmd: cmd, out: stdout}, nil
}

func (d *DeviceCapture) buildCommand(ctx context.Context) (*exec.Cmd, error) {
	rate := strconv.Itoa(SampleRate)

	candidates := []string{"sox", "arecord", "ffmpeg"}
	if d.Command != "" {
		candidates = []string{d.Command}
	}

	for _, tool := range candidates {
		if _, err := exec.LookPath(tool); err != nil {
			continue
		}
		switch tool {
		case "sox":
			return exec.CommandContext(ctx, "sox",
				"-q", "-d",
				"-t", "raw", "-b", "16", "-e", "signed-integer",
				"-r", rate, "-c", "1", "-",
			), nil
		case "arecord":
			return exec.CommandContext(ctx, "arecord",
				"-q",
				"-D", "default",
				"-f", "S16_LE",
				"-c", "1",
				"-r", rate,
				"-t", "raw",
			), nil
		case "ffmpeg":
			return exec.CommandContext(ctx, "ffmpeg",
				"-loglevel", "quiet",
				"-f", "pulse", "-i", "default",
				"-ar", rate, "-ac", "1",
				"-f", "s16le", "-",
			), nil
		}
	}

	return nil, fmt.Errorf("%w: no recording tool found (tried sox, arecord, ffmpeg)", ErrDeviceUnavailable)
}

// processStream 包装录音子进程，Release 之后 Read 返回 io.EOF 或管道错误。
type processStream struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
}

func (p *processStream) Read(buf []byte) (int, error) {
	return p.out.Read(buf)
}

func (p *processStream) Release() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.out.Close()
		p.cmd.Wait()
	})
}
